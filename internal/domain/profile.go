package domain

import "time"

// Profile es el registro persistente que une una identidad externa con los
// datos propios de la aplicación. external_id se asigna una sola vez al crear
// y nunca se muta.
type Profile struct {
	InternalID    string      `json:"internal_id"`
	ExternalID    string      `json:"external_id"`
	Email         string      `json:"email"`
	DisplayName   string      `json:"display_name,omitempty"`
	AvatarURL     string      `json:"avatar_url,omitempty"`
	Provider      string      `json:"provider"`
	EmailVerified bool        `json:"email_verified"`
	CreatedAt     time.Time   `json:"created_at"`
	LastLoginAt   time.Time   `json:"last_login_at"`
	Onboarding    *Onboarding `json:"onboarding,omitempty"`
}

// Onboarding agrupa los atributos de completitud de perfil. Se crea vacío
// junto con el perfil y solo lo muta la ruta de onboarding.
type Onboarding struct {
	Tags            []string  `json:"tags"`
	ExperienceLevel string    `json:"experience_level,omitempty"`
	Completed       bool      `json:"completed"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProfileOverrides son campos opcionales enviados por el cliente al crear un
// perfil. Tienen precedencia sobre los claims del token.
type ProfileOverrides struct {
	DisplayName *string `json:"name,omitempty"`
	AvatarURL   *string `json:"profile_picture,omitempty"`
}

// ProfileUpdate describe una actualización parcial: los campos nil quedan
// intactos.
type ProfileUpdate struct {
	DisplayName     *string   `json:"name,omitempty"`
	AvatarURL       *string   `json:"profile_picture,omitempty"`
	Tags            *[]string `json:"tags,omitempty"`
	ExperienceLevel *string   `json:"experience_level,omitempty"`
	Completed       *bool     `json:"onboarding_completed,omitempty"`
}

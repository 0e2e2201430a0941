package domain

// Claims representa la identidad normalizada extraída de un token verificado.
// Es efímera: se produce por request y nunca se persiste tal cual.
type Claims struct {
	ExternalID    string `json:"external_id"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	SignInMethod  string `json:"sign_in_method"`
}

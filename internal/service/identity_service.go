package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"identity-bridge/internal/domain"
	"identity-bridge/internal/repository"
)

var (
	ErrEmailMissing    = errors.New("email missing")
	ErrProfileNotFound = errors.New("profile not found")
	ErrCreateFailed    = errors.New("profile create failed")
)

// IdentityService reconcilia claims verificados contra el store de perfiles:
// lee por external_id, crea en la primera visita y refresca last_login_at en
// las siguientes.
type IdentityService struct {
	logger   *zap.Logger
	profiles repository.ProfileRepository
}

func NewIdentityService(logger *zap.Logger, profiles repository.ProfileRepository) *IdentityService {
	return &IdentityService{
		logger:   logger,
		profiles: profiles,
	}
}

// Reconcile resuelve claims a un perfil persistido. Devuelve el perfil y si
// fue recién creado. Un login sobre un perfil existente solo refresca
// last_login_at: email, nombre y avatar nunca se pisan desde el token.
func (s *IdentityService) Reconcile(ctx context.Context, claims domain.Claims, overrides *domain.ProfileOverrides) (domain.Profile, bool, error) {
	if claims.ExternalID == "" {
		return domain.Profile{}, false, fmt.Errorf("%w: external id required", ErrCreateFailed)
	}

	profile, err := s.profiles.GetByExternalID(ctx, claims.ExternalID)
	if err == nil {
		now := time.Now().UTC()
		if err := s.profiles.TouchLastLogin(ctx, profile.InternalID, now); err != nil {
			return domain.Profile{}, false, fmt.Errorf("touch last login: %w", err)
		}
		profile.LastLoginAt = now
		return profile, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, false, fmt.Errorf("lookup profile: %w", err)
	}

	if claims.Email == "" {
		return domain.Profile{}, false, ErrEmailMissing
	}

	now := time.Now().UTC()
	profile = domain.Profile{
		InternalID:    uuid.NewString(),
		ExternalID:    claims.ExternalID,
		Email:         claims.Email,
		DisplayName:   claims.DisplayName,
		AvatarURL:     claims.AvatarURL,
		Provider:      claims.SignInMethod,
		EmailVerified: claims.EmailVerified,
		CreatedAt:     now,
		LastLoginAt:   now,
		Onboarding: &domain.Onboarding{
			Tags:      []string{},
			UpdatedAt: now,
		},
	}
	// Precedencia al crear: campo explícito del request > claim del token >
	// default vacío.
	if overrides != nil {
		if overrides.DisplayName != nil {
			profile.DisplayName = *overrides.DisplayName
		}
		if overrides.AvatarURL != nil {
			profile.AvatarURL = *overrides.AvatarURL
		}
	}

	if err := s.profiles.Insert(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicateExternalID) {
			// Perdimos la carrera de creación concurrente; la restricción
			// UNIQUE es la única defensa contra filas duplicadas.
			s.logger.Warn("concurrent create lost race", zap.String("external_id", claims.ExternalID))
			return domain.Profile{}, false, fmt.Errorf("%w: %v", ErrCreateFailed, err)
		}
		return domain.Profile{}, false, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	if err := s.profiles.InsertOnboarding(ctx, profile.InternalID, *profile.Onboarding); err != nil {
		// Borrado compensatorio best-effort de la fila base para no dejar
		// una identidad huérfana sin registro extendido.
		if delErr := s.profiles.DeleteByInternalID(ctx, profile.InternalID); delErr != nil {
			s.logger.Error("compensating delete failed",
				zap.String("external_id", claims.ExternalID),
				zap.Error(delErr),
			)
		}
		return domain.Profile{}, false, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	return profile, true, nil
}

// Get devuelve el perfil para un external_id ya existente; nunca crea.
func (s *IdentityService) Get(ctx context.Context, externalID string) (domain.Profile, error) {
	profile, err := s.profiles.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, ErrProfileNotFound
		}
		return domain.Profile{}, fmt.Errorf("lookup profile: %w", err)
	}
	return profile, nil
}

// UpdateProfile aplica una edición parcial de nombre y avatar. Los campos no
// enviados quedan intactos.
func (s *IdentityService) UpdateProfile(ctx context.Context, externalID string, update domain.ProfileUpdate) (domain.Profile, error) {
	profile, err := s.Get(ctx, externalID)
	if err != nil {
		return domain.Profile{}, err
	}

	if update.DisplayName != nil {
		profile.DisplayName = *update.DisplayName
	}
	if update.AvatarURL != nil {
		profile.AvatarURL = *update.AvatarURL
	}

	if err := s.profiles.UpdateProfile(ctx, profile.InternalID, profile.DisplayName, profile.AvatarURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, ErrProfileNotFound
		}
		return domain.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return profile, nil
}

// UpdateOnboarding aplica una actualización parcial de los campos de
// onboarding. Si una fila vieja no tiene registro extendido, lo rellena con
// defaults en lugar de fallar.
func (s *IdentityService) UpdateOnboarding(ctx context.Context, externalID string, update domain.ProfileUpdate) (domain.Profile, error) {
	profile, err := s.Get(ctx, externalID)
	if err != nil {
		return domain.Profile{}, err
	}

	onboarding := profile.Onboarding
	if onboarding == nil {
		onboarding = &domain.Onboarding{Tags: []string{}}
	}
	if update.Tags != nil {
		onboarding.Tags = *update.Tags
	}
	if update.ExperienceLevel != nil {
		onboarding.ExperienceLevel = *update.ExperienceLevel
	}
	if update.Completed != nil {
		onboarding.Completed = *update.Completed
	}
	onboarding.UpdatedAt = time.Now().UTC()

	if err := s.profiles.UpsertOnboarding(ctx, profile.InternalID, *onboarding); err != nil {
		return domain.Profile{}, fmt.Errorf("upsert onboarding: %w", err)
	}
	profile.Onboarding = onboarding
	return profile, nil
}

// Delete borra el perfil solo de este store. La cuenta en el proveedor de
// identidad queda intacta; revocarla es responsabilidad del caller.
func (s *IdentityService) Delete(ctx context.Context, externalID string) error {
	if err := s.profiles.DeleteByExternalID(ctx, externalID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

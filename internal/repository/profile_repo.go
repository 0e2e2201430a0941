package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"identity-bridge/internal/domain"
)

// ErrDuplicateExternalID indica que otro insert ganó la carrera por el mismo
// external_id; lo detiene la restricción UNIQUE del esquema.
var ErrDuplicateExternalID = errors.New("duplicate external id")

// ProfileRepository define el contrato de persistencia para perfiles.
type ProfileRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (domain.Profile, error)
	Insert(ctx context.Context, profile domain.Profile) error
	InsertOnboarding(ctx context.Context, internalID string, onboarding domain.Onboarding) error
	DeleteByInternalID(ctx context.Context, internalID string) error
	TouchLastLogin(ctx context.Context, internalID string, at time.Time) error
	UpdateProfile(ctx context.Context, internalID, displayName, avatarURL string) error
	UpsertOnboarding(ctx context.Context, internalID string, onboarding domain.Onboarding) error
	DeleteByExternalID(ctx context.Context, externalID string) error
	DeleteOrphans(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PgProfileRepository implementa ProfileRepository usando pgxpool.
type PgProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPgProfileRepository(pool *pgxpool.Pool) *PgProfileRepository {
	return &PgProfileRepository{pool: pool}
}

func (r *PgProfileRepository) GetByExternalID(ctx context.Context, externalID string) (domain.Profile, error) {
	const query = `
		SELECT u.id, u.external_id, u.email, u.display_name, u.avatar_url,
		       u.provider, u.email_verified, u.created_at, u.last_login_at,
		       o.tags, o.experience_level, o.completed, o.updated_at
		FROM users u
		LEFT JOIN user_onboarding o ON o.user_id = u.id
		WHERE u.external_id = $1
	`
	var (
		p         domain.Profile
		tags      *[]string
		level     *string
		completed *bool
		obUpdated *time.Time
	)
	err := r.pool.QueryRow(ctx, query, externalID).Scan(
		&p.InternalID,
		&p.ExternalID,
		&p.Email,
		&p.DisplayName,
		&p.AvatarURL,
		&p.Provider,
		&p.EmailVerified,
		&p.CreatedAt,
		&p.LastLoginAt,
		&tags,
		&level,
		&completed,
		&obUpdated,
	)
	if err != nil {
		return domain.Profile{}, err
	}
	// Filas viejas pueden no tener registro de onboarding; el servicio lo
	// rellena en la ruta de onboarding.
	if obUpdated != nil {
		p.Onboarding = &domain.Onboarding{
			Tags:            *tags,
			ExperienceLevel: *level,
			Completed:       *completed,
			UpdatedAt:       *obUpdated,
		}
	}
	return p, nil
}

func (r *PgProfileRepository) Insert(ctx context.Context, profile domain.Profile) error {
	const query = `
		INSERT INTO users (id, external_id, email, display_name, avatar_url,
		                   provider, email_verified, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		profile.InternalID,
		profile.ExternalID,
		profile.Email,
		profile.DisplayName,
		profile.AvatarURL,
		profile.Provider,
		profile.EmailVerified,
		profile.CreatedAt,
		profile.LastLoginAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateExternalID
	}
	return err
}

func (r *PgProfileRepository) InsertOnboarding(ctx context.Context, internalID string, onboarding domain.Onboarding) error {
	const query = `
		INSERT INTO user_onboarding (user_id, tags, experience_level, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		internalID,
		onboarding.Tags,
		onboarding.ExperienceLevel,
		onboarding.Completed,
		onboarding.UpdatedAt,
	)
	return err
}

func (r *PgProfileRepository) DeleteByInternalID(ctx context.Context, internalID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, internalID)
	return err
}

func (r *PgProfileRepository) TouchLastLogin(ctx context.Context, internalID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, internalID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgProfileRepository) UpdateProfile(ctx context.Context, internalID, displayName, avatarURL string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET display_name = $2, avatar_url = $3 WHERE id = $1`,
		internalID, displayName, avatarURL,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgProfileRepository) UpsertOnboarding(ctx context.Context, internalID string, onboarding domain.Onboarding) error {
	const query = `
		INSERT INTO user_onboarding (user_id, tags, experience_level, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET tags = EXCLUDED.tags,
		    experience_level = EXCLUDED.experience_level,
		    completed = EXCLUDED.completed,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		internalID,
		onboarding.Tags,
		onboarding.ExperienceLevel,
		onboarding.Completed,
		onboarding.UpdatedAt,
	)
	return err
}

func (r *PgProfileRepository) DeleteByExternalID(ctx context.Context, externalID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE external_id = $1`, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteOrphans borra filas base sin registro de onboarding más viejas que el
// umbral. Cubre el doble fallo insert-más-delete-compensatorio de una
// creación parcial.
func (r *PgProfileRepository) DeleteOrphans(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
		DELETE FROM users u
		WHERE NOT EXISTS (SELECT 1 FROM user_onboarding o WHERE o.user_id = u.id)
		  AND u.created_at < $1
	`
	tag, err := r.pool.Exec(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id uuid PRIMARY KEY,
    external_id text NOT NULL,
    email text NOT NULL,
    display_name text NOT NULL DEFAULT '',
    avatar_url text NOT NULL DEFAULT '',
    provider text NOT NULL DEFAULT 'email',
    email_verified boolean NOT NULL DEFAULT false,
    created_at timestamptz NOT NULL,
    last_login_at timestamptz NOT NULL,
    CONSTRAINT users_external_id_unique UNIQUE (external_id)
);

CREATE TABLE IF NOT EXISTS user_onboarding (
    user_id uuid PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    tags text[] NOT NULL DEFAULT '{}',
    experience_level text NOT NULL DEFAULT '',
    completed boolean NOT NULL DEFAULT false,
    updated_at timestamptz NOT NULL
);
`

// Migrate aplica el esquema idempotente al arrancar. La restricción UNIQUE
// sobre external_id es la única defensa contra creaciones concurrentes
// duplicadas, no un detalle opcional.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

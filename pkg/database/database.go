package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Credential lookups are short point queries; a small pool is enough.
	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrations returns the schema statements in the order they are applied.
func Migrations() []string {
	return []string{
		// One provider credential per user. Plaintext is never stored.
		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL UNIQUE,
			encrypted_key TEXT NOT NULL,
			iv TEXT NOT NULL,
			auth_tag TEXT NOT NULL,
			key_hint VARCHAR(16) NOT NULL,
			is_valid BOOLEAN NOT NULL DEFAULT true,
			last_used_at TIMESTAMPTZ,
			last_validated_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// Columns added after the first release
		`ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS last_validated_at TIMESTAMPTZ;`,
		`ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW();`,
	}
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	for i, migration := range Migrations() {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albertohelena/rdpwizard/internal/models"
	"github.com/albertohelena/rdpwizard/pkg/database"
)

// ErrNoCredential is returned when a user has no stored provider key.
var ErrNoCredential = errors.New("no API key configured")

// CredentialStore persists one sealed credential per user.
type CredentialStore interface {
	Get(ctx context.Context, userID string) (*models.Credential, error)
	// Upsert replaces any existing row for the user in a single statement.
	Upsert(ctx context.Context, cred *models.Credential) (*models.Credential, error)
	Delete(ctx context.Context, userID string) error
	TouchLastUsed(ctx context.Context, userID string, at time.Time) error
}

// PostgresCredentialStore stores credentials in the api_keys table.
type PostgresCredentialStore struct {
	db *database.DB
}

func NewPostgresCredentialStore(db *database.DB) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

const credentialColumns = `id::text, user_id, encrypted_key, iv, auth_tag, key_hint, is_valid,
	last_used_at, last_validated_at, created_at, updated_at`

func scanCredential(row pgx.Row) (*models.Credential, error) {
	var c models.Credential
	err := row.Scan(
		&c.ID, &c.UserID, &c.EncryptedKey, &c.IV, &c.AuthTag, &c.KeyHint, &c.IsValid,
		&c.LastUsedAt, &c.LastValidatedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresCredentialStore) Get(ctx context.Context, userID string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM api_keys WHERE user_id = $1`

	cred, err := scanCredential(s.db.Pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, nil
}

func (s *PostgresCredentialStore) Upsert(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	query := `
		INSERT INTO api_keys (user_id, encrypted_key, iv, auth_tag, key_hint, is_valid, last_validated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			encrypted_key = EXCLUDED.encrypted_key,
			iv = EXCLUDED.iv,
			auth_tag = EXCLUDED.auth_tag,
			key_hint = EXCLUDED.key_hint,
			is_valid = EXCLUDED.is_valid,
			last_validated_at = EXCLUDED.last_validated_at,
			last_used_at = NULL,
			updated_at = NOW()
		RETURNING ` + credentialColumns

	saved, err := scanCredential(s.db.Pool.QueryRow(ctx, query,
		cred.UserID, cred.EncryptedKey, cred.IV, cred.AuthTag, cred.KeyHint, cred.IsValid, cred.LastValidatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}
	return saved, nil
}

func (s *PostgresCredentialStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.Pool.Exec(ctx, `DELETE FROM api_keys WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *PostgresCredentialStore) TouchLastUsed(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.Pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE user_id = $1`, userID, at); err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	return nil
}

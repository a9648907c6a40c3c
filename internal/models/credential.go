package models

import (
	"time"
)

// Credential is a stored provider API key. The key itself is only ever held
// sealed; see crypto.Vault.
type Credential struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	EncryptedKey    string     `json:"-"`
	IV              string     `json:"-"`
	AuthTag         string     `json:"-"`
	KeyHint         string     `json:"key_hint"`
	IsValid         bool       `json:"is_valid"`
	LastUsedAt      *time.Time `json:"last_used_at"` // Pointer to handle NULL
	LastValidatedAt *time.Time `json:"last_validated_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CredentialStatus is what a user may see about their stored credential.
type CredentialStatus struct {
	HasKey          bool       `json:"hasKey"`
	Hint            string     `json:"hint,omitempty"`
	IsValid         *bool      `json:"isValid,omitempty"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
}

// Status projects c into its client-safe form. A nil credential means none is stored.
func (c *Credential) Status() CredentialStatus {
	if c == nil {
		return CredentialStatus{HasKey: false}
	}
	valid := c.IsValid
	created := c.CreatedAt
	return CredentialStatus{
		HasKey:          true,
		Hint:            c.KeyHint,
		IsValid:         &valid,
		LastUsedAt:      c.LastUsedAt,
		LastValidatedAt: c.LastValidatedAt,
		CreatedAt:       &created,
	}
}

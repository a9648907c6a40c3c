package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/albertohelena/rdpwizard/internal/metrics"
	"github.com/albertohelena/rdpwizard/internal/models"
	"github.com/albertohelena/rdpwizard/pkg/crypto"
	"github.com/albertohelena/rdpwizard/pkg/openai"
)

// KeyValidator probes a candidate provider key.
type KeyValidator interface {
	Validate(ctx context.Context, apiKey string) openai.ProbeResult
}

// InvalidCredentialError is returned when the provider rejects a candidate key.
type InvalidCredentialError struct {
	Probe openai.ProbeResult
}

func (e *InvalidCredentialError) Error() string {
	return e.Probe.Message
}

// CredentialService registers and resolves users' provider keys.
type CredentialService struct {
	store     CredentialStore
	vault     *crypto.Vault
	validator KeyValidator
	metrics   *metrics.Metrics

	now          func() time.Time
	touchTimeout time.Duration
	pending      sync.WaitGroup
}

func NewCredentialService(store CredentialStore, vault *crypto.Vault, validator KeyValidator, m *metrics.Metrics) *CredentialService {
	return &CredentialService{
		store:        store,
		vault:        vault,
		validator:    validator,
		metrics:      m,
		now:          time.Now,
		touchTimeout: 5 * time.Second,
	}
}

// Register validates apiKey against the provider and, if usable, stores it
// sealed in place of any previous key. Nothing is stored for a rejected key.
func (s *CredentialService) Register(ctx context.Context, userID, apiKey string) (*models.Credential, error) {
	probe := s.validator.Validate(ctx, apiKey)
	if !probe.Valid() {
		s.metrics.CredentialRegistered(string(probe.Status))
		log.Info().Str("user_id", userID).Str("status", string(probe.Status)).Msg("Rejected API key registration")
		return nil, &InvalidCredentialError{Probe: probe}
	}

	sealed, err := s.vault.Encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal credential: %w", err)
	}

	validatedAt := s.now()
	saved, err := s.store.Upsert(ctx, &models.Credential{
		UserID:          userID,
		EncryptedKey:    sealed.Ciphertext,
		IV:              sealed.IV,
		AuthTag:         sealed.Tag,
		KeyHint:         crypto.Hint(apiKey),
		IsValid:         true,
		LastValidatedAt: &validatedAt,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CredentialRegistered(string(openai.ProbeValid))
	log.Info().Str("user_id", userID).Str("hint", saved.KeyHint).Msg("API key registered")
	return saved, nil
}

// Resolve returns the decrypted key for userID and records its use in the
// background. Errors wrap ErrNoCredential or crypto.ErrIntegrity.
func (s *CredentialService) Resolve(ctx context.Context, userID string) (string, error) {
	cred, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}

	apiKey, err := s.vault.Decrypt(crypto.Sealed{
		Ciphertext: cred.EncryptedKey,
		IV:         cred.IV,
		Tag:        cred.AuthTag,
	})
	if err != nil {
		return "", fmt.Errorf("credential for user %s: %w", userID, err)
	}

	s.touchAsync(userID)
	return apiKey, nil
}

// touchAsync updates last_used_at without holding up the caller. Failures
// are logged and counted only.
func (s *CredentialService) touchAsync(userID string) {
	at := s.now()
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.touchTimeout)
		defer cancel()

		if err := s.store.TouchLastUsed(ctx, userID, at); err != nil {
			s.metrics.TouchFailed()
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to record API key usage")
		}
	}()
}

// Status returns the client-safe view of the user's credential.
func (s *CredentialService) Status(ctx context.Context, userID string) (models.CredentialStatus, error) {
	cred, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNoCredential) {
		return models.CredentialStatus{HasKey: false}, nil
	}
	if err != nil {
		return models.CredentialStatus{}, err
	}
	return cred.Status(), nil
}

// Delete removes the user's credential. Deleting a missing credential succeeds.
func (s *CredentialService) Delete(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Msg("API key deleted")
	return nil
}

// Wait blocks until background usage updates have finished.
func (s *CredentialService) Wait() {
	s.pending.Wait()
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/albertohelena/rdpwizard/internal/config"
	"github.com/albertohelena/rdpwizard/internal/metrics"
	"github.com/albertohelena/rdpwizard/internal/models"
	"github.com/albertohelena/rdpwizard/internal/services"
)

// CredentialManager stores and reports a user's provider key.
type CredentialManager interface {
	Register(ctx context.Context, userID, apiKey string) (*models.Credential, error)
	Status(ctx context.Context, userID string) (models.CredentialStatus, error)
	Delete(ctx context.Context, userID string) error
}

type KeyHandler struct {
	creds   CredentialManager
	limiter RateChecker
	cfg     *config.Config
	metrics *metrics.Metrics
}

func NewKeyHandler(creds CredentialManager, limiter RateChecker, cfg *config.Config, m *metrics.Metrics) *KeyHandler {
	return &KeyHandler{
		creds:   creds,
		limiter: limiter,
		cfg:     cfg,
		metrics: m,
	}
}

type registeredKey struct {
	Hint    string `json:"hint"`
	IsValid bool   `json:"isValid"`
}

// RegisterKey validates a provider key and stores it encrypted
func (h *KeyHandler) RegisterKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := admit(w, r, h.limiter, h.cfg, h.metrics, config.ActionCredentials)
	if !ok {
		return
	}

	var input registerCredentialRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeInvalidInput(w, fieldErrors{"body": {err.Error()}})
		return
	}
	if errs := input.validate(); len(errs) > 0 {
		writeInvalidInput(w, errs)
		return
	}

	saved, err := h.creds.Register(r.Context(), userID, input.APIKey)
	if err != nil {
		var invalid *services.InvalidCredentialError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to register key")
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"data": registeredKey{Hint: saved.KeyHint, IsValid: true},
	})
}

// GetKey reports whether the user has a key, without revealing it
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	status, err := h.creds.Status(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load key status")
		writeInternalError(w)
		return
	}

	var data *models.CredentialStatus
	if status.HasKey {
		data = &status
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   data,
		"hasKey": status.HasKey,
	})
}

// DeleteKey removes the user's key
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.creds.Delete(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to delete key")
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/albertohelena/rdpwizard/internal/config"
	"github.com/albertohelena/rdpwizard/internal/metrics"
	"github.com/albertohelena/rdpwizard/internal/prompts"
	"github.com/albertohelena/rdpwizard/internal/services"
	"github.com/albertohelena/rdpwizard/pkg/crypto"
	"github.com/albertohelena/rdpwizard/pkg/openai"
	"github.com/albertohelena/rdpwizard/pkg/ratelimit"
)

const (
	msgNoCredential    = "No API key configured. Please add your OpenAI API key in Settings."
	msgRateLimited     = "Rate limit exceeded. Please try again later."
	msgStreamTimeout   = "Generation took too long and was stopped"
	msgProviderAuth    = "The AI provider rejected your API key. Please update it in Settings."
	msgProviderQuota   = "The AI provider quota or rate limit was exceeded. Please check your OpenAI plan and try again later."
	msgProviderNetwork = "Failed to reach the AI provider"
)

// RateChecker records a request against a per-user, per-action limit.
type RateChecker interface {
	Check(ctx context.Context, userID, action string, maxRequests, windowSeconds int) (ratelimit.Result, error)
}

// CredentialResolver returns a user's decrypted provider key.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// Generator opens a streaming completion.
type Generator interface {
	Stream(ctx context.Context, req openai.CompletionRequest) (<-chan openai.StreamEvent, error)
}

// generationRequest is a validated AI endpoint body.
type generationRequest interface {
	validate() fieldErrors
	completion() openai.CompletionRequest
}

func (r *improveIdeaRequest) completion() openai.CompletionRequest {
	return openai.CompletionRequest{
		SystemPrompt: prompts.ImproveIdea,
		UserMessage:  prompts.ImproveIdeaMessage(r.Idea),
		Temperature:  0.7,
		MaxTokens:    2048,
	}
}

func (r *generateDocumentRequest) completion() openai.CompletionRequest {
	return openai.CompletionRequest{
		SystemPrompt: prompts.Document,
		UserMessage:  prompts.DocumentMessage(r.Idea),
		Temperature:  0.6,
		MaxTokens:    4096,
	}
}

func (r *generateFollowupRequest) completion() openai.CompletionRequest {
	return openai.CompletionRequest{
		SystemPrompt: prompts.Followup,
		UserMessage:  prompts.FollowupMessage(r.ProjectTitle, r.PRD),
		Temperature:  0.5,
		MaxTokens:    8192,
	}
}

// admit authenticates the request and applies the action's rate limit. It
// writes the rejection itself and returns false when the request must stop.
func admit(w http.ResponseWriter, r *http.Request, limiter RateChecker, cfg *config.Config, m *metrics.Metrics, action string) (string, bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}

	limit := cfg.RateLimitFor(action)
	res, err := limiter.Check(r.Context(), userID, action, limit.Max, limit.WindowSeconds)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("action", action).Msg("Rate limiter unavailable")
		writeInternalError(w)
		return "", false
	}
	if !res.Allowed {
		m.RateLimitHit(action)
		w.Header().Set("Retry-After", fmt.Sprint(res.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: msgRateLimited, RetryAfter: res.RetryAfter})
		return "", false
	}
	return userID, true
}

// AIHandler relays AI generations to the browser as server-sent events.
type AIHandler struct {
	generator Generator
	creds     CredentialResolver
	limiter   RateChecker
	cfg       *config.Config
	metrics   *metrics.Metrics
}

func NewAIHandler(gen Generator, creds CredentialResolver, limiter RateChecker, cfg *config.Config, m *metrics.Metrics) *AIHandler {
	return &AIHandler{
		generator: gen,
		creds:     creds,
		limiter:   limiter,
		cfg:       cfg,
		metrics:   m,
	}
}

// ImproveIdea streams a refined version of a raw idea.
func (h *AIHandler) ImproveIdea(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, config.ActionImproveIdea, &improveIdeaRequest{})
}

// GenerateDocument streams a PRD for an idea.
func (h *AIHandler) GenerateDocument(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, config.ActionGenerateDocument, &generateDocumentRequest{})
}

// GenerateFollowup streams the build markdown and coding prompt derived from a PRD.
func (h *AIHandler) GenerateFollowup(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, config.ActionGenerateFollowup, &generateFollowupRequest{})
}

func (h *AIHandler) relay(w http.ResponseWriter, r *http.Request, action string, req generationRequest) {
	userID, ok := admit(w, r, h.limiter, h.cfg, h.metrics, action)
	if !ok {
		return
	}

	if err := decodeJSON(w, r, req); err != nil {
		writeInvalidInput(w, fieldErrors{"body": {err.Error()}})
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		writeInvalidInput(w, errs)
		return
	}

	apiKey, err := h.creds.Resolve(r.Context(), userID)
	switch {
	case errors.Is(err, services.ErrNoCredential):
		writeError(w, http.StatusBadRequest, msgNoCredential)
		return
	case errors.Is(err, crypto.ErrIntegrity):
		log.Error().Err(err).Str("user_id", userID).Msg("Stored API key failed integrity check")
		writeInternalError(w)
		return
	case err != nil:
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to resolve API key")
		writeInternalError(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.MaxStreamDuration)
	defer cancel()

	completion := req.completion()
	completion.APIKey = apiKey

	started := time.Now()
	events, streamErr := h.generator.Stream(ctx, completion)

	sse := startEventStream(w, h.cfg.MaxStreamDuration)
	logger := log.With().Str("user_id", userID).Str("action", action).Logger()

	if streamErr != nil {
		logger.Warn().Err(streamErr).Msg("Failed to open upstream stream")
		_ = sse.send(openai.StreamEvent{Error: upstreamErrorMessage(streamErr)})
		h.metrics.GenerationFinished(action, metrics.OutcomeFailed)
		return
	}

	for ev := range events {
		if err := sse.send(ev); err != nil {
			// Client is gone; cancelling tears down the upstream request.
			cancel()
			logger.Info().Err(err).Msg("Client disconnected during generation")
			h.metrics.GenerationFinished(action, metrics.OutcomeAborted)
			return
		}

		switch {
		case ev.Done:
			if ev.TokensUsed != nil {
				h.metrics.TokensUsed(action, ev.TokensUsed.Prompt, ev.TokensUsed.Completion)
			}
			logger.Info().Dur("duration", time.Since(started)).Msg("Generation completed")
			h.metrics.GenerationFinished(action, metrics.OutcomeCompleted)
			return
		case ev.Error != "":
			logger.Warn().Str("event_error", ev.Error).Msg("Generation failed")
			h.metrics.GenerationFinished(action, metrics.OutcomeFailed)
			return
		}
	}

	// Channel closed without a terminal event: the caller or the deadline ended it.
	if r.Context().Err() != nil {
		logger.Info().Msg("Client disconnected during generation")
		h.metrics.GenerationFinished(action, metrics.OutcomeAborted)
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn().Dur("max_duration", h.cfg.MaxStreamDuration).Msg("Generation exceeded maximum duration")
		_ = sse.send(openai.StreamEvent{Error: msgStreamTimeout})
	}
	h.metrics.GenerationFinished(action, metrics.OutcomeFailed)
}

// upstreamErrorMessage maps a failure to open the stream to a message safe
// to show the user.
func upstreamErrorMessage(err error) string {
	var upErr *openai.UpstreamError
	if !errors.As(err, &upErr) {
		return msgProviderNetwork
	}
	switch upErr.Status {
	case http.StatusUnauthorized:
		return msgProviderAuth
	case http.StatusTooManyRequests:
		return msgProviderQuota
	default:
		return fmt.Sprintf("AI provider error (status %d)", upErr.Status)
	}
}

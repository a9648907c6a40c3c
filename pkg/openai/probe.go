package openai

import (
	"context"
	"errors"
	"net/http"
)

// ProbeStatus classifies the outcome of a credential probe.
type ProbeStatus string

const (
	ProbeValid         ProbeStatus = "valid"
	ProbeUnauthorized  ProbeStatus = "unauthorized"
	ProbeQuotaExceeded ProbeStatus = "quota_exceeded"
	ProbeOther         ProbeStatus = "other"
)

// ProbeResult is the outcome of Validate. Message is user-facing.
type ProbeResult struct {
	Status  ProbeStatus
	Message string
}

// Valid reports whether the probed key is usable.
func (r ProbeResult) Valid() bool {
	return r.Status == ProbeValid
}

// Validate checks a key with a one-token completion.
func (c *Client) Validate(ctx context.Context, apiKey string) ProbeResult {
	_, err := c.Complete(ctx, CompletionRequest{
		APIKey:      apiKey,
		UserMessage: "Say ok",
		MaxTokens:   1,
	})
	if err == nil {
		return ProbeResult{Status: ProbeValid}
	}

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		return ProbeResult{Status: ProbeOther, Message: "Network or provider error validating key."}
	}

	switch upErr.Status {
	case http.StatusUnauthorized:
		return ProbeResult{Status: ProbeUnauthorized, Message: "Invalid API key or unauthorized."}
	case http.StatusTooManyRequests:
		return ProbeResult{Status: ProbeQuotaExceeded, Message: "Quota exceeded: please check your OpenAI billing and quotas."}
	default:
		msg := upErr.Message()
		if msg == "" {
			msg = http.StatusText(upErr.Status)
		}
		return ProbeResult{Status: ProbeOther, Message: "Provider error: " + msg}
	}
}

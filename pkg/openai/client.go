// Package openai is a client for OpenAI-compatible chat completion APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
	DefaultIdleTimeout = 60 * time.Second

	maxErrorBody = 4 << 10
)

// Client wraps chat completion calls made on behalf of a user's API key.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	model        string
	idleTimeout  time.Duration
	logMalformed *rate.Sometimes
}

// NewClient creates a new client. Empty values fall back to the defaults.
func NewClient(baseURL, model string, idleTimeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	// No overall timeout: streams are bounded by the caller's context and the idle timer.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: idleTimeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		httpClient:   &http.Client{Transport: transport},
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        model,
		idleTimeout:  idleTimeout,
		logMalformed: &rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Model returns the default model used when a request does not name one.
func (c *Client) Model() string {
	return c.model
}

// CompletionRequest describes one chat completion. Zero values for Model,
// Temperature and MaxTokens select the client defaults.
type CompletionRequest struct {
	APIKey       string
	Model        string
	SystemPrompt string
	UserMessage  string
	Temperature  float64
	MaxTokens    int
}

// Completion is the result of a buffered call.
type Completion struct {
	Content    string
	TokensUsed *Usage
}

// UpstreamError is returned when the provider answers with a non-2xx status.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

// Message extracts the provider's error message from the body, falling back
// to the raw body text.
func (e *UpstreamError) Message() string {
	var payload struct {
		Error *providerError `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &payload); err == nil && payload.Error != nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(e.Body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     int            `json:"max_tokens"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *wireUsage) normalize() *Usage {
	if u == nil {
		return nil
	}
	return &Usage{Prompt: u.PromptTokens, Completion: u.CompletionTokens, Total: u.TotalTokens}
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

func (c *Client) buildRequest(ctx context.Context, req CompletionRequest, stream bool) (*http.Request, error) {
	body := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if body.Model == "" {
		body.Model = c.model
	}
	if body.Temperature == 0 {
		body.Temperature = DefaultTemperature
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = DefaultMaxTokens
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.UserMessage})
	if stream {
		body.Stream = true
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// do sends the request and converts non-2xx answers into *UpstreamError.
func (c *Client) do(httpReq *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach provider: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// Complete performs a buffered chat completion.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	httpReq, err := c.buildRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	completion := &Completion{TokensUsed: out.Usage.normalize()}
	if len(out.Choices) > 0 {
		completion.Content = out.Choices[0].Message.Content
	}
	return completion, nil
}

// Stream starts a streaming chat completion. Failures to open the stream are
// returned directly; later failures arrive as a terminal error event. The
// channel is closed after the terminal event or when ctx is done, and the
// upstream request never outlives ctx.
func (c *Client) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	reqCtx, cancel := context.WithCancelCause(ctx)

	httpReq, err := c.buildRequest(reqCtx, req, true)
	if err != nil {
		cancel(err)
		return nil, err
	}

	resp, err := c.do(httpReq)
	if err != nil {
		cancel(err)
		return nil, err
	}

	events := make(chan StreamEvent)
	reader := &streamReader{
		body:         resp.Body,
		events:       events,
		idleTimeout:  c.idleTimeout,
		logMalformed: c.logMalformed,
	}
	go reader.run(ctx, reqCtx, cancel)

	return events, nil
}

package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/albertohelena/rdpwizard/internal/models"
	"github.com/albertohelena/rdpwizard/pkg/openai"
	"github.com/albertohelena/rdpwizard/pkg/ratelimit"
)

// fakeGenerator replays a fixed list of events. With hold set, the channel
// stays open after the events until the context is done.
type fakeGenerator struct {
	mu      sync.Mutex
	events  []openai.StreamEvent
	err     error
	hold    bool
	calls   int
	lastReq openai.CompletionRequest
}

func (g *fakeGenerator) Stream(ctx context.Context, req openai.CompletionRequest) (<-chan openai.StreamEvent, error) {
	g.mu.Lock()
	g.calls++
	g.lastReq = req
	events, hold, err := g.events, g.hold, g.err
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan openai.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeCredentials implements CredentialResolver and CredentialManager.
type fakeCredentials struct {
	apiKey     string
	resolveErr error

	stored      *models.Credential
	registerErr error
	statusErr   error
	deleteErr   error
	resolved    int
}

func (c *fakeCredentials) Resolve(context.Context, string) (string, error) {
	c.resolved++
	if c.resolveErr != nil {
		return "", c.resolveErr
	}
	return c.apiKey, nil
}

func (c *fakeCredentials) Register(_ context.Context, userID, apiKey string) (*models.Credential, error) {
	if c.registerErr != nil {
		return nil, c.registerErr
	}
	now := time.Now()
	c.stored = &models.Credential{UserID: userID, KeyHint: "..." + apiKey[len(apiKey)-4:], IsValid: true, CreatedAt: now, LastValidatedAt: &now}
	return c.stored, nil
}

func (c *fakeCredentials) Status(context.Context, string) (models.CredentialStatus, error) {
	if c.statusErr != nil {
		return models.CredentialStatus{}, c.statusErr
	}
	return c.stored.Status(), nil
}

func (c *fakeCredentials) Delete(context.Context, string) error {
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.stored = nil
	return nil
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, string, int, int) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/albertohelena/rdpwizard/internal/config"
	"github.com/albertohelena/rdpwizard/internal/metrics"
	"github.com/albertohelena/rdpwizard/pkg/openai"
	"github.com/albertohelena/rdpwizard/pkg/ratelimit"
)

var testSecret = []byte("test-secret")

const (
	testUser    = "5f0c8a52-3a55-4c1e-9d4e-2b7f6f8e1a10"
	testProject = "0b6f5c3e-9d1a-4f7b-8c2e-5a4d3b2c1e0f"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimits: map[string]config.RateLimit{
			config.ActionImproveIdea:      {Max: 10, WindowSeconds: 60},
			config.ActionGenerateDocument: {Max: 5, WindowSeconds: 60},
			config.ActionGenerateFollowup: {Max: 5, WindowSeconds: 60},
			config.ActionCredentials:      {Max: 5, WindowSeconds: 60},
		},
		MaxStreamDuration: time.Minute,
	}
}

func signToken(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

// testServer wires the handlers behind a chi router the way main does.
type testServer struct {
	router  chi.Router
	gen     *fakeGenerator
	creds   *fakeCredentials
	metrics *metrics.Metrics
	cfg     *config.Config
}

func newTestServer(t *testing.T, limiter RateChecker) *testServer {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.NewMemoryStore())
	}

	ts := &testServer{
		gen:     &fakeGenerator{},
		creds:   &fakeCredentials{apiKey: "sk-user-key-1234"},
		metrics: metrics.New(prometheus.NewRegistry()),
		cfg:     testConfig(),
	}

	r := chi.NewRouter()
	Mount(r,
		NewAIHandler(ts.gen, ts.creds, limiter, ts.cfg, ts.metrics),
		NewKeyHandler(ts.creds, limiter, ts.cfg, ts.metrics),
		Authenticator(testSecret),
	)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return ts.doWithContext(t, context.Background(), method, path, body)
}

func (ts *testServer) doWithContext(t *testing.T, ctx context.Context, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testUser, time.Hour))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// decodeBody decodes a JSON response into a generic map.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// sseEvents splits an event stream body into decoded events.
func sseEvents(t *testing.T, body string) []openai.StreamEvent {
	t.Helper()
	var events []openai.StreamEvent
	for _, frame := range strings.Split(body, "\n\n") {
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
		var ev openai.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

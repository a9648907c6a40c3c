package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newUpstream starts a fake provider. frames are written one at a time with a flush in between.
func newUpstream(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-model", time.Second)
}

func writeFrames(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	f := w.(http.Flusher)
	for _, frame := range frames {
		fmt.Fprint(w, frame)
		f.Flush()
	}
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
			return nil
		}
	}
}

func textChunk(s string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]string{"content": s}}},
	})
	return "data: " + string(b) + "\n\n"
}

func TestStream_RequestShape(t *testing.T) {
	var got chatRequest
	var auth, accept string
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		accept = r.Header.Get("Accept")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeFrames(w, "data: [DONE]\n\n")
	})

	events, err := client.Stream(context.Background(), CompletionRequest{
		APIKey:       "sk-test-key-123",
		SystemPrompt: "You are a PRD writer.",
		UserMessage:  "An app for dog walkers",
		Temperature:  0.6,
		MaxTokens:    4096,
	})
	require.NoError(t, err)
	collect(t, events)

	assert.Equal(t, "Bearer sk-test-key-123", auth)
	assert.Equal(t, "text/event-stream", accept)
	assert.Equal(t, "test-model", got.Model)
	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)
	assert.True(t, got.StreamOptions.IncludeUsage)
	assert.Equal(t, 0.6, got.Temperature)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.Equal(t, []chatMessage{
		{Role: "system", Content: "You are a PRD writer."},
		{Role: "user", Content: "An app for dog walkers"},
	}, got.Messages)
}

func TestStream_Defaults(t *testing.T) {
	var got chatRequest
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeFrames(w, "data: [DONE]\n\n")
	})

	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi", Model: "gpt-4o"})
	require.NoError(t, err)
	collect(t, events)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, DefaultTemperature, got.Temperature)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	assert.Len(t, got.Messages, 1)
}

func TestStream_TextThenSingleDone(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w,
			textChunk("Hel"),
			": keep-alive\n\n",
			textChunk("lo"),
			"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n",
			"data: [DONE]\n\n",
			// Anything after [DONE] is ignored.
			textChunk("ignored"),
			"data: [DONE]\n\n",
		)
	})

	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 3)
	assert.Equal(t, StreamEvent{Text: "Hel"}, got[0])
	assert.Equal(t, StreamEvent{Text: "lo"}, got[1])
	assert.Equal(t, StreamEvent{Done: true, TokensUsed: &Usage{Prompt: 3, Completion: 2, Total: 5}}, got[2])
}

func TestStream_FramesSplitAcrossWrites(t *testing.T) {
	raw := textChunk("alpha") + textChunk("beta") + "data: [DONE]\n\n"
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		var parts []string
		for i := 0; i < len(raw); i += 7 {
			end := i + 7
			if end > len(raw) {
				end = len(raw)
			}
			parts = append(parts, raw[i:end])
		}
		writeFrames(w, parts...)
	})

	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 3)
	assert.Equal(t, "alpha", got[0].Text)
	assert.Equal(t, "beta", got[1].Text)
	assert.True(t, got[2].Done)
	assert.Nil(t, got[2].TokensUsed)
}

func TestStream_MalformedFrameSkipped(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, textChunk("a"), "data: {not json\n\n", textChunk("b"), "data: [DONE]\n\n")
	})

	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
	assert.True(t, got[2].Done)
}

func TestStream_ProviderErrorPayload(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w,
			textChunk("partial"),
			"data: {\"error\":{\"message\":\"The server had an error; key sk-abc***\",\"type\":\"server_error\"}}\n\n",
			textChunk("never"),
		)
	})

	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Text)
	assert.Equal(t, msgProviderError, got[1].Error)
	assert.NotContains(t, got[1].Error, "sk-")
}

func TestStream_EOFWithoutDone(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, textChunk("cut"))
	})

	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 2)
	assert.Equal(t, "cut", got[0].Text)
	assert.Equal(t, msgIncomplete, got[1].Error)
}

func TestStream_DoneWithoutTrailingDelimiter(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, textChunk("x"), "data: [DONE]")
	})

	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 2)
	assert.True(t, got[1].Done)
}

func TestStream_OpenFailure(t *testing.T) {
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
	})

	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "bad", UserMessage: "hi"})
	assert.Nil(t, events)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.Status)
	assert.Equal(t, "Incorrect API key provided", upErr.Message())
}

func TestStream_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.Error(t, err)

	var upErr *UpstreamError
	assert.False(t, errors.As(err, &upErr))
}

func TestStream_CallerCancelTearsDownUpstream(t *testing.T) {
	upstreamGone := make(chan struct{})
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, textChunk("first"))
		<-r.Context().Done()
		close(upstreamGone)
	})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := client.Stream(ctx, CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, "first", first.Text)
	cancel()

	select {
	case <-upstreamGone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not cancelled")
	}

	// The channel is closed without a further event reaching a departed caller.
	for range events {
	}
}

func TestStream_IdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, textChunk("slow"))
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "", 100*time.Millisecond)
	events, err := client.Stream(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "hi"})
	require.NoError(t, err)
	got := collect(t, events)

	require.Len(t, got, 2)
	assert.Equal(t, "slow", got[0].Text)
	assert.Equal(t, msgIdleTimeout, got[1].Error)
}

func TestComplete(t *testing.T) {
	var got chatRequest
	client := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"A sharper idea"}}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`)
	})

	out, err := client.Complete(context.Background(), CompletionRequest{APIKey: "k", UserMessage: "idea"})
	require.NoError(t, err)

	assert.False(t, got.Stream)
	assert.Nil(t, got.StreamOptions)
	assert.Equal(t, "A sharper idea", out.Content)
	assert.Equal(t, &Usage{Prompt: 10, Completion: 4, Total: 14}, out.TokensUsed)
}

func TestUpstreamError_Message(t *testing.T) {
	assert.Equal(t, "bad gateway", (&UpstreamError{Status: 502, Body: " bad gateway\n"}).Message())
	assert.Equal(t, "nope", (&UpstreamError{Status: 400, Body: `{"error":{"message":"nope"}}`}).Message())
	assert.Contains(t, (&UpstreamError{Status: 400, Body: "x"}).Error(), "status 400")
}

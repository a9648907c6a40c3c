package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Usage is the token accounting reported at the end of a stream.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// StreamEvent is one normalized event of a generation. Exactly one of Text,
// Done or Error is meaningful. Done and Error are terminal.
type StreamEvent struct {
	Text       string `json:"text,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Error      string `json:"error,omitempty"`
	TokensUsed *Usage `json:"tokensUsed,omitempty"`
}

// Messages sent to the caller when the upstream stream fails. Provider
// payloads are logged, never forwarded.
const (
	msgIdleTimeout   = "The AI provider stopped responding"
	msgConnLost      = "Connection to the AI provider was lost"
	msgIncomplete    = "The AI provider ended the response unexpectedly"
	msgProviderError = "The AI provider returned an error"
)

var errIdleTimeout = errors.New("upstream idle timeout")

var (
	crlfDelim = []byte("\r\n\r\n")
	lfDelim   = []byte("\n\n")
	doneToken = []byte("[DONE]")
)

// FrameParser splits a byte stream into server-sent event frames. Input may
// arrive in chunks of any size; partial frames are kept until completed.
type FrameParser struct {
	buf []byte
}

// Feed appends chunk and returns every frame completed by it, without delimiters.
func (p *FrameParser) Feed(chunk []byte) [][]byte {
	p.buf = append(p.buf, chunk...)

	var frames [][]byte
	for {
		idx, size := nextDelimiter(p.buf)
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, p.buf[:idx])
		frames = append(frames, frame)
		p.buf = p.buf[idx+size:]
	}

	// Release the backing array once it has been fully consumed.
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return frames
}

// Flush returns whatever is left in the buffer as a final frame, or nil.
func (p *FrameParser) Flush() []byte {
	rest := bytes.TrimSpace(p.buf)
	p.buf = nil
	if len(rest) == 0 {
		return nil
	}
	return rest
}

// nextDelimiter finds the earliest frame delimiter in buf.
func nextDelimiter(buf []byte) (int, int) {
	lf := bytes.Index(buf, lfDelim)
	crlf := bytes.Index(buf, crlfDelim)

	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, len(crlfDelim)
	case lf >= 0:
		return lf, len(lfDelim)
	default:
		return -1, 0
	}
}

// framePayload joins the data lines of a frame. ok is false when the frame
// carries no data, such as comments used as keep-alives.
func framePayload(frame []byte) ([]byte, bool) {
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data = append(data, bytes.TrimSpace(line[len("data:"):]))
	}
	if len(data) == 0 {
		return nil, false
	}
	return bytes.Join(data, []byte("\n")), true
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *wireUsage     `json:"usage"`
	Error *providerError `json:"error"`
}

type providerError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// streamReader drives a single upstream response body.
type streamReader struct {
	body         io.ReadCloser
	events       chan<- StreamEvent
	idleTimeout  time.Duration
	logMalformed *rate.Sometimes

	usage *Usage
}

// run reads the body until a terminal event, EOF, error or cancellation.
// ctx is the caller's context; reqCtx is the upstream request context whose
// cancellation cause tells an idle timeout apart from a disconnect.
func (s *streamReader) run(ctx, reqCtx context.Context, cancel context.CancelCauseFunc) {
	defer close(s.events)
	defer cancel(nil)
	defer s.body.Close()

	idle := time.AfterFunc(s.idleTimeout, func() { cancel(errIdleTimeout) })
	defer idle.Stop()

	var parser FrameParser
	buf := make([]byte, 32*1024)

	for {
		idle.Reset(s.idleTimeout)
		n, readErr := s.body.Read(buf)
		idle.Stop()

		if n > 0 {
			for _, frame := range parser.Feed(buf[:n]) {
				if s.handleFrame(ctx, frame) {
					return
				}
			}
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			if rest := parser.Flush(); rest != nil && s.handleFrame(ctx, rest) {
				return
			}
			log.Warn().Msg("Upstream stream ended before [DONE]")
			s.send(ctx, StreamEvent{Error: msgIncomplete})
			return
		}

		if ctx.Err() != nil {
			// Caller went away; nobody is listening.
			return
		}
		if errors.Is(context.Cause(reqCtx), errIdleTimeout) {
			log.Warn().Dur("idle_timeout", s.idleTimeout).Msg("Upstream stream idle, aborting")
			s.send(ctx, StreamEvent{Error: msgIdleTimeout})
			return
		}
		log.Warn().Err(readErr).Msg("Upstream stream read failed")
		s.send(ctx, StreamEvent{Error: msgConnLost})
		return
	}
}

// handleFrame emits the event for one frame and reports whether the stream is finished.
func (s *streamReader) handleFrame(ctx context.Context, frame []byte) bool {
	payload, ok := framePayload(frame)
	if !ok || len(payload) == 0 {
		return false
	}

	if bytes.Equal(payload, doneToken) {
		s.send(ctx, StreamEvent{Done: true, TokensUsed: s.usage})
		return true
	}

	var chunk streamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		s.logMalformed.Do(func() {
			log.Warn().Err(err).Int("frame_bytes", len(payload)).Msg("Skipping malformed upstream frame")
		})
		return false
	}

	if chunk.Error != nil {
		log.Warn().Str("type", chunk.Error.Type).Str("message", chunk.Error.Message).Msg("Upstream reported an error mid-stream")
		s.send(ctx, StreamEvent{Error: msgProviderError})
		return true
	}

	if chunk.Usage != nil {
		s.usage = chunk.Usage.normalize()
	}

	for _, choice := range chunk.Choices {
		text := choice.Delta.Content
		if text == "" {
			text = choice.Message.Content
		}
		if text == "" {
			continue
		}
		if !s.send(ctx, StreamEvent{Text: text}) {
			return true
		}
	}
	return false
}

// send delivers ev unless the caller has gone away.
func (s *streamReader) send(ctx context.Context, ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

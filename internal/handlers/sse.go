package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/albertohelena/rdpwizard/pkg/openai"
)

// eventWriter writes normalized stream events as server-sent events.
type eventWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// startEventStream sends the event stream headers. The connection write
// deadline is extended to cover a stream of up to maxDuration.
func startEventStream(w http.ResponseWriter, maxDuration time.Duration) *eventWriter {
	rc := http.NewResponseController(w)
	// Writers without deadline support keep the server default.
	_ = rc.SetWriteDeadline(time.Now().Add(maxDuration + 10*time.Second))

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	return &eventWriter{w: w, rc: rc}
}

// send writes one event and flushes it to the client.
func (e *eventWriter) send(ev openai.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

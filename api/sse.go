package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter frames records as server-sent events: a data: prefix, one JSON
// payload per line, a blank-line terminator. No event names, ids or retry
// hints.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event streaming. Returns an error
// when the transport cannot flush incrementally.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

// Send frames one record and flushes it to the client.
func (s *sseWriter) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendEnd emits the terminal record used when a producer dies while the
// client is still attached.
func (s *sseWriter) SendEnd(message string) {
	s.Send(message)
}

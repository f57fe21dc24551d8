package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"newsradar/internal/core"
)

// sseStream wraps a response writer for server-sent events. Each event
// is framed as "event: <type>\ndata: <json>\n\n" and flushed.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEStream writes the SSE preamble headers. Returns an error when
// the underlying writer cannot flush incrementally.
func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, nil
}

// send frames one event. Write errors mean the client went away; the
// caller stops streaming.
func (s *sseStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sendTaskEvent frames a persisted task event under its own type.
func (s *sseStream) sendTaskEvent(e core.TaskEvent) error {
	data := map[string]any{
		"id":         e.ID,
		"task_id":    e.TaskID,
		"event_type": e.EventType,
		"created_at": e.CreatedAt,
	}
	if e.Payload != nil {
		data["payload"] = e.Payload
	}
	return s.send(e.EventType, data)
}

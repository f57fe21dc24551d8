package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/persistence"

	"github.com/go-chi/chi/v5"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

// respondError maps the core error kinds onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

// decode reads a JSON body, rejecting unknown fields.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.ValidationErrorf("invalid request body: %v", err)
	}
	return nil
}

// pathID reads the {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.ValidationErrorf("invalid id %q", raw)
	}
	return id, nil
}

// listOptions reads the shared list query parameters: limit, offset,
// status, fetch_status, source_id, since, until (RFC 3339).
func listOptions(r *http.Request) (persistence.ListOptions, error) {
	q := r.URL.Query()
	opts := persistence.ListOptions{
		Status:      q.Get("status"),
		FetchStatus: q.Get("fetch_status"),
	}

	for key, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		if raw := q.Get(key); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return opts, core.ValidationErrorf("invalid %s %q", key, raw)
			}
			*dst = n
		}
	}
	if raw := q.Get("source_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return opts, core.ValidationErrorf("invalid source_id %q", raw)
		}
		opts.SourceID = n
	}
	for key, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return opts, core.ValidationErrorf("invalid %s %q, want RFC 3339", key, raw)
			}
			*dst = &t
		}
	}
	return opts, nil
}

package server

import (
	"net/http"
	"strings"

	"newsradar/internal/core"
	"newsradar/internal/tasks"
)

type keywordRequest struct {
	Keyword    string `json:"keyword"`
	TimeRange  string `json:"time_range"`
	MaxResults int    `json:"max_results"`
	Region     string `json:"region"`
	IsActive   *bool  `json:"is_active"`
}

func (req *keywordRequest) validate() error {
	if strings.TrimSpace(req.Keyword) == "" {
		return core.ValidationErrorf("keyword is required")
	}
	switch req.TimeRange {
	case "", "d", "w", "m", "y":
	default:
		return core.ValidationErrorf("time_range must be one of d, w, m, y")
	}
	if req.MaxResults < 0 {
		return core.ValidationErrorf("max_results must not be negative")
	}
	return nil
}

func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rows, err := s.db.Keywords().List(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"keywords": rows, "count": len(rows)})
}

func (s *Server) handleListActiveKeywords(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Keywords().ListActive(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"keywords": rows, "count": len(rows)})
}

func (s *Server) handleCreateKeyword(w http.ResponseWriter, r *http.Request) {
	var req keywordRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, err)
		return
	}

	kw := &core.SearchKeyword{
		Keyword:    strings.TrimSpace(req.Keyword),
		TimeRange:  req.TimeRange,
		MaxResults: req.MaxResults,
		Region:     req.Region,
		IsActive:   true,
	}
	if req.IsActive != nil {
		kw.IsActive = *req.IsActive
	}
	if err := s.db.Keywords().Create(r.Context(), kw); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, kw)
}

func (s *Server) handleGetKeyword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	kw, err := s.db.Keywords().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, kw)
}

func (s *Server) handleUpdateKeyword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	kw, err := s.db.Keywords().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req keywordRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, err)
		return
	}

	kw.Keyword = strings.TrimSpace(req.Keyword)
	kw.TimeRange = req.TimeRange
	kw.MaxResults = req.MaxResults
	kw.Region = req.Region
	if req.IsActive != nil {
		kw.IsActive = *req.IsActive
	}
	if err := s.db.Keywords().Update(r.Context(), kw); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, kw)
}

func (s *Server) handleDeleteKeyword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.db.Keywords().Delete(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunKeywordSearch runs one keyword's search synchronously and
// imports the unseen results before responding.
func (s *Server) handleRunKeywordSearch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	kw, err := s.db.Keywords().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	imported, skipped, err := tasks.RunKeywordSearch(r.Context(), s.exec, *kw)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"keyword":  kw.Keyword,
		"imported": imported,
		"skipped":  skipped,
	})
}

package server

import (
	"net/http"
	"net/url"
	"strconv"

	"newsradar/internal/core"
)

func (s *Server) handleListSitemaps(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("source_id")
	sourceID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sourceID <= 0 {
		s.respondError(w, core.ValidationErrorf("source_id query parameter is required"))
		return
	}
	sitemaps, err := s.db.Sitemaps().ListBySource(r.Context(), sourceID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sitemaps": sitemaps, "count": len(sitemaps)})
}

func (s *Server) handleAddSitemap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID int64  `json:"source_id"`
		URL      string `json:"url"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if u, err := url.Parse(req.URL); err != nil || u.Host == "" {
		s.respondError(w, core.ValidationErrorf("url %q is not absolute", req.URL))
		return
	}
	if _, err := s.db.Sources().Get(r.Context(), req.SourceID); err != nil {
		s.respondError(w, err)
		return
	}
	if _, err := s.db.Sitemaps().GetByURL(r.Context(), req.URL); err == nil {
		s.respondError(w, core.ErrConflict)
		return
	}

	sm := &core.Sitemap{SourceID: req.SourceID, URL: req.URL, FetchStatus: core.SitemapPending}
	if err := s.db.Sitemaps().Create(r.Context(), sm); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sm)
}

// handleRefreshSitemap re-syncs the sitemap's source synchronously and
// returns the sync summary.
func (s *Server) handleRefreshSitemap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	sm, err := s.db.Sitemaps().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	result, err := s.exec.Discovery.SyncSource(r.Context(), sm.SourceID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteSitemap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.db.Sitemaps().Delete(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rows, err := s.db.Pending().List(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"pending": rows, "count": len(rows)})
}

// handlePendingCounts returns pending row counts by status, optionally
// scoped to one source.
func (s *Server) handlePendingCounts(w http.ResponseWriter, r *http.Request) {
	var sourceID int64
	if raw := r.URL.Query().Get("source_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			s.respondError(w, core.ValidationErrorf("invalid source_id %q", raw))
			return
		}
		sourceID = n
	}
	counts, err := s.db.Pending().CountByStatus(r.Context(), sourceID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

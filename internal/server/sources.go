package server

import (
	"net/http"
	"net/url"
	"strings"

	"newsradar/internal/core"
	"newsradar/internal/persistence"
)

const (
	minCrawlIntervalSeconds     = 60
	defaultCrawlIntervalSeconds = 3600
)

type sourceRequest struct {
	SiteName             string            `json:"site_name"`
	BaseURL              string            `json:"base_url"`
	ParserConfig         core.ParserConfig `json:"parser_config"`
	CrawlIntervalSeconds int               `json:"crawl_interval_seconds"`
	SitemapURL           string            `json:"sitemap_url"`
	DiscoveryMethod      string            `json:"discovery_method"`
}

func (req *sourceRequest) validate() error {
	if strings.TrimSpace(req.SiteName) == "" {
		return core.ValidationErrorf("site_name is required")
	}
	u, err := url.Parse(req.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.ValidationErrorf("base_url %q is not an absolute http(s) URL", req.BaseURL)
	}
	if req.DiscoveryMethod == "" {
		req.DiscoveryMethod = core.DiscoverySitemap
	}
	switch req.DiscoveryMethod {
	case core.DiscoverySitemap, core.DiscoveryList, core.DiscoveryHybrid:
	default:
		return core.ValidationErrorf("unknown discovery_method %q", req.DiscoveryMethod)
	}
	if req.CrawlIntervalSeconds == 0 {
		req.CrawlIntervalSeconds = defaultCrawlIntervalSeconds
	}
	if req.CrawlIntervalSeconds < minCrawlIntervalSeconds {
		return core.ValidationErrorf("crawl_interval_seconds must be at least %d", minCrawlIntervalSeconds)
	}
	return nil
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	sources, err := s.db.Sources().List(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sources": sources, "count": len(sources)})
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, err)
		return
	}

	source := &core.CrawlSource{
		SiteName:             req.SiteName,
		BaseURL:              strings.TrimRight(req.BaseURL, "/"),
		ParserConfig:         req.ParserConfig,
		CrawlIntervalSeconds: req.CrawlIntervalSeconds,
		SitemapURL:           req.SitemapURL,
		DiscoveryMethod:      req.DiscoveryMethod,
		RobotsStatus:         core.RobotsPending,
	}
	if err := s.db.Sources().Create(r.Context(), source); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, source)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	source, err := s.db.Sources().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, source)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	source, err := s.db.Sources().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req sourceRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, err)
		return
	}

	source.SiteName = req.SiteName
	source.BaseURL = strings.TrimRight(req.BaseURL, "/")
	source.ParserConfig = req.ParserConfig
	source.CrawlIntervalSeconds = req.CrawlIntervalSeconds
	source.SitemapURL = req.SitemapURL
	source.DiscoveryMethod = req.DiscoveryMethod
	if err := s.db.Sources().Update(r.Context(), source); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, source)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.db.Sources().Delete(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEnableSource enables a source once its preconditions hold:
// robots has been checked without restriction, and a sitemap is known
// unless discovery does not rely on sitemaps.
func (s *Server) handleEnableSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	source, err := s.db.Sources().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	switch source.RobotsStatus {
	case core.RobotsCompliant, core.RobotsNotFound:
	case core.RobotsRestricted:
		s.respondError(w, core.ValidationErrorf("robots.txt disallows crawling %s", source.BaseURL))
		return
	default:
		s.respondError(w, core.ValidationErrorf("robots.txt has not been checked for source %d", id))
		return
	}

	if source.DiscoveryMethod == core.DiscoverySitemap && source.SitemapURL == "" {
		sitemaps, err := s.db.Sitemaps().ListBySource(r.Context(), id)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if len(sitemaps) == 0 {
			s.respondError(w, core.ValidationErrorf("source %d has no sitemap attached", id))
			return
		}
	}

	if err := s.db.Sources().SetEnabled(r.Context(), id, true); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": true})
}

func (s *Server) handleDisableSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.db.Sources().SetEnabled(r.Context(), id, false); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": false})
}

// handleDebugParse scrapes one URL with the source's parser config and
// returns the raw extraction, for tuning selectors.
func (s *Server) handleDebugParse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	source, err := s.db.Sources().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.URL == "" {
		s.respondError(w, core.ValidationErrorf("url is required"))
		return
	}

	scraped := s.exec.Scraper.Scrape(r.Context(), req.URL, source.ParserConfig, source.ID)
	s.respondJSON(w, http.StatusOK, scraped)
}

// handleSourceStats reports pending and article counts per status for
// one source.
func (s *Server) handleSourceStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	source, err := s.db.Sources().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	pending, err := s.db.Pending().CountByStatus(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	articles := make(map[string]int)
	for _, status := range []string{
		core.ArticleStatusRaw, core.ArticleStatusProcessed, core.ArticleStatusSynced,
		core.ArticleStatusFailed, core.ArticleStatusLowQuality,
	} {
		rows, err := s.db.Articles().List(r.Context(), persistence.ListOptions{SourceID: id, Status: status})
		if err != nil {
			s.respondError(w, err)
			return
		}
		if len(rows) > 0 {
			articles[status] = len(rows)
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"source_id":       id,
		"site_name":       source.SiteName,
		"enabled":         source.Enabled,
		"robots_status":   source.RobotsStatus,
		"last_crawled_at": source.LastCrawledAt,
		"pending":         pending,
		"articles":        articles,
	})
}

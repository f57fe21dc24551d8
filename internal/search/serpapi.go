package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/logger"
)

const serpAPIEndpoint = "https://serpapi.com/search"

// SerpAPIProvider proxies Google results through SerpAPI.
type SerpAPIProvider struct {
	apiKey    string
	client    *http.Client
	baseURL   string
	rateLimit time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

func NewSerpAPIProvider(apiKey string, timeout time.Duration) *SerpAPIProvider {
	return &SerpAPIProvider{
		apiKey:    apiKey,
		client:    &http.Client{Timeout: timeout},
		baseURL:   serpAPIEndpoint,
		rateLimit: time.Second,
	}
}

func (s *SerpAPIProvider) Name() string { return "SerpAPI" }

// SetBaseURL overrides the endpoint, for tests.
func (s *SerpAPIProvider) SetBaseURL(raw string) { s.baseURL = raw }

func (s *SerpAPIProvider) Search(ctx context.Context, query string, opts Options) ([]core.SearchResult, error) {
	s.mu.Lock()
	if elapsed := time.Since(s.lastCall); elapsed < s.rateLimit {
		time.Sleep(s.rateLimit - elapsed)
	}
	s.lastCall = time.Now()
	s.mu.Unlock()

	params := url.Values{}
	params.Set("q", query)
	params.Set("engine", "google")
	params.Set("api_key", s.apiKey)
	if opts.MaxResults > 0 {
		params.Set("num", strconv.Itoa(opts.MaxResults))
	}
	switch opts.TimeRange {
	case "d", "w", "m", "y":
		params.Set("tbs", "qdr:"+opts.TimeRange)
	}
	if opts.Region != "" {
		params.Set("gl", opts.Region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create serpapi request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute serpapi request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &core.UpstreamError{Status: resp.StatusCode, URL: s.baseURL}
	}

	var apiResponse struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic_results"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse serpapi response: %w", err)
	}
	if apiResponse.Error != "" {
		return nil, fmt.Errorf("serpapi error: %s", apiResponse.Error)
	}

	results := make([]core.SearchResult, 0, len(apiResponse.OrganicResults))
	for _, item := range apiResponse.OrganicResults {
		r := core.SearchResult{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Source:  domainOf(item.Link),
		}
		if item.Date != "" {
			if t, err := time.Parse("Jan 2, 2006", item.Date); err == nil {
				utc := t.UTC()
				r.PublishedDate = &utc
			}
		}
		results = append(results, r)
	}
	logger.Info("serpapi search completed", "query", query, "results", len(results))
	return results, nil
}

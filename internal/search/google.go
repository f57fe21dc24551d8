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

const googleCSEEndpoint = "https://www.googleapis.com/customsearch/v1"

// GoogleProvider uses the Custom Search JSON API. The API caps a single
// request at 10 results.
type GoogleProvider struct {
	apiKey    string
	searchID  string
	client    *http.Client
	baseURL   string
	rateLimit time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

func NewGoogleProvider(apiKey, searchID string, timeout time.Duration) *GoogleProvider {
	return &GoogleProvider{
		apiKey:    apiKey,
		searchID:  searchID,
		client:    &http.Client{Timeout: timeout},
		baseURL:   googleCSEEndpoint,
		rateLimit: 100 * time.Millisecond,
	}
}

func (g *GoogleProvider) Name() string { return "Google Custom Search" }

// SetBaseURL overrides the endpoint, for tests.
func (g *GoogleProvider) SetBaseURL(raw string) { g.baseURL = raw }

func (g *GoogleProvider) Search(ctx context.Context, query string, opts Options) ([]core.SearchResult, error) {
	g.mu.Lock()
	if elapsed := time.Since(g.lastCall); elapsed < g.rateLimit {
		time.Sleep(g.rateLimit - elapsed)
	}
	g.lastCall = time.Now()
	g.mu.Unlock()

	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.searchID)
	params.Set("q", query)
	num := opts.MaxResults
	if num <= 0 || num > 10 {
		num = 10
	}
	params.Set("num", strconv.Itoa(num))
	if since, ok := sinceFor(opts.TimeRange); ok {
		params.Set("sort", "date:r:"+since.Format("20060102")+":"+time.Now().Format("20060102"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create google cse request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute google cse request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &core.UpstreamError{Status: resp.StatusCode, URL: g.baseURL}
	}

	var apiResponse struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse google cse response: %w", err)
	}
	if apiResponse.Error.Code != 0 {
		return nil, fmt.Errorf("google cse error (%d): %s", apiResponse.Error.Code, apiResponse.Error.Message)
	}

	results := make([]core.SearchResult, 0, len(apiResponse.Items))
	for _, item := range apiResponse.Items {
		results = append(results, core.SearchResult{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Source:  domainOf(item.Link),
		})
	}
	logger.Info("google search completed", "query", query, "results", len(results))
	return results, nil
}

// sinceFor converts a time-range code into its window start.
func sinceFor(timeRange string) (time.Time, bool) {
	now := time.Now()
	switch timeRange {
	case "d":
		return now.AddDate(0, 0, -1), true
	case "w":
		return now.AddDate(0, 0, -7), true
	case "m":
		return now.AddDate(0, -1, 0), true
	case "y":
		return now.AddDate(-1, 0, 0), true
	}
	return time.Time{}, false
}

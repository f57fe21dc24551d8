package search

import (
	"context"

	"newsradar/internal/core"
)

// MockProvider returns canned results, for tests and local development.
type MockProvider struct {
	results []core.SearchResult
	err     error
	queries []string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		results: []core.SearchResult{
			{Title: "Example Article 1", URL: "https://example.com/article1", Snippet: "First canned result.", Source: "example.com"},
			{Title: "Example Article 2", URL: "https://test.org/article2", Snippet: "Second canned result.", Source: "test.org"},
		},
	}
}

func (m *MockProvider) Name() string { return "Mock" }

func (m *MockProvider) Search(ctx context.Context, query string, opts Options) ([]core.SearchResult, error) {
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	if opts.MaxResults > 0 && opts.MaxResults < len(m.results) {
		return m.results[:opts.MaxResults], nil
	}
	return m.results, nil
}

// SetResults replaces the canned results.
func (m *MockProvider) SetResults(results []core.SearchResult) { m.results = results }

// SetError makes every search fail.
func (m *MockProvider) SetError(err error) { m.err = err }

// Queries returns the queries seen so far.
func (m *MockProvider) Queries() []string { return m.queries }

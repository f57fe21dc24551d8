// Package search wraps pluggable external search backends behind a
// single provider interface. Results feed the keyword-search task,
// which imports them as pending articles.
package search

import (
	"context"
	"time"

	"newsradar/internal/config"
	"newsradar/internal/core"
)

// Options narrows a single search request.
type Options struct {
	TimeRange  string // d, w, m, y; empty means no time filter
	Region     string // locale hint, e.g. "us-en"
	MaxResults int
}

// Provider is one concrete search backend.
type Provider interface {
	Search(ctx context.Context, query string, opts Options) ([]core.SearchResult, error)
	Name() string
}

// ProviderType identifies a concrete backend.
type ProviderType string

const (
	ProviderTypeDuckDuckGo ProviderType = "duckduckgo"
	ProviderTypeGoogle     ProviderType = "google"
	ProviderTypeSerpAPI    ProviderType = "serpapi"
	ProviderTypeMock       ProviderType = "mock"
)

// NewProvider creates a backend from configuration.
func NewProvider(cfg config.Search) (Provider, error) {
	timeout := parseDurationOr(cfg.Timeout, 30*time.Second)
	rateLimit := parseDurationOr(cfg.RateLimit, 2*time.Second)

	switch ProviderType(cfg.Provider) {
	case ProviderTypeDuckDuckGo, "":
		return NewDuckDuckGoProvider(timeout, rateLimit), nil
	case ProviderTypeGoogle:
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		if cfg.SearchID == "" {
			return nil, ErrMissingSearchID
		}
		return NewGoogleProvider(cfg.APIKey, cfg.SearchID, timeout), nil
	case ProviderTypeSerpAPI:
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewSerpAPIProvider(cfg.APIKey, timeout), nil
	case ProviderTypeMock:
		return NewMockProvider(), nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// Service runs stored keywords against a provider. It satisfies the
// keyword-search executor's collaborator interface.
type Service struct {
	provider      Provider
	defaultMax    int
	defaultRegion string
}

func NewService(provider Provider, cfg config.Search) *Service {
	max := cfg.MaxResults
	if max <= 0 {
		max = 20
	}
	return &Service{provider: provider, defaultMax: max, defaultRegion: cfg.Region}
}

// Search executes one stored keyword. Keyword settings override the
// configured defaults.
func (s *Service) Search(ctx context.Context, kw core.SearchKeyword) ([]core.SearchResult, error) {
	opts := Options{
		TimeRange:  kw.TimeRange,
		Region:     kw.Region,
		MaxResults: kw.MaxResults,
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = s.defaultMax
	}
	if opts.Region == "" {
		opts.Region = s.defaultRegion
	}
	return s.provider.Search(ctx, kw.Keyword, opts)
}

func (s *Service) Provider() Provider { return s.provider }

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

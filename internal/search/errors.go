package search

import "errors"

var (
	// ErrMissingAPIKey is returned when a backend needs an API key and
	// none is configured.
	ErrMissingAPIKey = errors.New("search api key is required")

	// ErrMissingSearchID is returned when Google CSE is selected without
	// a search engine id.
	ErrMissingSearchID = errors.New("search engine id is required")

	// ErrUnsupportedProvider is returned for unknown provider names.
	ErrUnsupportedProvider = errors.New("unsupported search provider")

	// ErrRateLimited is returned when the backend rejects the request
	// for quota reasons.
	ErrRateLimited = errors.New("search rate limit exceeded")

	// ErrProviderUnavailable is returned when the backend is blocking or
	// otherwise unusable right now.
	ErrProviderUnavailable = errors.New("search provider unavailable")
)

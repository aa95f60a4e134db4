// Package search provides pluggable web search providers.
package search

import (
	"context"
	"fmt"
	"time"
)

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider performs a web search and returns normalized results.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
	Name() string
}

// RemoteError is a non-2xx search backend response.
type RemoteError struct {
	Provider string
	Status   int
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("%s search returned %d", e.Provider, e.Status)
}

// Retryable covers throttling and upstream transience.
func (e RemoteError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// Options configures provider construction.
type Options struct {
	Provider     string
	BraveAPIKey  string
	SerperAPIKey string
	Timeout      time.Duration
}

// New returns the configured provider, defaulting to DuckDuckGo which needs
// no API key.
func New(opts Options) (Provider, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	switch opts.Provider {
	case "", "duckduckgo":
		return NewDuckDuckGo(opts.Timeout), nil
	case "brave":
		if opts.BraveAPIKey == "" {
			return nil, fmt.Errorf("brave search requires an api key")
		}
		return NewBrave(opts.BraveAPIKey, opts.Timeout), nil
	case "serper":
		if opts.SerperAPIKey == "" {
			return nil, fmt.Errorf("serper search requires an api key")
		}
		return NewSerper(opts.SerperAPIKey, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", opts.Provider)
	}
}

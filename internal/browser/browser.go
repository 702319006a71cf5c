// Package browser provides headless-browser sessions for task execution.
package browser

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrEngineDisabled indicates the browser engine has been disabled via configuration.
var ErrEngineDisabled = errors.New("browser engine disabled")

// PageInfo describes the document response observed for the current page.
type PageInfo struct {
	// URL is the final URL after redirects.
	URL string
	// StatusCode is the HTTP status of the document response.
	StatusCode int
	// Headers are the document response headers.
	Headers http.Header
	// LoadTime is how long the last navigation took.
	LoadTime time.Duration
}

// Session is a single browser tab bound to one task execution.
//
// Sessions are not safe for concurrent use; each task owns its session
// exclusively until Close.
type Session interface {
	// Navigate loads the given URL and waits for the document body.
	Navigate(ctx context.Context, rawURL string) error
	// HTML returns the rendered outer HTML of the current document.
	HTML(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression and unmarshals the result into out.
	Evaluate(ctx context.Context, expr string, out any) error
	// Screenshot captures a full-page screenshot as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Info returns response metadata for the most recent navigation.
	Info() PageInfo
	// Close releases the tab and its concurrency slot.
	Close() error
}

// Engine creates browser sessions up to a configured concurrency ceiling.
type Engine interface {
	// NewSession opens a tab. It blocks until a slot is free or ctx ends.
	NewSession(ctx context.Context) (Session, error)
	// Close tears down the underlying browser.
	Close(ctx context.Context) error
}

// Config controls engine behavior.
type Config struct {
	// MaxSessions caps concurrently open tabs. Zero disables the engine.
	MaxSessions int
	// DomainQPS limits navigations per second per domain. Zero disables limiting.
	DomainQPS float64
	// UserAgent overrides the browser user agent when non-empty.
	UserAgent string
	// Headless runs the browser without a display. Defaults to true in practice.
	Headless bool
}

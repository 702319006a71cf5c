// Package llm provides the language-model capability behind a narrow
// interface so executors can be tested without a live model.
package llm

import (
	"context"
	"errors"
)

// ErrDisabled indicates no model backend is configured.
var ErrDisabled = errors.New("llm disabled")

// Client completes a single prompt. Implementations must honor context
// cancellation; callers bound every call with a deadline.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Disabled is a Client that fails every call. It keeps the service runnable
// without model credentials; callers contain the failures.
type Disabled struct{}

// Complete always returns ErrDisabled.
func (Disabled) Complete(_ context.Context, _ string) (string, error) {
	return "", ErrDisabled
}

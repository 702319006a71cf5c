package probe

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProber is a mock implementation of the Prober interface for testing.
type MockProber struct {
	mock.Mock
}

// Probe is the mock implementation of the Probe method.
func (m *MockProber) Probe(ctx context.Context, rawURL string) (Result, error) {
	args := m.Called(ctx, rawURL)
	result, _ := args.Get(0).(Result)
	return result, args.Error(1)
}

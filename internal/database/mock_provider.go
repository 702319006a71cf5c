package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// RecordAttempt is the mock implementation of the RecordAttempt method.
func (m *MockProvider) RecordAttempt(ctx context.Context, attempt Attempt) (string, error) {
	args := m.Called(ctx, attempt)
	return args.String(0), args.Error(1)
}

// ListRecent is the mock implementation of the ListRecent method.
func (m *MockProvider) ListRecent(ctx context.Context, limit int) ([]Attempt, error) {
	args := m.Called(ctx, limit)
	attempts, _ := args.Get(0).([]Attempt)
	return attempts, args.Error(1)
}

// Ping is the mock implementation of the Ping method.
func (m *MockProvider) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close is the mock implementation of the Close method.
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

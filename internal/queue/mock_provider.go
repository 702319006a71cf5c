package queue

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// Receive is the mock implementation of the Receive method.
func (m *MockProvider) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	args := m.Called(ctx, max, wait)
	deliveries, _ := args.Get(0).([]Delivery)
	return deliveries, args.Error(1)
}

// Delete is the mock implementation of the Delete method.
func (m *MockProvider) Delete(ctx context.Context, receipt string) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

// ExtendVisibility is the mock implementation of the ExtendVisibility method.
func (m *MockProvider) ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error {
	args := m.Called(ctx, receipt, d)
	return args.Error(0)
}

// Publish is the mock implementation of the Publish method.
func (m *MockProvider) Publish(ctx context.Context, body []byte) (string, error) {
	args := m.Called(ctx, body)
	return args.String(0), args.Error(1)
}

// Close is the mock implementation of the Close method.
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

package report

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of the Client interface for testing.
type MockClient struct {
	mock.Mock
}

// SendSessionResult is the mock implementation of the SendSessionResult method.
func (m *MockClient) SendSessionResult(ctx context.Context, projectID, flowID string, result SessionResult) error {
	args := m.Called(ctx, projectID, flowID, result)
	return args.Error(0)
}

package browser

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/flowforge/browser-runner/internal/task"
)

// MockEngine is a mock implementation of the Engine interface for testing.
type MockEngine struct {
	mock.Mock
}

// NewSession is the mock implementation of the NewSession method.
func (m *MockEngine) NewSession(ctx context.Context) (Session, error) {
	args := m.Called(ctx)
	sess, _ := args.Get(0).(Session)
	return sess, args.Error(1)
}

// Close is the mock implementation of the Close method.
func (m *MockEngine) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockSession is a mock implementation of the Session interface for testing.
type MockSession struct {
	mock.Mock
}

// Navigate is the mock implementation of the Navigate method.
func (m *MockSession) Navigate(ctx context.Context, rawURL string) error {
	args := m.Called(ctx, rawURL)
	return args.Error(0)
}

// HTML is the mock implementation of the HTML method.
func (m *MockSession) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// Evaluate is the mock implementation of the Evaluate method.
func (m *MockSession) Evaluate(ctx context.Context, expr string, out any) error {
	args := m.Called(ctx, expr, out)
	return args.Error(0)
}

// Screenshot is the mock implementation of the Screenshot method.
func (m *MockSession) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// Info is the mock implementation of the Info method.
func (m *MockSession) Info() PageInfo {
	args := m.Called()
	info, _ := args.Get(0).(PageInfo)
	return info
}

// Close is the mock implementation of the Close method.
func (m *MockSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockAgent is a mock implementation of the Agent interface for testing.
type MockAgent struct {
	mock.Mock
}

// Run is the mock implementation of the Run method.
func (m *MockAgent) Run(ctx context.Context, sess Session, goal, startURL string) ([]task.Step, string, error) {
	args := m.Called(ctx, sess, goal, startURL)
	steps, _ := args.Get(0).([]task.Step)
	return steps, args.String(1), args.Error(2)
}

package processor

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/database"
	"github.com/flowforge/browser-runner/internal/queue"
	"github.com/flowforge/browser-runner/internal/report"
	"github.com/flowforge/browser-runner/internal/storage"
	"github.com/flowforge/browser-runner/internal/task"
)

type stubClock struct {
	t time.Time
}

func (c *stubClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, msg task.Message) (*task.Result, error) {
	args := m.Called(ctx, msg)
	result, _ := args.Get(0).(*task.Result)
	return result, args.Error(1)
}

type fixture struct {
	queue      *queue.MockProvider
	store      *storage.MockProvider
	reporter   *report.MockClient
	automation *mockExecutor
	scan       *mockExecutor
	attempts   *database.MockProvider
	processor  *Processor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		queue:      &queue.MockProvider{},
		store:      &storage.MockProvider{},
		reporter:   &report.MockClient{},
		automation: &mockExecutor{},
		scan:       &mockExecutor{},
		attempts:   &database.MockProvider{},
	}
	f.processor = New(
		f.queue, f.store, f.reporter, f.automation, f.scan, f.attempts,
		&stubClock{t: time.Unix(1700000000, 0)}, cfg, zap.NewNop(),
	)
	return f
}

func delivery(t *testing.T, msg map[string]any) queue.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return queue.Delivery{MessageID: "m-1", Receipt: "r-1", Body: body}
}

func validBody() map[string]any {
	return map[string]any{
		"project_id": "p1",
		"flow_id":    "f1",
		"url":        "https://example.com",
		"prompt":     "do the thing",
	}
}

// TestHandleMalformedDeletesWithoutExecuting checks that undecodable and
// invalid messages are deleted immediately and never reach an executor.
func TestHandleMalformedDeletesWithoutExecuting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 2})
	f.queue.On("Delete", mock.Anything, "r-1").Return(nil).Twice()

	f.processor.handle(context.Background(), queue.Delivery{MessageID: "m-1", Receipt: "r-1", Body: []byte("not json")})

	missing := validBody()
	delete(missing, "url")
	f.processor.handle(context.Background(), delivery(t, missing))
	f.processor.wg.Wait()

	f.queue.AssertExpectations(t)
	f.automation.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	f.scan.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	f.reporter.AssertNotCalled(t, "SendSessionResult", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestHandleDefaultsToAutomation routes a message without a type field to the
// automation executor and acknowledges it after a delivered report.
func TestHandleDefaultsToAutomation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 2})
	f.queue.On("ExtendVisibility", mock.Anything, "r-1", mock.Anything).Return(nil)
	f.queue.On("Delete", mock.Anything, "r-1").Return(nil)

	f.automation.On("Execute", mock.Anything, mock.MatchedBy(func(m task.Message) bool {
		return m.Type == task.TypeAutomation && m.ProjectID == "p1"
	})).Return(&task.Result{Status: task.StatusCompleted, Summary: "done"}, nil)

	var sent report.SessionResult
	f.reporter.On("SendSessionResult", mock.Anything, "p1", "f1", mock.Anything).
		Run(func(args mock.Arguments) {
			sent = args.Get(3).(report.SessionResult)
		}).Return(nil)
	f.attempts.On("RecordAttempt", mock.Anything, mock.Anything).Return("a-1", nil)

	f.processor.handle(context.Background(), delivery(t, validBody()))
	f.processor.wg.Wait()

	f.automation.AssertExpectations(t)
	f.queue.AssertExpectations(t)
	f.scan.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	assert.Equal(t, task.StatusCompleted, sent.Status)
	assert.Equal(t, "done", sent.Metadata.ResultSummary)
	assert.Equal(t, "https://example.com", sent.Metadata.StartingURL)
	assert.NotNil(t, sent.AgentHistory)
	assert.NotNil(t, sent.MediaURLs)
}

// TestHandleRoutesScan dispatches typed scan messages to the scan executor.
func TestHandleRoutesScan(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 2})
	f.queue.On("ExtendVisibility", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.queue.On("Delete", mock.Anything, mock.Anything).Return(nil)

	f.scan.On("Execute", mock.Anything, mock.MatchedBy(func(m task.Message) bool {
		return m.Type == task.TypeScan && m.ScanType == task.ScanFull
	})).Return(&task.Result{Status: task.StatusCompleted, Data: map[string]any{"content": map[string]any{}}}, nil)

	f.reporter.On("SendSessionResult", mock.Anything, "p1", "f1", mock.Anything).Return(nil)
	f.attempts.On("RecordAttempt", mock.Anything, mock.Anything).Return("a-1", nil)

	body := validBody()
	body["type"] = "scan"
	f.processor.handle(context.Background(), delivery(t, body))
	f.processor.wg.Wait()

	f.scan.AssertExpectations(t)
	f.automation.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

// TestHandleSaturatedPoolLeavesMessage verifies queue-native backpressure:
// with every slot busy the message is neither executed nor deleted.
func TestHandleSaturatedPoolLeavesMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 1})

	// Occupy the only slot.
	f.processor.sem <- struct{}{}

	f.processor.handle(context.Background(), delivery(t, validBody()))

	f.automation.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	f.queue.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	f.queue.AssertNotCalled(t, "ExtendVisibility", mock.Anything, mock.Anything, mock.Anything)

	<-f.processor.sem
}

// TestHandleExtendsVisibilityWithGrace checks the up-front extension covers
// the message timeout plus the configured grace.
func TestHandleExtendsVisibilityWithGrace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 1, Grace: 30 * time.Second})
	f.queue.On("ExtendVisibility", mock.Anything, "r-1", 90*time.Second).Return(nil)
	f.queue.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.automation.On("Execute", mock.Anything, mock.Anything).
		Return(&task.Result{Status: task.StatusCompleted}, nil)
	f.reporter.On("SendSessionResult", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.attempts.On("RecordAttempt", mock.Anything, mock.Anything).Return("a-1", nil)

	body := validBody()
	body["timeout"] = 60
	f.processor.handle(context.Background(), delivery(t, body))
	f.processor.wg.Wait()

	f.queue.AssertExpectations(t)
}

// TestProcessFailedExecutionReportsButKeepsMessage: a failed attempt is still
// reported upstream, but the message stays on the queue for redelivery.
func TestProcessFailedExecutionReportsButKeepsMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 1})
	f.queue.On("ExtendVisibility", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	failed := &task.Result{
		Status: task.StatusFailed,
		Err:    task.Errorf(task.KindTimeout, "deadline exceeded"),
	}
	f.automation.On("Execute", mock.Anything, mock.Anything).Return(failed, failed.Err)

	var sent report.SessionResult
	f.reporter.On("SendSessionResult", mock.Anything, "p1", "f1", mock.Anything).
		Run(func(args mock.Arguments) {
			sent = args.Get(3).(report.SessionResult)
		}).Return(nil)

	var recorded database.Attempt
	f.attempts.On("RecordAttempt", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			recorded = args.Get(1).(database.Attempt)
		}).Return("a-1", nil)

	f.processor.handle(context.Background(), delivery(t, validBody()))
	f.processor.wg.Wait()

	f.queue.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	assert.Equal(t, task.StatusFailed, sent.Status)
	assert.Contains(t, sent.Error, "timeout")
	assert.Equal(t, "failed", recorded.Status)
	assert.Contains(t, recorded.Error, "timeout")
}

// TestProcessReportFailureKeepsCompletedMessage: without a delivered report
// even a completed execution is left for redelivery.
func TestProcessReportFailureKeepsCompletedMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 1})
	f.queue.On("ExtendVisibility", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.automation.On("Execute", mock.Anything, mock.Anything).
		Return(&task.Result{Status: task.StatusCompleted}, nil)
	f.reporter.On("SendSessionResult", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(task.Errorf(task.KindReportFailure, "upstream down"))
	f.attempts.On("RecordAttempt", mock.Anything, mock.Anything).Return("a-1", nil)

	f.processor.handle(context.Background(), delivery(t, validBody()))
	f.processor.wg.Wait()

	f.queue.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

// TestProcessUploadsArtifactsWithContainment uploads each artifact under a
// deterministic key, tolerates per-artifact failures, and removes temp files.
func TestProcessUploadsArtifactsWithContainment(t *testing.T) {
	t.Parallel()

	good, err := os.CreateTemp(t.TempDir(), "artifact-*.png")
	require.NoError(t, err)
	_, err = good.WriteString("png-bytes")
	require.NoError(t, err)
	require.NoError(t, good.Close())

	f := newFixture(t, Config{Concurrency: 1, StoragePrefix: "media"})
	f.queue.On("ExtendVisibility", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.queue.On("Delete", mock.Anything, mock.Anything).Return(nil)

	result := &task.Result{
		Status: task.StatusCompleted,
		Artifacts: []task.Artifact{
			{Name: "screenshot.png", ContentType: "image/png", Path: good.Name()},
			{Name: "missing.png", ContentType: "image/png", Path: "/nonexistent/file.png"},
		},
	}
	f.automation.On("Execute", mock.Anything, mock.Anything).Return(result, nil)

	f.store.On("Put", mock.Anything, "media/p1/f1/m-1_screenshot.png", "image/png", []byte("png-bytes")).
		Return("https://storage.googleapis.com/bucket/media/p1/f1/m-1_screenshot.png", nil)

	var sent report.SessionResult
	f.reporter.On("SendSessionResult", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sent = args.Get(3).(report.SessionResult)
		}).Return(nil)
	f.attempts.On("RecordAttempt", mock.Anything, mock.Anything).Return("a-1", nil)

	f.processor.handle(context.Background(), delivery(t, validBody()))
	f.processor.wg.Wait()

	f.store.AssertExpectations(t)
	require.Len(t, sent.MediaURLs, 1)
	assert.Equal(t, 2, sent.Metadata.MediaFileCount)
	assert.Equal(t, 1, sent.Metadata.SuccessfulUploads)

	_, statErr := os.Stat(good.Name())
	assert.True(t, os.IsNotExist(statErr), "expected temp artifact to be removed")
}

// TestRunDrainsBeforeReturning verifies Run exits only after in-flight work
// finishes when the context is canceled.
func TestRunDrainsBeforeReturning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 1, PollWait: 10 * time.Millisecond})

	started := make(chan struct{})
	release := make(chan struct{})

	f.queue.On("Receive", mock.Anything, 1, 10*time.Millisecond).
		Return([]queue.Delivery{delivery(t, validBody())}, nil).Once()
	f.queue.On("Receive", mock.Anything, 1, 10*time.Millisecond).
		Return([]queue.Delivery(nil), nil)
	f.queue.On("ExtendVisibility", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.queue.On("Delete", mock.Anything, mock.Anything).Return(nil)

	f.automation.On("Execute", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).Return(&task.Result{Status: task.StatusCompleted}, nil)
	f.reporter.On("SendSessionResult", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.attempts.On("RecordAttempt", mock.Anything, mock.Anything).Return("a-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.processor.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a task was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after in-flight work finished")
	}
	assert.Zero(t, f.processor.InFlight())
}

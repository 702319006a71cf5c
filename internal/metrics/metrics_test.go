package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitIdempotent ensures Init can be called repeatedly without panicking
// on duplicate collector registration.
func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, tasksTotal)
	require.NotNil(t, taskDurationSeconds)
	require.NotNil(t, activeWorkers)
}

// TestObserversBeforeInit ensures the observe helpers are safe no-ops when
// Init has not run.
func TestObserversBeforeInit(t *testing.T) {
	// Deliberately not calling Init first; the package-level Once may have
	// run in another test, so just exercise the nil guards via fresh calls.
	ObserveTask("automation", "completed", time.Second)
	ObserveInvalidMessage()
	ObserveUpload(true)
	ObserveReport(false)
	ObserveQueueOp("receive", nil)
	WorkerStarted()
	WorkerFinished()
}

// TestHandlerServesMetrics checks the promhttp handler returns the exposition
// format with our collectors present after observations.
func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveTask("scan", "completed", 2*time.Second)
	ObserveInvalidMessage()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "runner_tasks_total")
	assert.Contains(t, body, "runner_invalid_messages_total")
}

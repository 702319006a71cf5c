// Package report contains tests for the HTTP result reporter.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/task"
)

func testClient(t *testing.T, baseURL string, maxRetries int) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(Config{
		BaseURL:     baseURL,
		Timeout:     2 * time.Second,
		MaxRetries:  maxRetries,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

// TestSendSessionResultPostsToDerivedPath verifies the endpoint path and payload shape.
func TestSendSessionResultPostsToDerivedPath(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody SessionResult
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1)
	err := c.SendSessionResult(context.Background(), "p1", "f1", SessionResult{
		Status:    task.StatusCompleted,
		MediaURLs: []string{"https://cdn.example.com/shot.png"},
		Metadata:  Metadata{MediaFileCount: 1, SuccessfulUploads: 1, StartingURL: "https://example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/project/p1/flow/f1/session/create", gotPath)
	assert.Equal(t, task.StatusCompleted, gotBody.Status)
	assert.Equal(t, 1, gotBody.Metadata.SuccessfulUploads)
}

// TestSendSessionResultRetriesServerErrors checks transient 5xx responses are
// retried until success.
func TestSendSessionResultRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	err := c.SendSessionResult(context.Background(), "p", "f", SessionResult{Status: task.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

// TestSendSessionResultDoesNotRetryClientErrors ensures 4xx rejections fail
// immediately as a ReportFailure.
func TestSendSessionResultDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 5)
	err := c.SendSessionResult(context.Background(), "p", "f", SessionResult{Status: task.StatusFailed})
	require.Error(t, err)
	assert.Equal(t, task.KindReportFailure, task.KindOf(err))
	assert.True(t, errors.Is(err, errPermanent))
	assert.Equal(t, int32(1), calls.Load())
}

// TestSendSessionResultExhaustsRetries verifies the bounded local budget.
func TestSendSessionResultExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2)
	err := c.SendSessionResult(context.Background(), "p", "f", SessionResult{Status: task.StatusCompleted})
	require.Error(t, err)
	assert.Equal(t, task.KindReportFailure, task.KindOf(err))
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

// TestNewHTTPClientRejectsRelativeBase covers constructor validation.
func TestNewHTTPClientRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPClient(Config{BaseURL: "/not-absolute"}, zap.NewNop())
	assert.Error(t, err)
}

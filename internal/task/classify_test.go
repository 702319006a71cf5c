// Package task contains tests for message classification.
package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClassifyDefaultsToAutomation verifies backward compatibility: no type
// field means automation.
func TestClassifyDefaultsToAutomation(t *testing.T) {
	t.Parallel()

	c := Classify([]byte(`{"project_id":"p1","flow_id":"f1","url":"https://example.com","prompt":"click around"}`))
	require.Equal(t, KindAutomation, c.Kind)
	assert.Equal(t, TypeAutomation, c.Message.Type)
	assert.Equal(t, "p1", c.Message.ProjectID)
	assert.Equal(t, DefaultTimeout, c.Message.Timeout())
}

// TestClassifyScanDefaults checks scan_type defaulting and pass expansion.
func TestClassifyScanDefaults(t *testing.T) {
	t.Parallel()

	c := Classify([]byte(`{"type":"scan","project_id":"p","flow_id":"f","url":"https://x.com"}`))
	require.Equal(t, KindScan, c.Kind)
	assert.Equal(t, ScanFull, c.Message.ScanType)
	assert.Len(t, c.Message.ScanType.Passes(), 5)
	assert.Equal(t, []ScanType{ScanContent}, ScanContent.Passes())
}

// TestClassifyInvalid enumerates structurally invalid bodies.
func TestClassifyInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":         `{"project_id":`,
		"missing project":  `{"flow_id":"f","url":"https://x.com"}`,
		"missing flow":     `{"project_id":"p","url":"https://x.com"}`,
		"missing url":      `{"project_id":"p","flow_id":"f"}`,
		"relative url":     `{"project_id":"p","flow_id":"f","url":"/index.html"}`,
		"unknown type":     `{"type":"mystery","project_id":"p","flow_id":"f","url":"https://x.com"}`,
		"unknown scantype": `{"type":"scan","scan_type":"vibes","project_id":"p","flow_id":"f","url":"https://x.com"}`,
	}
	for name, body := range cases {
		c := Classify([]byte(body))
		assert.Equal(t, KindInvalid, c.Kind, name)
		assert.NotEmpty(t, c.Reason, name)
	}
}

// TestClassifyHonorsExplicitTimeout ensures the timeout field overrides the default.
func TestClassifyHonorsExplicitTimeout(t *testing.T) {
	t.Parallel()

	c := Classify([]byte(`{"project_id":"p","flow_id":"f","url":"https://x.com","timeout":30}`))
	require.Equal(t, KindAutomation, c.Kind)
	assert.Equal(t, "30s", c.Message.Timeout().String())
}

// TestErrorKinds covers classification of attempt errors.
func TestErrorKinds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindMalformed, KindOf(Errorf(KindMalformed, "bad body")))
	assert.Equal(t, KindExecutionFailure, KindOf(assert.AnError))

	assert.False(t, Retriable(Errorf(KindMalformed, "bad body")))
	assert.True(t, Retriable(Errorf(KindTimeout, "deadline")))
	assert.True(t, Retriable(assert.AnError))
}

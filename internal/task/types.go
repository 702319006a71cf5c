// Package task defines the message model, classification, and error taxonomy
// shared across the processing pipeline.
package task

import (
	"time"
)

// Type identifies the execution pipeline a message is routed to.
type Type string

// Message types accepted on the queue. An absent type field means automation.
const (
	TypeAutomation Type = "automation"
	TypeScan       Type = "scan"
)

// ScanType selects which analysis passes a scan runs.
type ScanType string

// Scan types; "full" runs every pass.
const (
	ScanFull          ScanType = "full"
	ScanContent       ScanType = "content"
	ScanStructure     ScanType = "structure"
	ScanAccessibility ScanType = "accessibility"
	ScanSecurity      ScanType = "security"
	ScanPerformance   ScanType = "performance"
)

// DefaultTimeout bounds executor runtime when the message does not set one.
const DefaultTimeout = 300 * time.Second

// Message is the logical unit of work pulled from the queue.
type Message struct {
	Type            Type     `json:"type,omitempty"`
	ProjectID       string   `json:"project_id"`
	FlowID          string   `json:"flow_id"`
	URL             string   `json:"url"`
	Prompt          string   `json:"prompt,omitempty"`
	ScanType        ScanType `json:"scan_type,omitempty"`
	CustomSelectors []string `json:"custom_selectors,omitempty"`
	ExtractGoals    []string `json:"extract_goals,omitempty"`
	TimeoutSeconds  int      `json:"timeout,omitempty"`
}

// Timeout returns the executor deadline for this message.
func (m Message) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// Status is the outcome of one execution attempt.
type Status string

// Attempt outcomes reported upstream.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepType labels entries in the agent history.
type StepType string

// Step types recorded during execution.
const (
	StepNavigate   StepType = "navigate"
	StepObserve    StepType = "observe"
	StepAction     StepType = "action"
	StepScreenshot StepType = "screenshot"
	StepResult     StepType = "result"
	StepError      StepType = "error"
)

// Step is one entry in the ordered agent history.
type Step struct {
	Timestamp time.Time `json:"timestamp"`
	Type      StepType  `json:"type"`
	Content   string    `json:"content"`
}

// Artifact is a media file produced during execution. The executor owns the
// local file until it is handed to the object store.
type Artifact struct {
	Name        string
	ContentType string
	Path        string
}

// Result is the in-memory outcome of one executor run. It is discarded after
// artifacts are uploaded and the report is sent; it is never persisted.
type Result struct {
	Status    Status
	Steps     []Step
	Artifacts []Artifact
	Data      map[string]any
	Summary   string
	Err       *Error
}

// AppendStep records a history entry at the given time.
func (r *Result) AppendStep(ts time.Time, st StepType, content string) {
	r.Steps = append(r.Steps, Step{Timestamp: ts, Type: st, Content: content})
}

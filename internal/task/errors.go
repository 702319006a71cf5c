package task

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind buckets failures by how the processor must react to them.
type ErrorKind string

// Failure kinds. Malformed messages are deleted; Timeout and ExecutionFailure
// defer to queue redelivery; UploadFailure is contained per artifact;
// ReportFailure is retried locally before failing the attempt.
const (
	KindMalformed        ErrorKind = "malformed"
	KindTimeout          ErrorKind = "timeout"
	KindExecutionFailure ErrorKind = "execution_failure"
	KindUploadFailure    ErrorKind = "upload_failure"
	KindReportFailure    ErrorKind = "report_failure"
)

// Error carries the failure kind alongside the cause.
type Error struct {
	Kind  ErrorKind
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// NewError wraps cause with a failure kind.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// KindOf classifies an arbitrary error. Deadline expiry maps to Timeout;
// anything unrecognized is an ExecutionFailure.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindExecutionFailure
}

// Retriable reports whether an attempt that failed with err should be left on
// the queue for redelivery. Malformed input never is.
func Retriable(err error) bool {
	return KindOf(err) != KindMalformed
}

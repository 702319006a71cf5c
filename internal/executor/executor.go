// Package executor turns classified messages into execution results using a
// browser session.
package executor

import (
	"context"
	"fmt"
	"os"

	"github.com/flowforge/browser-runner/internal/browser"
	"github.com/flowforge/browser-runner/internal/task"
)

// Executor runs one message to completion and returns the attempt result.
// A non-nil Result is returned even on failure so partial history and
// artifacts can still be reported.
type Executor interface {
	Execute(ctx context.Context, msg task.Message) (*task.Result, error)
}

// captureScreenshot writes a full-page screenshot to a temp file and appends
// it to the result's artifacts. Screenshot failures are contained: the result
// stays valid without the artifact.
func captureScreenshot(ctx context.Context, sess browser.Session, result *task.Result) error {
	data, err := sess.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}

	f, err := os.CreateTemp("", "runner-screenshot-*.png")
	if err != nil {
		return fmt.Errorf("create screenshot file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("write screenshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("close screenshot file: %w", err)
	}

	result.Artifacts = append(result.Artifacts, task.Artifact{
		Name:        "screenshot.png",
		ContentType: "image/png",
		Path:        f.Name(),
	})
	return nil
}

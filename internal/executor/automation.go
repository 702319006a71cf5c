package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/browser"
	"github.com/flowforge/browser-runner/internal/task"
)

// AutomationExecutor runs natural-language automation tasks through the agent.
type AutomationExecutor struct {
	engine browser.Engine
	agent  browser.Agent
	logger *zap.Logger
	now    func() time.Time
}

// NewAutomationExecutor wires the executor to an engine and an agent.
func NewAutomationExecutor(engine browser.Engine, agent browser.Agent, logger *zap.Logger) *AutomationExecutor {
	return &AutomationExecutor{
		engine: engine,
		agent:  agent,
		logger: logger,
		now:    time.Now,
	}
}

// Execute runs the agent under the message's deadline. The session is closed
// on every path; deadline expiry tears it down mid-run.
func (e *AutomationExecutor) Execute(ctx context.Context, msg task.Message) (*task.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, msg.Timeout())
	defer cancel()

	result := &task.Result{Status: task.StatusFailed, Data: map[string]any{}}

	sess, err := e.engine.NewSession(runCtx)
	if err != nil {
		result.Err = task.NewError(task.KindOf(err), fmt.Errorf("open session: %w", err))
		return result, result.Err
	}
	defer sess.Close()

	steps, summary, runErr := e.agent.Run(runCtx, sess, msg.Prompt, msg.URL)
	result.Steps = steps
	result.Summary = summary

	// Screenshot whatever state the page ended in, even after a failure.
	if shotErr := captureScreenshot(runCtx, sess, result); shotErr != nil {
		e.logger.Warn("screenshot skipped",
			zap.String("project_id", msg.ProjectID),
			zap.String("flow_id", msg.FlowID),
			zap.Error(shotErr),
		)
	}

	if runErr != nil {
		result.Err = task.NewError(task.KindOf(runErr), runErr)
		result.AppendStep(e.now(), task.StepError, result.Err.Error())
		return result, result.Err
	}

	result.Status = task.StatusCompleted
	return result, nil
}

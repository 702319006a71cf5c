package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/browser"
	"github.com/flowforge/browser-runner/internal/llm"
	"github.com/flowforge/browser-runner/internal/probe"
	"github.com/flowforge/browser-runner/internal/task"
)

// ScanExecutor analyzes a page in one or more passes over a single session.
type ScanExecutor struct {
	engine browser.Engine
	llm    llm.Client
	prober probe.Prober
	logger *zap.Logger
	now    func() time.Time
}

// NewScanExecutor wires the executor to an engine, a model client, and an
// HTTP prober.
func NewScanExecutor(engine browser.Engine, client llm.Client, prober probe.Prober, logger *zap.Logger) *ScanExecutor {
	return &ScanExecutor{
		engine: engine,
		llm:    client,
		prober: prober,
		logger: logger,
		now:    time.Now,
	}
}

// Execute loads the page once and runs the requested passes against it. A
// failed pass is recorded in its own section and never aborts the others; the
// scan counts as completed whenever the initial page load succeeded.
func (e *ScanExecutor) Execute(ctx context.Context, msg task.Message) (*task.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, msg.Timeout())
	defer cancel()

	result := &task.Result{Status: task.StatusFailed, Data: map[string]any{}}

	sess, err := e.engine.NewSession(runCtx)
	if err != nil {
		result.Err = task.NewError(task.KindOf(err), fmt.Errorf("open session: %w", err))
		return result, result.Err
	}
	defer sess.Close()

	if err := sess.Navigate(runCtx, msg.URL); err != nil {
		result.Err = task.NewError(task.KindOf(err), fmt.Errorf("load page: %w", err))
		result.AppendStep(e.now(), task.StepError, result.Err.Error())
		return result, result.Err
	}
	result.AppendStep(e.now(), task.StepNavigate, msg.URL)

	html, err := sess.HTML(runCtx)
	if err != nil {
		result.Err = task.NewError(task.KindOf(err), fmt.Errorf("read page: %w", err))
		result.AppendStep(e.now(), task.StepError, result.Err.Error())
		return result, result.Err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		result.Err = task.NewError(task.KindExecutionFailure, fmt.Errorf("parse page: %w", err))
		result.AppendStep(e.now(), task.StepError, result.Err.Error())
		return result, result.Err
	}

	// The page loaded; pass failures from here on are contained.
	result.Status = task.StatusCompleted

	passes := msg.ScanType.Passes()
	succeeded := 0
	for _, pass := range passes {
		data, passErr := e.runPass(runCtx, pass, sess, doc, msg)
		if passErr != nil {
			e.logger.Warn("scan pass failed",
				zap.String("project_id", msg.ProjectID),
				zap.String("flow_id", msg.FlowID),
				zap.String("pass", string(pass)),
				zap.Error(passErr),
			)
			result.Data[string(pass)] = map[string]any{"error": passErr.Error()}
			result.AppendStep(e.now(), task.StepError, fmt.Sprintf("%s pass failed: %v", pass, passErr))
			continue
		}
		result.Data[string(pass)] = data
		result.AppendStep(e.now(), task.StepObserve, fmt.Sprintf("%s pass completed", pass))
		succeeded++
	}

	if len(msg.CustomSelectors) > 0 {
		result.Data["custom_selectors"] = e.extractSelectors(runCtx, sess, msg.CustomSelectors)
		result.AppendStep(e.now(), task.StepObserve, fmt.Sprintf("extracted %d custom selectors", len(msg.CustomSelectors)))
	}

	if shotErr := captureScreenshot(runCtx, sess, result); shotErr != nil {
		e.logger.Warn("screenshot skipped",
			zap.String("project_id", msg.ProjectID),
			zap.String("flow_id", msg.FlowID),
			zap.Error(shotErr),
		)
	} else {
		result.AppendStep(e.now(), task.StepScreenshot, "full page screenshot captured")
	}

	result.Summary = fmt.Sprintf("scanned %s: %d/%d passes succeeded", msg.URL, succeeded, len(passes))
	result.AppendStep(e.now(), task.StepResult, result.Summary)
	return result, nil
}

func (e *ScanExecutor) runPass(ctx context.Context, pass task.ScanType, sess browser.Session, doc *goquery.Document, msg task.Message) (map[string]any, error) {
	switch pass {
	case task.ScanContent:
		return e.contentPass(ctx, doc, msg.ExtractGoals)
	case task.ScanStructure:
		return e.structurePass(ctx, sess, doc)
	case task.ScanAccessibility:
		return e.accessibilityPass(doc)
	case task.ScanSecurity:
		return e.securityPass(ctx, sess, doc, msg.URL)
	case task.ScanPerformance:
		return e.performancePass(ctx, sess)
	default:
		return nil, fmt.Errorf("unknown pass %q", pass)
	}
}

// extractSelectors evaluates each selector in the page, capturing failures
// per selector instead of failing the extraction.
func (e *ScanExecutor) extractSelectors(ctx context.Context, sess browser.Session, selectors []string) []map[string]any {
	out := make([]map[string]any, 0, len(selectors))
	for _, sel := range selectors {
		entry := map[string]any{"selector": sel}
		expr := fmt.Sprintf(`(() => {
			const els = Array.from(document.querySelectorAll(%q)).slice(0, 10);
			return {
				count: els.length,
				text: els.map(el => el.innerText.trim().slice(0, 500)),
				html: els.map(el => el.outerHTML.slice(0, 2000)),
			};
		})()`, sel)

		var extracted map[string]any
		if err := sess.Evaluate(ctx, expr, &extracted); err != nil {
			entry["error"] = err.Error()
		} else {
			for k, v := range extracted {
				entry[k] = v
			}
		}
		out = append(out, entry)
	}
	return out
}

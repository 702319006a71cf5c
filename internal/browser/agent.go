package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/llm"
	"github.com/flowforge/browser-runner/internal/task"
)

// Agent drives a browser session toward a natural-language goal and records
// the ordered history of what it did.
type Agent interface {
	Run(ctx context.Context, sess Session, goal string, startURL string) ([]task.Step, string, error)
}

// DefaultMaxActions bounds the agent loop when not configured.
const DefaultMaxActions = 15

// maxPageChars caps how much page text is fed to the model per step.
const maxPageChars = 12000

// LLMAgent plans one action at a time by showing the model the current page.
type LLMAgent struct {
	llm        llm.Client
	logger     *zap.Logger
	maxActions int
	now        func() time.Time
}

// NewLLMAgent creates an agent backed by the given model client.
func NewLLMAgent(client llm.Client, logger *zap.Logger, maxActions int) *LLMAgent {
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	return &LLMAgent{
		llm:        client,
		logger:     logger,
		maxActions: maxActions,
		now:        time.Now,
	}
}

// agentAction is the single JSON object the model must answer with.
type agentAction struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Content  string `json:"content,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// Run navigates to startURL and then executes model-chosen actions until the
// model declares the goal done or the action budget runs out.
func (a *LLMAgent) Run(ctx context.Context, sess Session, goal, startURL string) ([]task.Step, string, error) {
	var steps []task.Step
	record := func(st task.StepType, content string) {
		steps = append(steps, task.Step{Timestamp: a.now(), Type: st, Content: content})
	}

	if err := sess.Navigate(ctx, startURL); err != nil {
		record(task.StepError, fmt.Sprintf("initial navigation failed: %v", err))
		return steps, "", fmt.Errorf("navigate %s: %w", startURL, err)
	}
	record(task.StepNavigate, startURL)

	for i := 0; i < a.maxActions; i++ {
		if err := ctx.Err(); err != nil {
			return steps, "", err
		}

		page, err := sess.HTML(ctx)
		if err != nil {
			record(task.StepError, fmt.Sprintf("read page failed: %v", err))
			return steps, "", fmt.Errorf("read page: %w", err)
		}
		record(task.StepObserve, sess.Info().URL)

		raw, err := a.llm.Complete(ctx, a.buildPrompt(goal, page, steps))
		if err != nil {
			record(task.StepError, fmt.Sprintf("model call failed: %v", err))
			return steps, "", fmt.Errorf("model call: %w", err)
		}

		action, err := parseAction(raw)
		if err != nil {
			record(task.StepError, fmt.Sprintf("unparseable model action: %v", err))
			return steps, "", fmt.Errorf("parse action: %w", err)
		}

		done, summary, err := a.apply(ctx, sess, action, record)
		if err != nil {
			return steps, "", err
		}
		if done {
			record(task.StepResult, summary)
			return steps, summary, nil
		}
	}

	summary := fmt.Sprintf("stopped after %d actions without completing the goal", a.maxActions)
	record(task.StepResult, summary)
	return steps, summary, nil
}

func (a *LLMAgent) apply(ctx context.Context, sess Session, action agentAction, record func(task.StepType, string)) (bool, string, error) {
	switch action.Action {
	case "navigate":
		if err := sess.Navigate(ctx, action.URL); err != nil {
			record(task.StepError, fmt.Sprintf("navigate %s failed: %v", action.URL, err))
			return false, "", fmt.Errorf("navigate %s: %w", action.URL, err)
		}
		record(task.StepNavigate, action.URL)
	case "click":
		expr := fmt.Sprintf("document.querySelector(%q).click(); true", action.Selector)
		if err := sess.Evaluate(ctx, expr, nil); err != nil {
			record(task.StepError, fmt.Sprintf("click %s failed: %v", action.Selector, err))
			return false, "", fmt.Errorf("click %s: %w", action.Selector, err)
		}
		record(task.StepAction, fmt.Sprintf("click %s", action.Selector))
	case "type":
		expr := fmt.Sprintf(
			"(() => { const el = document.querySelector(%q); el.value = %q; el.dispatchEvent(new Event('input', {bubbles: true})); return true; })()",
			action.Selector, action.Value,
		)
		if err := sess.Evaluate(ctx, expr, nil); err != nil {
			record(task.StepError, fmt.Sprintf("type into %s failed: %v", action.Selector, err))
			return false, "", fmt.Errorf("type into %s: %w", action.Selector, err)
		}
		record(task.StepAction, fmt.Sprintf("type %q into %s", action.Value, action.Selector))
	case "extract":
		record(task.StepObserve, action.Content)
	case "done":
		return true, action.Summary, nil
	default:
		record(task.StepError, fmt.Sprintf("unknown action %q", action.Action))
		return false, "", fmt.Errorf("unknown action %q", action.Action)
	}
	return false, "", nil
}

func (a *LLMAgent) buildPrompt(goal, page string, steps []task.Step) string {
	if len(page) > maxPageChars {
		page = page[:maxPageChars]
	}

	var history strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&history, "- %s: %s\n", s.Type, s.Content)
	}

	return fmt.Sprintf(`You are a browser automation agent working toward a goal.

Goal: %s

Actions taken so far:
%s
Current page HTML (truncated):
%s

Respond with exactly one JSON object and nothing else. Choose one of:
{"action":"navigate","url":"..."}
{"action":"click","selector":"..."}
{"action":"type","selector":"...","value":"..."}
{"action":"extract","content":"<information found on this page>"}
{"action":"done","summary":"<what was accomplished>"}`, goal, history.String(), page)
}

// parseAction decodes the model reply, tolerating markdown code fences.
func parseAction(raw string) (agentAction, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var action agentAction
	if err := json.Unmarshal([]byte(cleaned), &action); err != nil {
		return agentAction{}, fmt.Errorf("decode action %q: %w", truncate(cleaned, 120), err)
	}
	if action.Action == "" {
		return agentAction{}, fmt.Errorf("action field missing in %q", truncate(cleaned, 120))
	}
	return action, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

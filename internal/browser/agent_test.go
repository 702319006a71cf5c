package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/llm"
	"github.com/flowforge/browser-runner/internal/task"
)

// TestLLMAgentCompletesGoal drives the agent through a click followed by a
// done action and checks the recorded history.
func TestLLMAgentCompletesGoal(t *testing.T) {
	t.Parallel()

	sess := &MockSession{}
	sess.On("Navigate", mock.Anything, "https://example.com").Return(nil)
	sess.On("HTML", mock.Anything).Return("<html><body><a id=\"go\">go</a></body></html>", nil)
	sess.On("Info").Return(PageInfo{URL: "https://example.com"})
	sess.On("Evaluate", mock.Anything, mock.Anything, nil).Return(nil)

	client := &llm.MockClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(`{"action":"click","selector":"#go"}`, nil).Once()
	client.On("Complete", mock.Anything, mock.Anything).Return(`{"action":"done","summary":"clicked the link"}`, nil).Once()

	agent := NewLLMAgent(client, zap.NewNop(), 5)
	steps, summary, err := agent.Run(context.Background(), sess, "click the go link", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "clicked the link", summary)

	var types []task.StepType
	for _, s := range steps {
		types = append(types, s.Type)
	}
	assert.Equal(t, []task.StepType{
		task.StepNavigate,
		task.StepObserve,
		task.StepAction,
		task.StepObserve,
		task.StepResult,
	}, types)
	sess.AssertExpectations(t)
	client.AssertExpectations(t)
}

// TestLLMAgentActionBudget stops the loop once the configured number of
// actions has been spent.
func TestLLMAgentActionBudget(t *testing.T) {
	t.Parallel()

	sess := &MockSession{}
	sess.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	sess.On("HTML", mock.Anything).Return("<html></html>", nil)
	sess.On("Info").Return(PageInfo{URL: "https://example.com"})

	client := &llm.MockClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(`{"action":"extract","content":"still looking"}`, nil)

	agent := NewLLMAgent(client, zap.NewNop(), 3)
	steps, summary, err := agent.Run(context.Background(), sess, "find the answer", "https://example.com")
	require.NoError(t, err)
	assert.Contains(t, summary, "3 actions")
	assert.Equal(t, task.StepResult, steps[len(steps)-1].Type)
	client.AssertNumberOfCalls(t, "Complete", 3)
}

// TestLLMAgentNavigationFailure surfaces the initial navigation error and
// records it in the history.
func TestLLMAgentNavigationFailure(t *testing.T) {
	t.Parallel()

	sess := &MockSession{}
	sess.On("Navigate", mock.Anything, mock.Anything).Return(assert.AnError)

	client := &llm.MockClient{}
	agent := NewLLMAgent(client, zap.NewNop(), 5)

	steps, _, err := agent.Run(context.Background(), sess, "goal", "https://example.com")
	require.Error(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, task.StepError, steps[0].Type)
	client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

// TestParseActionCodeFence tolerates markdown fences around the JSON reply.
func TestParseActionCodeFence(t *testing.T) {
	t.Parallel()

	action, err := parseAction("```json\n{\"action\":\"navigate\",\"url\":\"https://example.com\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "navigate", action.Action)
	assert.Equal(t, "https://example.com", action.URL)
}

// TestParseActionRejectsGarbage fails on replies that are not a JSON action.
func TestParseActionRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseAction("I think you should click the button")
	require.Error(t, err)

	_, err = parseAction("{}")
	require.Error(t, err)
}

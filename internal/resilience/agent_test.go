package resilience

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mosaic/internal/llm"
)

func TestRetryExhaustionReturnsLastArtifact(t *testing.T) {
	// Worker always produces invalid JSON, so the structural check fails
	// on every attempt.
	worker := &llm.MockClient{Model: "worker", Respond: func(string) (string, error) {
		return "{not json", nil
	}}
	agent := NewAgent(worker, nil, 3, 1.0, nil)

	artifact, history, err := agent.ExecuteWithRetry(context.Background(), Task{
		Prompt: "produce config",
		Format: FormatJSON,
	})

	require.NoError(t, err, "exhaustion must not be an error")
	assert.Equal(t, "{not json", artifact)
	require.Len(t, history, 3)
	for i, rec := range history {
		assert.Equal(t, i+1, rec.Attempt)
		assert.Equal(t, TierStructural, rec.Tier)
		assert.False(t, rec.Passed)
	}
	assert.Equal(t, 3, worker.CallCount())
}

func TestFeedbackAugmentsRetryPrompt(t *testing.T) {
	worker := &llm.MockClient{Model: "worker", Responses: []string{"{bad", `{"ok": true}`}}
	agent := NewAgent(worker, nil, 3, 1.0, nil)

	_, history, err := agent.ExecuteWithRetry(context.Background(), Task{
		Prompt: "produce config",
		Format: FormatJSON,
	})

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].Passed)

	calls := worker.Calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0], "Previous attempt failed")
	assert.Contains(t, calls[1], "Previous attempt failed validation")
	assert.Contains(t, calls[1], "Fix the JSON formatting")
}

func TestSemanticNeverRunsAfterStructuralFailure(t *testing.T) {
	worker := &llm.MockClient{Model: "worker", Respond: func(string) (string, error) {
		return "{bad json", nil
	}}
	critic := &llm.MockClient{Model: "critic"}
	agent := NewAgent(worker, NewCriticRouter([]llm.Client{critic}, nil), 2, 1.0, nil)

	_, history, err := agent.ExecuteWithRetry(context.Background(), Task{
		Prompt: "task",
		Format: FormatJSON,
	})

	require.NoError(t, err)
	assert.Equal(t, 0, critic.CallCount(), "critic must not review structurally invalid output")
	for _, rec := range history {
		assert.Equal(t, TierStructural, rec.Tier)
	}
}

func TestPeerReviewPassAndFlag(t *testing.T) {
	worker := &llm.MockClient{Model: "worker", Respond: func(string) (string, error) {
		return `{"ok": true}`, nil
	}}
	critic := &llm.MockClient{Model: "critic", Respond: func(string) (string, error) {
		return "PASS", nil
	}}
	agent := NewAgent(worker, NewCriticRouter([]llm.Client{critic}, nil), 3, 1.0, nil)

	artifact, history, err := agent.ExecuteWithRetry(context.Background(), Task{
		Prompt: "task",
		Format: FormatJSON,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, artifact)
	require.Len(t, history, 1)
	assert.Equal(t, TierSemantic, history[0].Tier)
	assert.True(t, history[0].Passed)
	assert.Equal(t, PeerReview, history[0].Review.Mode)
	assert.Equal(t, "critic", history[0].Review.Critic)
}

func TestSelfReviewWhenOnlyOneModel(t *testing.T) {
	calls := 0
	worker := &llm.MockClient{Model: "solo", Respond: func(prompt string) (string, error) {
		calls++
		if strings.Contains(prompt, "reviewing your own work") {
			return "PASS", nil
		}
		return "artifact text", nil
	}}
	// The only critic shares the worker's model id.
	agent := NewAgent(worker, NewCriticRouter([]llm.Client{worker}, nil), 3, 1.0, nil)

	_, history, err := agent.ExecuteWithRetry(context.Background(), Task{
		Prompt: "task",
		Format: FormatText,
	})

	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Passed)
	assert.Equal(t, SelfReview, history[0].Review.Mode)
	assert.Equal(t, 2, calls)
}

func TestCriticRejectionDrivesRetry(t *testing.T) {
	worker := &llm.MockClient{Model: "worker", Responses: []string{"draft one", "draft two"}}
	criticCalls := 0
	critic := &llm.MockClient{Model: "critic", Respond: func(string) (string, error) {
		criticCalls++
		if criticCalls == 1 {
			return "FAIL: conclusion is unsupported", nil
		}
		return "PASS", nil
	}}
	agent := NewAgent(worker, NewCriticRouter([]llm.Client{critic}, nil), 3, 1.0, nil)

	artifact, history, err := agent.ExecuteWithRetry(context.Background(), Task{
		Prompt: "task",
		Format: FormatText,
	})

	require.NoError(t, err)
	assert.Equal(t, "draft two", artifact)
	require.Len(t, history, 2)
	assert.False(t, history[0].Passed)
	assert.Contains(t, history[0].Message, "conclusion is unsupported")
	assert.True(t, history[1].Passed)

	retryPrompt := worker.Calls()[1]
	assert.Contains(t, retryPrompt, "conclusion is unsupported")
}

func TestValidationBudgetLimiting(t *testing.T) {
	worker := &llm.MockClient{Model: "worker", Respond: func(string) (string, error) {
		return "fine", nil
	}}
	critic := &llm.MockClient{Model: "critic", Respond: func(string) (string, error) {
		return "PASS", nil
	}}
	// Budget covers exactly one semantic check.
	agent := NewAgent(worker, NewCriticRouter([]llm.Client{critic}, nil), 3, PerCheckCost, nil)

	_, first, err := agent.ExecuteWithRetry(context.Background(), Task{Prompt: "t1", Format: FormatText})
	require.NoError(t, err)
	assert.Equal(t, TierSemantic, first[0].Tier)

	_, second, err := agent.ExecuteWithRetry(context.Background(), Task{Prompt: "t2", Format: FormatText})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].Passed)
	assert.Equal(t, BudgetLimited, second[0].Review.Mode)
	assert.Equal(t, 1, critic.CallCount(), "no critic call after budget exhaustion")
}

func TestCriticUnclearResponseIsPass(t *testing.T) {
	worker := &llm.MockClient{Model: "worker", Respond: func(string) (string, error) {
		return "artifact", nil
	}}
	critic := &llm.MockClient{Model: "critic", Respond: func(string) (string, error) {
		return "hmm, interesting work", nil
	}}
	agent := NewAgent(worker, NewCriticRouter([]llm.Client{critic}, nil), 2, 1.0, nil)

	_, history, err := agent.ExecuteWithRetry(context.Background(), Task{Prompt: "t", Format: FormatText})

	require.NoError(t, err)
	assert.True(t, history[0].Passed)
}

func TestValidateStructureFormats(t *testing.T) {
	cases := []struct {
		name     string
		artifact string
		format   Format
		passed   bool
	}{
		{"valid json", `{"a": 1}`, FormatJSON, true},
		{"invalid json", `{"a": `, FormatJSON, false},
		{"valid go snippet", `x := 1` + "\n" + `println(x)`, FormatGo, true},
		{"invalid go snippet", `for { missing brace`, FormatGo, false},
		{"valid go file", "package main\nfunc main() {}", FormatGo, true},
		{"text always passes", "anything at all", FormatText, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateStructure(tc.artifact, tc.format)
			assert.Equal(t, tc.passed, res.Passed, fmt.Sprintf("message: %s", res.Message))
			assert.Equal(t, TierStructural, res.Tier)
		})
	}
}

package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests and dry runs. Responses are
// served by the Respond function when set, otherwise from the Responses
// queue, otherwise by echoing the prompt.
type MockClient struct {
	Model string
	Temp  float64

	// Respond, when non-nil, computes the reply from the prompt.
	Respond func(prompt string) (string, error)
	// Responses is a FIFO of canned replies consumed one per call.
	Responses []string
	// Err, when non-nil, is returned from every call.
	Err error

	mu    sync.Mutex
	calls []string
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *MockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls = append(m.calls, userPrompt)
	var queued string
	var hasQueued bool
	if m.Err == nil && m.Respond == nil && len(m.Responses) > 0 {
		queued = m.Responses[0]
		m.Responses = m.Responses[1:]
		hasQueued = true
	}
	m.mu.Unlock()

	if m.Err != nil {
		return "", &ProviderError{ModelID: m.ModelID(), Err: m.Err}
	}
	// Respond runs outside the lock so concurrent callers stay concurrent.
	if m.Respond != nil {
		return m.Respond(userPrompt)
	}
	if hasQueued {
		return queued, nil
	}
	return userPrompt, nil
}

func (m *MockClient) ModelID() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

func (m *MockClient) Temperature() float64 { return m.Temp }

// CallCount reports how many completions were requested.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the prompts seen so far, in order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

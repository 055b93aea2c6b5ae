package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultOpenAIConfig("test-key")
	cfg.BaseURL = srv.URL
	cfg.Model = "test-model"
	return NewOpenAIClient(cfg, nil)
}

func completionJSON(content string) string {
	return `{"choices":[{"message":{"content":"` + content + `"}}]}`
}

func TestOpenAIClient_CompleteWithSystem(t *testing.T) {
	var gotReq chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionJSON("  hello  ")))
	})

	resp, err := c.CompleteWithSystem(context.Background(), "be brief", "hi")

	require.NoError(t, err)
	assert.Equal(t, "hello", resp, "response is trimmed")
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "be brief", gotReq.Messages[0].Content)
	assert.Equal(t, "test-model", gotReq.Model)
}

func TestOpenAIClient_NoSystemMessageWhenEmpty(t *testing.T) {
	var gotReq chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionJSON("ok")))
	})

	_, err := c.Complete(context.Background(), "hi")

	require.NoError(t, err)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestOpenAIClient_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionJSON("after retry")))
	})

	resp, err := c.Complete(context.Background(), "hi")

	require.NoError(t, err)
	assert.Equal(t, "after retry", resp)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClient_ClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})

	_, err := c.Complete(context.Background(), "hi")

	require.Error(t, err)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "test-model", perr.ModelID)
	assert.Equal(t, int32(1), calls.Load(), "4xx does not retry")
}

func TestOpenAIClient_MissingAPIKey(t *testing.T) {
	cfg := DefaultOpenAIConfig("")
	cfg.Model = "m"
	c := NewOpenAIClient(cfg, nil)

	_, err := c.Complete(context.Background(), "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not configured")
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := c.Complete(context.Background(), "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion returned")
}

func TestParamsCanonical(t *testing.T) {
	t.Run("zero params render empty", func(t *testing.T) {
		assert.Equal(t, "", Params{}.Canonical())
	})

	t.Run("extra keys sorted", func(t *testing.T) {
		p := Params{Extra: map[string]string{"b": "2", "a": "1"}}
		assert.Equal(t, "a=1,b=2", p.Canonical())
	})

	t.Run("fields precede extras", func(t *testing.T) {
		p := Params{MaxTokens: 100, TopP: 0.9, Extra: map[string]string{"seed": "7"}}
		assert.Equal(t, "max_tokens=100,top_p=0.9000,seed=7", p.Canonical())
	})
}

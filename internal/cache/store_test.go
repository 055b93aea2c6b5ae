package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mosaic/internal/llm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFingerprintNormalization(t *testing.T) {
	base := Fingerprint("What is X?", "model-a", 0.0, "be brief", llm.Params{})

	t.Run("whitespace-only prompt differences collide", func(t *testing.T) {
		got := Fingerprint("  What is X?\n\n", "model-a", 0.0, "\tbe brief ", llm.Params{})
		assert.Equal(t, base, got)
	})

	t.Run("temperature change misses", func(t *testing.T) {
		got := Fingerprint("What is X?", "model-a", 0.7, "be brief", llm.Params{})
		assert.NotEqual(t, base, got)
	})

	t.Run("model change misses", func(t *testing.T) {
		got := Fingerprint("What is X?", "model-b", 0.0, "be brief", llm.Params{})
		assert.NotEqual(t, base, got)
	})

	t.Run("system prompt change misses", func(t *testing.T) {
		got := Fingerprint("What is X?", "model-a", 0.0, "be verbose", llm.Params{})
		assert.NotEqual(t, base, got)
	})

	t.Run("param key order is canonical", func(t *testing.T) {
		a := Fingerprint("p", "m", 0.0, "", llm.Params{Extra: map[string]string{"a": "1", "b": "2"}})
		b := Fingerprint("p", "m", 0.0, "", llm.Params{Extra: map[string]string{"b": "2", "a": "1"}})
		assert.Equal(t, a, b)
	})

	t.Run("param value change misses", func(t *testing.T) {
		a := Fingerprint("p", "m", 0.0, "", llm.Params{MaxTokens: 100})
		b := Fingerprint("p", "m", 0.0, "", llm.Params{MaxTokens: 200})
		assert.NotEqual(t, a, b)
	})
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	err := s.Set("prompt", "model-a", "answer", 42, 0.0, "sys", llm.Params{})
	require.NoError(t, err)

	entry, err := s.Get("  prompt  ", "model-a", 0.0, "sys", llm.Params{})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "answer", entry.Response)
	assert.Equal(t, "model-a", entry.ModelID)
	assert.Equal(t, 42, entry.TokensSaved)
}

func TestTemperatureMiss(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("prompt", "model-a", "answer", 1, 0.0, "", llm.Params{}))

	entry, err := s.Get("prompt", "model-a", 0.7, "", llm.Params{})
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("p1", "model-a", "r1", 10, 0.0, "", llm.Params{}))
	require.NoError(t, s.Set("p2", "model-a", "r2", 20, 0.0, "", llm.Params{}))
	require.NoError(t, s.Set("p3", "model-b", "r3", 5, 0.0, "", llm.Params{}))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Entries)
	assert.Equal(t, 2, st.UniqueModels)
	assert.Equal(t, int64(35), st.TokensSaved)
}

func TestEvictAndCompact(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("old", "m", "r", 1, 0.0, "", llm.Params{}))
	// Backdate the entry past the eviction horizon.
	_, err := s.db.Exec(`UPDATE responses SET created_at = ?`, time.Now().Add(-48*time.Hour).Unix())
	require.NoError(t, err)
	require.NoError(t, s.Set("new", "m", "r", 1, 0.0, "", llm.Params{}))

	deleted, err := s.Evict(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries)

	require.NoError(t, s.Compact())

	deleted, err = s.EvictAll()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestConcurrentReadWrite(t *testing.T) {
	s := openTestStore(t)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt := fmt.Sprintf("prompt-%d", i%5)
			_ = s.Set(prompt, "m", "resp", 1, 0.0, "", llm.Params{})
			_, _ = s.Get(prompt, "m", 0.0, "", llm.Params{})
		}(i)
	}
	wg.Wait()

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 5, st.Entries)
}

func TestCachedClientIdempotentHit(t *testing.T) {
	s := openTestStore(t)
	mock := &llm.MockClient{Model: "model-a", Respond: func(string) (string, error) {
		return "computed", nil
	}}
	client := Wrap(mock, s, llm.Params{}, zap.NewNop())

	first, err := client.Complete(context.Background(), "question")
	require.NoError(t, err)
	second, err := client.Complete(context.Background(), "  question \n")
	require.NoError(t, err)

	assert.Equal(t, "computed", first)
	assert.Equal(t, "computed", second)
	assert.Equal(t, 1, mock.CallCount(), "second call must be served from cache")
}

func TestCachedClientBypass(t *testing.T) {
	s := openTestStore(t)
	mock := &llm.MockClient{Model: "model-a"}
	client := Wrap(mock, s, llm.Params{}, zap.NewNop())

	_, err := client.CompleteUncached(context.Background(), "", "q")
	require.NoError(t, err)
	_, err = client.CompleteUncached(context.Background(), "", "q")
	require.NoError(t, err)

	assert.Equal(t, 2, mock.CallCount())
}

func TestCachedClientProviderErrorNotCached(t *testing.T) {
	s := openTestStore(t)
	mock := &llm.MockClient{Model: "model-a", Err: errors.New("rate limited")}
	client := Wrap(mock, s, llm.Params{}, zap.NewNop())

	_, err := client.Complete(context.Background(), "q")
	require.Error(t, err)

	var provErr *llm.ProviderError
	assert.ErrorAs(t, err, &provErr)

	st, statErr := s.Stats()
	require.NoError(t, statErr)
	assert.Equal(t, 0, st.Entries)
}

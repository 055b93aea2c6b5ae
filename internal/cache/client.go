package cache

import (
	"context"

	"go.uber.org/zap"

	"mosaic/internal/chunk"
	"mosaic/internal/llm"
)

// CachedClient wraps a model endpoint with the response cache. Every call
// consults the store first; a miss invokes the underlying client and records
// the response. The wrapper satisfies llm.Client, so it slots in anywhere an
// endpoint is expected.
type CachedClient struct {
	inner  llm.Client
	store  *Store
	params llm.Params
	log    *zap.Logger
}

var _ llm.Client = (*CachedClient)(nil)

// Wrap builds a CachedClient. A nil store disables caching and calls pass
// straight through.
func Wrap(inner llm.Client, store *Store, params llm.Params, log *zap.Logger) *CachedClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedClient{inner: inner, store: store, params: params, log: log}
}

func (c *CachedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *CachedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.store == nil {
		return c.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	}

	entry, err := c.store.Get(userPrompt, c.inner.ModelID(), c.inner.Temperature(), systemPrompt, c.params)
	if err != nil {
		// A broken store is fatal for the invocation: silently falling
		// through would hide corruption behind provider spend.
		return "", err
	}
	if entry != nil {
		c.log.Debug("Cache hit",
			zap.String("model", c.inner.ModelID()),
			zap.Int("tokens_saved", entry.TokensSaved))
		return entry.Response, nil
	}

	response, err := c.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}

	if err := c.store.Set(userPrompt, c.inner.ModelID(), response,
		chunk.EstimateTokens(response), c.inner.Temperature(), systemPrompt, c.params); err != nil {
		return "", err
	}
	return response, nil
}

// CompleteUncached bypasses the cache for one call.
func (c *CachedClient) CompleteUncached(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}

func (c *CachedClient) ModelID() string      { return c.inner.ModelID() }
func (c *CachedClient) Temperature() float64 { return c.inner.Temperature() }

// Package llm defines the model endpoint contract consumed by the
// orchestration engine, plus the HTTP transport for OpenAI-compatible
// providers. The engine itself only depends on the Client interface.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Client is the minimal capability the engine requires from a model endpoint.
// Implementations must be safe for concurrent use: the fan-out runner issues
// calls from multiple goroutines.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelID and Temperature identify the endpoint configuration for
	// cache fingerprinting.
	ModelID() string
	Temperature() float64
}

// Router maps text to a model identifier. The engine treats routing as an
// external collaborator; it holds no scoring logic itself.
type Router interface {
	Route(text string) (string, error)
}

// Params carries the optional request parameters that participate in cache
// fingerprinting. Fields are explicit rather than reflected out of a kwargs
// bag, so the canonical form is stable across callers.
type Params struct {
	MaxTokens int
	TopP      float64
	Extra     map[string]string
}

// Canonical renders the params as a deterministic string: zero-valued fields
// are omitted, Extra keys are sorted.
func (p Params) Canonical() string {
	var parts []string
	if p.MaxTokens != 0 {
		parts = append(parts, fmt.Sprintf("max_tokens=%d", p.MaxTokens))
	}
	if p.TopP != 0 {
		parts = append(parts, fmt.Sprintf("top_p=%.4f", p.TopP))
	}
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, p.Extra[k]))
	}
	return strings.Join(parts, ",")
}

// ProviderError wraps a failure reported by the model endpoint. Transient
// conditions (timeouts, rate limits) are handled at the call site; the
// orchestrator only aborts when the primary model itself fails.
type ProviderError struct {
	ModelID string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.ModelID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

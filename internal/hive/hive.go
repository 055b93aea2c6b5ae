// Package hive implements the per-invocation shared scratch memory used by
// parallel sub-queries. Workers write findings as they go; readers take
// snapshots. One instance is created per invocation and never reused.
package hive

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Hive is a mutex-guarded key/value store. Every operation locks
// individually, so concurrent fan-out workers can use it safely, but a
// worker never observes a consistent merged view of sibling writes: fan-out
// snapshots the hive once at batch start and injects that snapshot into
// every worker's prompt.
type Hive struct {
	mu   sync.Mutex
	data map[string]any
}

func New() *Hive {
	return &Hive{data: make(map[string]any)}
}

func (h *Hive) Set(key string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[key] = value
}

// Get returns the stored value, or def when the key is absent.
func (h *Hive) Get(key string, def any) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.data[key]; ok {
		return v
	}
	return def
}

// GetAll returns a copy of the current contents. Mutating the returned map
// does not affect the hive.
func (h *Hive) GetAll() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := make(map[string]any, len(h.data))
	for k, v := range h.data {
		snap[k] = v
	}
	return snap
}

func (h *Hive) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = make(map[string]any)
}

func (h *Hive) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data)
}

// Format renders a snapshot as prompt text, keys sorted for determinism.
// Returns "" for an empty snapshot so callers can skip the preamble.
func Format(snapshot map[string]any) string {
	if len(snapshot) == 0 {
		return ""
	}
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("Shared findings so far:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, snapshot[k])
	}
	return b.String()
}

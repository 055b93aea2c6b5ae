package fanout

import (
	"errors"
	"sync"
)

var (
	// ErrRecursionLimit is returned when a sub-query would exceed the
	// configured recursion depth. Fails closed rather than silently capping.
	ErrRecursionLimit = errors.New("maximum recursion depth reached")
	// ErrSubCallBudget is returned when the invocation's sub-call ceiling
	// would be exceeded.
	ErrSubCallBudget = errors.New("sub-call budget exhausted")
)

// Budget tracks one invocation's sub-call and recursion-depth accounting.
// It is shared by every path that can trigger a sub-query: the single-call
// helper, the fan-out runner, and the validation layer's critic calls.
type Budget struct {
	mu          sync.Mutex
	maxDepth    int
	maxSubCalls int
	depth       int
	subCalls    int
}

// NewBudget builds a budget. Zero ceilings mean unlimited.
func NewBudget(maxDepth, maxSubCalls int) *Budget {
	return &Budget{maxDepth: maxDepth, maxSubCalls: maxSubCalls}
}

// Enter reserves one sub-call at one additional level of depth, for a
// single nested sub-query. Callers must pair a successful Enter with Exit.
func (b *Budget) Enter() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxDepth > 0 && b.depth >= b.maxDepth {
		return ErrRecursionLimit
	}
	if b.maxSubCalls > 0 && b.subCalls >= b.maxSubCalls {
		return ErrSubCallBudget
	}
	b.depth++
	b.subCalls++
	return nil
}

// EnterBatch reserves one level of depth for a whole fan-out batch. The
// batch's concurrent items are siblings at that level, not nested calls, so
// they never consume depth individually; each item reserves its sub-call
// through ReserveCall. Pair a successful EnterBatch with Exit.
func (b *Budget) EnterBatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxDepth > 0 && b.depth >= b.maxDepth {
		return ErrRecursionLimit
	}
	b.depth++
	return nil
}

// ReserveCall reserves one sub-call without touching depth. Used by fan-out
// items running inside a batch's depth reservation.
func (b *Budget) ReserveCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxSubCalls > 0 && b.subCalls >= b.maxSubCalls {
		return ErrSubCallBudget
	}
	b.subCalls++
	return nil
}

// Exit releases the depth level reserved by Enter or EnterBatch. The
// sub-call count is cumulative and never decreases.
func (b *Budget) Exit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.depth > 0 {
		b.depth--
	}
}

// SubCalls reports the cumulative number of sub-calls dispatched.
func (b *Budget) SubCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subCalls
}

// Depth reports the current recursion depth.
func (b *Budget) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depth
}

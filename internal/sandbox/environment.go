// Package sandbox provides the executable scratch environment model-authored
// code runs in. Snippets are interpreted Go evaluated by Yaegi against a
// persistent namespace seeded with the held content and the invocation-bound
// helpers (sub-query, fan-out, hive handle).
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"mosaic/internal/hive"
)

// DefaultMaxOutput caps captured execution output so iteration feedback to
// the model cannot grow without bound.
const DefaultMaxOutput = 10000

// Helpers are the invocation-bound callables injected into the namespace.
// All three must be non-nil; modes that forbid sub-queries inject stubs that
// return an explanatory error string.
type Helpers struct {
	LLMQuery      func(prompt string) string
	ParallelQuery func(template string, chunks []string) []string
	Hive          *hive.Hive
}

// lockedBuffer guards output capture against writes from an evaluation that
// outlived its deadline.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Drain() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

// Environment is one invocation's scratch environment. Namespace mutations
// persist across Execute calls for the environment's lifetime. Not safe for
// concurrent Execute calls; the orchestrator runs code sequentially.
type Environment struct {
	interp    *interp.Interpreter
	out       *lockedBuffer
	maxOutput int
	log       *zap.Logger
}

// New builds an environment holding content and the given helpers. The
// helpers and content are exposed to snippets as Context, LLMQuery,
// ParallelQuery, and Hive via a dot-imported builtin package.
func New(content any, helpers Helpers, maxOutput int, log *zap.Logger) (*Environment, error) {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	if log == nil {
		log = zap.NewNop()
	}

	out := &lockedBuffer{}
	i := interp.New(interp.Options{Stdout: out, Stderr: out})

	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	// Context is exposed with static type any so snippets can type-assert
	// it to string or []string after inspecting it.
	ctxVal := reflect.New(reflect.TypeOf((*any)(nil)).Elem()).Elem()
	if content != nil {
		ctxVal.Set(reflect.ValueOf(content))
	}

	if err := i.Use(interp.Exports{
		"mosaic/mosaic": {
			"Context":       ctxVal,
			"LLMQuery":      reflect.ValueOf(helpers.LLMQuery),
			"ParallelQuery": reflect.ValueOf(helpers.ParallelQuery),
			"Hive":          reflect.ValueOf(helpers.Hive),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to bind helpers: %w", err)
	}
	if _, err := i.Eval(`import . "mosaic"`); err != nil {
		return nil, fmt.Errorf("failed to import helper namespace: %w", err)
	}

	return &Environment{interp: i, out: out, maxOutput: maxOutput, log: log}, nil
}

// Execute runs one code snippet. The captured output (stdout, stderr, and
// any evaluation error) is returned with ok=false on failure; errors never
// propagate as control flow, keeping the iterate-and-correct loop uniform.
func (e *Environment) Execute(ctx context.Context, code string) (output string, ok bool) {
	e.out.Drain() // discard any late output from an abandoned evaluation

	done := make(chan error, 1)
	go func() {
		done <- func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			_, err = e.interp.Eval(code)
			return err
		}()
	}()

	var evalErr error
	select {
	case evalErr = <-done:
	case <-ctx.Done():
		// The evaluation goroutine cannot be stopped; it is abandoned and
		// its late output discarded by the locked buffer on next drain.
		e.log.Warn("Code execution timed out", zap.Error(ctx.Err()))
		return fmt.Sprintf("Error: execution timed out: %v", ctx.Err()), false
	}

	output = e.out.Drain()
	if evalErr != nil {
		msg := fmt.Sprintf("Error: %v", evalErr)
		if output != "" {
			output += "\n" + msg
		} else {
			output = msg
		}
		return e.truncate(output), false
	}
	return e.truncate(output), true
}

func (e *Environment) truncate(s string) string {
	if len(s) <= e.maxOutput {
		return s
	}
	return s[:e.maxOutput] + fmt.Sprintf(
		"\n\n[Output truncated. Showing first %d characters of %d total]", e.maxOutput, len(s))
}

// HasVar reports whether name resolves in the namespace.
func (e *Environment) HasVar(name string) bool {
	_, ok := e.Var(name)
	return ok
}

// Var resolves a namespace variable to its string rendering. Used by the
// orchestrator for FINAL_VAR answers.
func (e *Environment) Var(name string) (string, bool) {
	v, err := e.interp.Eval(name)
	if err != nil || !v.IsValid() {
		return "", false
	}
	return fmt.Sprintf("%v", v.Interface()), true
}

// Package orchestrator drives the top-level control loop: it feeds held-
// content metadata to the primary model, executes the code the model writes,
// returns the results, and repeats until a final answer, a ceiling, or a
// fatal error ends the invocation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mosaic/internal/cache"
	"mosaic/internal/chunk"
	"mosaic/internal/fanout"
	"mosaic/internal/hive"
	"mosaic/internal/llm"
	"mosaic/internal/resilience"
	"mosaic/internal/sandbox"
)

// ErrFinalVarNotFound marks a FINAL_VAR referencing a variable absent from
// the scratch namespace. It fails that termination attempt only; the loop
// continues so the model can self-correct.
var ErrFinalVarNotFound = errors.New("final-answer variable not found")

// Options are one invocation's ceilings and mode flags.
type Options struct {
	MaxIterations     int
	MaxRecursionDepth int
	MaxSubCalls       int
	MaxParallelCalls  int
	MaxOutputLen      int
	Mode              PromptMode
	BypassCache       bool

	// ValidateFinal routes the resolved final answer through the
	// validation layer before the loop accepts it; a rejected answer is
	// fed back as iteration feedback.
	ValidateFinal    bool
	FinalFormat      resilience.Format
	ValidationBudget float64
}

// DefaultOptions mirrors the engine's stock ceilings.
func DefaultOptions() Options {
	return Options{
		MaxIterations:     20,
		MaxRecursionDepth: 5,
		MaxSubCalls:       100,
		MaxParallelCalls:  10,
		MaxOutputLen:      sandbox.DefaultMaxOutput,
		Mode:              ModeStandard,
		FinalFormat:       resilience.FormatText,
		ValidationBudget:  1.0,
	}
}

// Execution records one code block run within an iteration.
type Execution struct {
	Code    string
	Output  string
	Success bool
}

// Iteration is one entry of the execution trace.
type Iteration struct {
	Index      int
	Response   string
	Executions []Execution
	Note       string // nudges, final-var misses, validation rejections
	SubCalls   int    // cumulative sub-calls after this iteration
	HiveLen    int
}

// Result is everything an invocation returns. The trace is populated even
// when the invocation fails, since it is the primary observability channel.
type Result struct {
	InvocationID string
	Answer       string
	Ceiling      bool // terminated by the iteration ceiling, not a genuine final answer
	Trace        []Iteration
	SubCalls     int
	Validation   []resilience.Attempt
}

// Orchestrator composes the scratch environment, hive, cache, fan-out, and
// validation layers around a primary and a sub-query model. All handles are
// injected at construction; nothing is process-global.
type Orchestrator struct {
	root    llm.Client
	sub     llm.Client
	critics []llm.Client
	store   *cache.Store
	log     *zap.Logger
}

// New builds an Orchestrator. sub may be nil to reuse the root model for
// sub-queries; critics may be empty to disable peer review.
func New(root, sub llm.Client, critics []llm.Client, store *cache.Store, log *zap.Logger) *Orchestrator {
	if sub == nil {
		sub = root
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{root: root, sub: sub, critics: critics, store: store, log: log}
}

// Run executes one invocation: answer the query against the held content.
// The returned Result carries the trace in every outcome, including fatal
// errors.
func (o *Orchestrator) Run(ctx context.Context, query string, content any, opts Options) (*Result, error) {
	res := &Result{InvocationID: uuid.NewString()}
	log := o.log.With(zap.String("invocation", res.InvocationID))

	store := o.store
	if opts.BypassCache {
		store = nil
	}
	rootClient := cache.Wrap(o.root, store, llm.Params{}, log)
	subClient := cache.Wrap(o.sub, store, llm.Params{}, log)

	h := hive.New()
	budget := fanout.NewBudget(opts.MaxRecursionDepth, opts.MaxSubCalls)
	runner := fanout.New(subClient, h, budget, opts.MaxParallelCalls, log)

	env, err := sandbox.New(content, o.buildHelpers(ctx, subClient, runner, budget, h, opts), opts.MaxOutputLen, log)
	if err != nil {
		return res, fmt.Errorf("scratch environment unusable: %w", err)
	}

	var validator *finalValidator
	if opts.ValidateFinal {
		validator = newFinalValidator(o.critics, o.root, opts, log)
	}

	systemPrompt := buildSystemPrompt(opts.Mode, chunk.Describe(content))
	history := []message{{
		role:    "user",
		content: fmt.Sprintf("Query: %s\n\nPlease solve this query using the scratch environment.", query),
	}}

	log.Info("Invocation started",
		zap.String("mode", string(opts.Mode)),
		zap.Int("max_iterations", opts.MaxIterations))

	var lastOutput string
	for i := 1; i <= opts.MaxIterations; i++ {
		response, err := rootClient.CompleteWithSystem(ctx, systemPrompt, buildPrompt(history))
		if err != nil {
			res.SubCalls = budget.SubCalls()
			return res, fmt.Errorf("primary model failed on iteration %d: %w", i, err)
		}
		history = append(history, message{role: "assistant", content: response})

		it := Iteration{Index: i, Response: response}

		if answer, ok, ferr := o.resolveFinal(response, env); ok {
			if validator != nil {
				verdict := validator.check(ctx, query, answer, i)
				res.Validation = append(res.Validation, verdict)
				if !verdict.Passed {
					it.Note = "final answer rejected: " + verdict.Message
					o.closeIteration(&it, res, budget, h)
					history = append(history, message{
						role: "user",
						content: fmt.Sprintf(
							"Your final answer failed validation: %s\nPlease fix the issues and provide a new FINAL answer.",
							verdict.Feedback),
					})
					continue
				}
			}
			res.Answer = answer
			o.closeIteration(&it, res, budget, h)
			log.Info("Final answer found", zap.Int("iteration", i), zap.Int("sub_calls", res.SubCalls))
			return res, nil
		} else if ferr != nil {
			it.Note = ferr.Error()
			o.closeIteration(&it, res, budget, h)
			history = append(history, message{
				role:    "user",
				content: fmt.Sprintf("Error: %v. Define the variable or answer with FINAL(...).", ferr),
			})
			continue
		}

		blocks := extractCodeBlocks(response)
		if len(blocks) == 0 {
			it.Note = "no code blocks in response"
			o.closeIteration(&it, res, budget, h)
			history = append(history, message{
				role:    "user",
				content: "Please provide Go code in a ```repl code block, or provide your final answer using FINAL() or FINAL_VAR().",
			})
			continue
		}

		for _, code := range blocks {
			output, ok := env.Execute(ctx, code)
			it.Executions = append(it.Executions, Execution{Code: code, Output: output, Success: ok})
			if output != "" {
				lastOutput = output
			}
		}
		o.closeIteration(&it, res, budget, h)
		history = append(history, message{
			role:    "user",
			content: "Execution results:\n" + formatExecutionResults(it.Executions),
		})
	}

	// Ceiling termination: report the best partial evidence available,
	// explicitly flagged so callers never mistake it for a real answer.
	res.Ceiling = true
	res.Answer = lastOutput
	res.SubCalls = budget.SubCalls()
	log.Warn("Iteration ceiling reached", zap.Int("max_iterations", opts.MaxIterations))
	return res, nil
}

func (o *Orchestrator) closeIteration(it *Iteration, res *Result, budget *fanout.Budget, h *hive.Hive) {
	it.SubCalls = budget.SubCalls()
	it.HiveLen = h.Len()
	res.SubCalls = it.SubCalls
	res.Trace = append(res.Trace, *it)
}

// buildHelpers binds the sub-query and fan-out callables to this
// invocation's budget and hive, so code running in the scratch environment
// is subject to the same ceilings as the orchestrator itself.
func (o *Orchestrator) buildHelpers(ctx context.Context, sub llm.Client, runner *fanout.Runner, budget *fanout.Budget, h *hive.Hive, opts Options) sandbox.Helpers {
	if opts.Mode == ModeNoSubcalls {
		return sandbox.Helpers{
			LLMQuery: func(string) string {
				return "Error: LLMQuery is not available in nosubcalls mode"
			},
			ParallelQuery: func(_ string, chunks []string) []string {
				out := make([]string, len(chunks))
				for i := range out {
					out[i] = "Error: ParallelQuery is not available in nosubcalls mode"
				}
				return out
			},
			Hive: h,
		}
	}
	return sandbox.Helpers{
		LLMQuery: func(prompt string) string {
			if err := budget.Enter(); err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			defer budget.Exit()
			resp, err := sub.Complete(ctx, prompt)
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			return resp
		},
		ParallelQuery: func(template string, chunks []string) []string {
			return runner.Run(ctx, template, chunks)
		},
		Hive: h,
	}
}

// resolveFinal applies the termination scan: inline FINAL wins over
// FINAL_VAR; a FINAL_VAR naming an absent variable returns an error that
// keeps the loop alive.
func (o *Orchestrator) resolveFinal(response string, env *sandbox.Environment) (string, bool, error) {
	m := scanFinal(response)
	if !m.found {
		return "", false, nil
	}
	if m.inline != "" || m.varName == "" {
		return m.inline, true, nil
	}
	if v, ok := env.Var(m.varName); ok {
		return v, true, nil
	}
	return "", false, fmt.Errorf("%w: %q", ErrFinalVarNotFound, m.varName)
}

package resilience

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mosaic/internal/llm"
)

// PerCheckCost is the nominal spend attributed to one semantic check,
// counted against the task's validation budget.
const PerCheckCost = 0.01

// Attempt is one entry in a task's audit trail: exactly one record per
// production attempt, carrying the deepest validation tier reached.
type Attempt struct {
	Attempt  int
	Tier     Tier
	Passed   bool
	Message  string
	Feedback string
	Review   Review // zero-valued when no semantic check ran
}

// Task describes one artifact production request.
type Task struct {
	Prompt      string
	Description string
	Format      Format
}

// Agent produces artifacts with tiered validation and bounded retries.
type Agent struct {
	worker           llm.Client
	router           *CriticRouter
	maxRetries       int
	validationBudget float64
	spent            float64
	log              *zap.Logger
}

// NewAgent builds an Agent. A nil router disables semantic validation.
// maxRetries bounds total attempts; validationBudget caps semantic-check
// spend for the agent's lifetime.
func NewAgent(worker llm.Client, router *CriticRouter, maxRetries int, validationBudget float64, log *zap.Logger) *Agent {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		worker:           worker,
		router:           router,
		maxRetries:       maxRetries,
		validationBudget: validationBudget,
		log:              log,
	}
}

// ExecuteWithRetry drives the ATTEMPT -> STRUCTURAL -> SEMANTIC state machine
// up to maxRetries times, feeding failure feedback into each retry prompt.
// Exhausting retries returns the last artifact with its failure history and
// a nil error: a degraded answer beats no answer.
func (a *Agent) ExecuteWithRetry(ctx context.Context, task Task) (string, []Attempt, error) {
	var history []Attempt
	var lastArtifact string

	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		prompt := task.Prompt
		if len(history) > 0 {
			prompt = fmt.Sprintf(
				"%s\n\nPrevious attempt failed validation:\n%s\n\nPlease fix the issues and try again.\n\nYour response:",
				task.Prompt, history[len(history)-1].Feedback)
		}

		artifact, err := a.worker.Complete(ctx, prompt)
		if err != nil {
			a.log.Warn("Production attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			history = append(history, Attempt{
				Attempt:  attempt,
				Tier:     TierStructural,
				Message:  fmt.Sprintf("execution error: %v", err),
				Feedback: "Task execution failed with an error",
			})
			continue
		}
		lastArtifact = artifact

		record := a.validate(ctx, artifact, task, attempt)
		history = append(history, record)
		if record.Passed {
			return artifact, history, nil
		}
		a.log.Debug("Validation failed",
			zap.Int("attempt", attempt),
			zap.String("tier", string(record.Tier)),
			zap.String("message", record.Message))
	}

	a.log.Warn("Retries exhausted", zap.Int("max_retries", a.maxRetries))
	return lastArtifact, history, nil
}

// validate runs the structural check and, when it passes, the semantic
// check. The semantic tier is never reached for an artifact whose structural
// check failed.
func (a *Agent) validate(ctx context.Context, artifact string, task Task, attempt int) Attempt {
	structural := ValidateStructure(artifact, task.Format)
	if !structural.Passed {
		return Attempt{
			Attempt:  attempt,
			Tier:     TierStructural,
			Message:  structural.Message,
			Feedback: structural.Suggestion,
		}
	}

	if a.router == nil {
		return Attempt{Attempt: attempt, Tier: TierStructural, Passed: true, Message: structural.Message}
	}

	if a.spent >= a.validationBudget {
		// Budget exhausted: structural-only from here on, explicitly
		// tagged rather than silently downgraded.
		return Attempt{
			Attempt: attempt,
			Tier:    TierStructural,
			Passed:  true,
			Message: "validation budget exhausted, semantic check skipped",
			Review:  Review{Mode: BudgetLimited},
		}
	}

	critic, review := a.router.Pick(a.worker)
	a.spent += PerCheckCost
	semantic := SemanticCheck(ctx, critic, review, a.worker.ModelID(), artifact, task.Description)
	return Attempt{
		Attempt:  attempt,
		Tier:     TierSemantic,
		Passed:   semantic.Passed,
		Message:  semantic.Message,
		Feedback: semantic.Suggestion,
		Review:   review,
	}
}

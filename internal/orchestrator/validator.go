package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"mosaic/internal/llm"
	"mosaic/internal/resilience"
)

// finalValidator routes candidate final answers through the validation
// layer. A rejection does not abort the invocation; it becomes iteration
// feedback, so the main loop itself serves as the retry mechanism.
type finalValidator struct {
	router *resilience.CriticRouter
	worker llm.Client
	format resilience.Format
	budget float64
	spent  float64
	log    *zap.Logger
}

func newFinalValidator(critics []llm.Client, worker llm.Client, opts Options, log *zap.Logger) *finalValidator {
	var router *resilience.CriticRouter
	if len(critics) > 0 {
		router = resilience.NewCriticRouter(critics, log)
	}
	return &finalValidator{
		router: router,
		worker: worker,
		format: opts.FinalFormat,
		budget: opts.ValidationBudget,
		log:    log,
	}
}

// check validates one candidate answer: structural first, then critic
// review when a router is configured and budget remains.
func (v *finalValidator) check(ctx context.Context, query, answer string, iteration int) resilience.Attempt {
	structural := resilience.ValidateStructure(answer, v.format)
	if !structural.Passed {
		return resilience.Attempt{
			Attempt:  iteration,
			Tier:     resilience.TierStructural,
			Message:  structural.Message,
			Feedback: structural.Suggestion,
		}
	}
	if v.router == nil {
		return resilience.Attempt{
			Attempt: iteration,
			Tier:    resilience.TierStructural,
			Passed:  true,
			Message: structural.Message,
		}
	}
	if v.spent >= v.budget {
		return resilience.Attempt{
			Attempt: iteration,
			Tier:    resilience.TierStructural,
			Passed:  true,
			Message: "validation budget exhausted, semantic check skipped",
			Review:  resilience.Review{Mode: resilience.BudgetLimited},
		}
	}

	critic, review := v.router.Pick(v.worker)
	v.spent += resilience.PerCheckCost
	semantic := resilience.SemanticCheck(ctx, critic, review, v.worker.ModelID(), answer, "Answer the query: "+query)
	v.log.Debug("Final answer reviewed",
		zap.Bool("passed", semantic.Passed),
		zap.String("critic", review.Critic))
	return resilience.Attempt{
		Attempt:  iteration,
		Tier:     resilience.TierSemantic,
		Passed:   semantic.Passed,
		Message:  semantic.Message,
		Feedback: semantic.Suggestion,
		Review:   review,
	}
}

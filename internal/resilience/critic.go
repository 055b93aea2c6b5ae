package resilience

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mosaic/internal/llm"
)

// ReviewMode tags how a semantic check was performed. The same-model
// fallback is transparent to the caller but always recorded.
type ReviewMode string

const (
	// PeerReview means the critic model differs from the producer.
	PeerReview ReviewMode = "peer_review"
	// SelfReview means the producer reviewed its own output.
	SelfReview ReviewMode = "self_review"
	// BudgetLimited means the semantic check was skipped because the
	// validation spend ceiling was reached.
	BudgetLimited ReviewMode = "budget_limited"
)

// Review identifies the critic used for one semantic check.
type Review struct {
	Mode   ReviewMode
	Critic string // model id, empty when budget-limited
}

// CriticRouter selects the critic for an artifact produced by a given model.
// It prefers a model different from the producer (peer review) and falls
// back to the producer itself (self-correction) when no peer is available.
type CriticRouter struct {
	critics []llm.Client
	log     *zap.Logger
}

func NewCriticRouter(critics []llm.Client, log *zap.Logger) *CriticRouter {
	if log == nil {
		log = zap.NewNop()
	}
	return &CriticRouter{critics: critics, log: log}
}

// Pick returns the critic client and the review tagging for a producer.
func (r *CriticRouter) Pick(producer llm.Client) (llm.Client, Review) {
	for _, c := range r.critics {
		if c.ModelID() != producer.ModelID() {
			r.log.Debug("Peer review selected",
				zap.String("producer", producer.ModelID()),
				zap.String("critic", c.ModelID()))
			return c, Review{Mode: PeerReview, Critic: c.ModelID()}
		}
	}
	r.log.Debug("Self review selected", zap.String("producer", producer.ModelID()))
	return producer, Review{Mode: SelfReview, Critic: producer.ModelID()}
}

const peerReviewPrompt = `You are a Senior Reviewer conducting peer review.

Worker model: %s
%sThe worker model generated the following output. Review it carefully for:
- Logic errors or bugs
- Security vulnerabilities
- Edge cases not handled
- Subtle mistakes

Content to review:
%s

Respond with EXACTLY ONE of:
1. "PASS" - if the content is correct and production-ready
2. "FAIL: <reason>" - if there are issues that must be fixed

Your response:`

const selfReviewPrompt = `You are reviewing your own work for quality assurance.

%sStep back and critically evaluate your previous output:

%s

Check for:
- Logic errors you may have missed
- Assumptions that may be incorrect
- Better approaches you should consider

Respond with EXACTLY ONE of:
1. "PASS" - if your work is correct
2. "FAIL: <reason>" - if you found issues to fix

Your response:`

// SemanticCheck asks the critic to review the artifact. An unparseable
// critic response counts as a pass; the check is advisory, not a gate that
// can wedge the loop.
func SemanticCheck(ctx context.Context, critic llm.Client, review Review, producerID, artifact, taskDescription string) ValidationResult {
	desc := ""
	if taskDescription != "" {
		desc = fmt.Sprintf("Task: %s\n", taskDescription)
	}

	var prompt string
	if review.Mode == PeerReview {
		prompt = fmt.Sprintf(peerReviewPrompt, producerID, desc, artifact)
	} else {
		prompt = fmt.Sprintf(selfReviewPrompt, desc, artifact)
	}

	response, err := critic.Complete(ctx, prompt)
	if err != nil {
		return ValidationResult{
			Passed:  true,
			Tier:    TierSemantic,
			Message: fmt.Sprintf("critic unavailable, assuming pass: %v", err),
		}
	}

	verdict := strings.TrimSpace(response)
	upper := strings.ToUpper(verdict)
	switch {
	case strings.HasPrefix(upper, "PASS"):
		return ValidationResult{
			Passed:  true,
			Tier:    TierSemantic,
			Message: fmt.Sprintf("critic approved (%s)", review.Critic),
		}
	case strings.Contains(upper, "FAIL"):
		reason := verdict
		if idx := strings.Index(verdict, ":"); idx >= 0 {
			reason = strings.TrimSpace(verdict[idx+1:])
		}
		return ValidationResult{
			Tier:       TierSemantic,
			Message:    fmt.Sprintf("critic rejected: %s", reason),
			Suggestion: fmt.Sprintf("Address the critic's feedback: %s", reason),
		}
	default:
		return ValidationResult{
			Passed:  true,
			Tier:    TierSemantic,
			Message: "critic response unclear, assuming pass",
		}
	}
}

package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/threadr-ai/threadr/internal/llm"
	"github.com/threadr-ai/threadr/internal/workflow"
)

const responderSystemPrompt = `You write the final reply to the user of a social agent.
Summarize what was accomplished, quoting published content when there is any. Be brief and direct. Plain text.`

// Responder turns a terminal run into the user-facing reply. It never
// mutates the state and the same state always yields an answer, with the
// deterministic fallback covering model failures.
type Responder struct {
	provider llm.Provider
	logger   *log.Logger
}

// NewResponder builds a responder. The provider may be nil.
func NewResponder(provider llm.Provider, logger *log.Logger) *Responder {
	if logger == nil {
		logger = log.New(log.Writer(), "[Responder] ", log.LstdFlags)
	}
	return &Responder{provider: provider, logger: logger}
}

// Summarize implements workflow.Responder.
func (r *Responder) Summarize(ctx context.Context, state workflow.RunState) (string, error) {
	if state.Terminal == workflow.TerminalFailed {
		return failureMessage(state), nil
	}

	fallback := completionFallback(state)
	if r.provider == nil {
		return fallback, nil
	}

	completion, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: responderSystemPrompt},
			{Role: "user", Content: summarizeBrief(state)},
		},
		Temperature: 0.4,
	})
	if err != nil || strings.TrimSpace(completion.Content) == "" {
		if err != nil {
			r.logger.Printf("summary generation failed, using fallback: %v", err)
		}
		return fallback, nil
	}
	return strings.TrimSpace(completion.Content), nil
}

func summarizeBrief(state workflow.RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n", state.Request.UserMessage())
	fmt.Fprintf(&b, "Goal: %s\n\n", state.Plan.Goal)
	for _, inv := range state.History {
		if inv.Outcome.Kind != workflow.OutcomeSuccess {
			continue
		}
		if text := inv.Outcome.Text(); text != "" {
			fmt.Fprintf(&b, "[%s] %s\n", inv.Capability, text)
		}
	}
	return b.String()
}

// completionFallback is the deterministic reply for a completed run.
func completionFallback(state workflow.RunState) string {
	for i := len(state.History) - 1; i >= 0; i-- {
		inv := state.History[i]
		if inv.Outcome.Kind != workflow.OutcomeSuccess {
			continue
		}
		if text := inv.Outcome.Text(); text != "" {
			return text
		}
	}
	return "Done. The requested steps completed, but produced no textual output."
}

func failureMessage(state workflow.RunState) string {
	switch state.FailureReason {
	case workflow.ReasonIterationBudgetExceeded:
		return "I couldn't finish this request: it kept hitting transient failures and ran out of attempts."
	case workflow.ReasonCancelled:
		return "The request was cancelled before it finished."
	case workflow.ReasonAuthError:
		return "I couldn't complete this request: the Threads connection was rejected. Check the configured credentials."
	case workflow.ReasonPlanningFailure:
		return "I couldn't work out an actionable plan for this request. Try rephrasing it."
	case workflow.ReasonInvalidInput, workflow.ReasonDecisionFailure:
		return "Something went wrong while preparing a step of this request, so I stopped."
	default:
		return fmt.Sprintf("The request failed partway through (%s).", state.FailureReason)
	}
}

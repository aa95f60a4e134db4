package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/threadr-ai/threadr/internal/llm"
	"github.com/threadr-ai/threadr/internal/workflow"
)

const deciderSystemPrompt = `You prepare the input for the next step of an agent run.
Given the step intent and prior findings, respond with JSON only:
{"query": "..."} for a search step (a focused web search query), or
{"angle": "..."} for a post step (the angle the post should take).`

// InputDecider derives the structured input for the active plan step. It
// always honors the step's declared capability; the model only refines the
// content of the input, and any unusable reply degrades to the deterministic
// derivation.
type InputDecider struct {
	provider llm.Provider
	logger   *log.Logger
}

// NewInputDecider builds a decider. The provider may be nil, which disables
// model refinement entirely.
func NewInputDecider(provider llm.Provider, logger *log.Logger) *InputDecider {
	if logger == nil {
		logger = log.New(log.Writer(), "[Decider] ", log.LstdFlags)
	}
	return &InputDecider{provider: provider, logger: logger}
}

// DeriveInput implements workflow.Decider.
func (d *InputDecider) DeriveInput(ctx context.Context, state workflow.RunState) (workflow.Capability, map[string]interface{}, error) {
	step, ok := state.CurrentStep()
	if !ok {
		return "", nil, fmt.Errorf("no active step to derive input for")
	}

	input := map[string]interface{}{
		"request": state.Request.UserMessage(),
		"goal":    state.Plan.Goal,
		"intent":  step.Intent,
	}
	if findings := collectFindings(state); findings != "" {
		input["findings"] = findings
	}

	if d.provider != nil && step.Capability == workflow.CapabilitySearch {
		if query := d.refineQuery(ctx, state, step); query != "" {
			input["query"] = query
		}
	}
	return step.Capability, input, nil
}

func (d *InputDecider) refineQuery(ctx context.Context, state workflow.RunState, step workflow.Step) string {
	var user strings.Builder
	fmt.Fprintf(&user, "Step intent: %s\n", step.Intent)
	if attempts := state.StepAttempts(step.ID); attempts > 0 {
		fmt.Fprintf(&user, "This is retry %d; previous attempts failed transiently, try a simpler query.\n", attempts)
	}
	completion, err := d.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: deciderSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: 0.2,
	})
	if err != nil {
		d.logger.Printf("query refinement failed, using intent as query: %v", err)
		return ""
	}
	var parsed struct {
		Query string `json:"query"`
	}
	if err := decodeModelJSON(completion.Content, &parsed); err != nil {
		d.logger.Printf("query refinement reply unusable: %v", err)
		return ""
	}
	return strings.TrimSpace(parsed.Query)
}

// collectFindings concatenates the text of prior successful search
// invocations, newest last.
func collectFindings(state workflow.RunState) string {
	var parts []string
	for _, payload := range state.Successes(workflow.CapabilitySearch) {
		if s, ok := payload["findings"].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

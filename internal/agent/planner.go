package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/threadr-ai/threadr/internal/llm"
	"github.com/threadr-ai/threadr/internal/workflow"
)

const plannerSystemPrompt = `You are a planning assistant for a social agent that can search the web and publish posts on Threads.
Break the user's request into an ordered plan. Respond with JSON only:
{"goal": "...", "steps": [{"intent": "...", "capability": "search"|"post"}]}
Use a search step when fresh information is needed, and a post step only when the user wants content published. Keep plans short, two steps at most.`

// Planner turns a request into an executable plan. It asks the model first
// and falls back to keyword heuristics when the reply is unusable, so
// planning only fails outright on an empty request.
type Planner struct {
	provider llm.Provider
	logger   *log.Logger
}

// NewPlanner builds a Planner. The provider may be nil, leaving only the
// heuristic path.
func NewPlanner(provider llm.Provider, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[Planner] ", log.LstdFlags)
	}
	return &Planner{provider: provider, logger: logger}
}

type plannedStep struct {
	Intent     string `json:"intent"`
	Capability string `json:"capability"`
}

type plannedPlan struct {
	Goal  string        `json:"goal"`
	Steps []plannedStep `json:"steps"`
}

// CreatePlan implements workflow.Planner.
func (p *Planner) CreatePlan(ctx context.Context, req workflow.Request) (workflow.Plan, error) {
	message := strings.TrimSpace(req.UserMessage())
	if message == "" {
		return workflow.Plan{}, workflow.PlanningError{Err: fmt.Errorf("request carries no user message")}
	}

	if p.provider != nil {
		plan, err := p.planWithModel(ctx, message)
		if err == nil {
			return plan, nil
		}
		if ctx.Err() != nil {
			return workflow.Plan{}, workflow.PlanningError{Err: ctx.Err()}
		}
		p.logger.Printf("model planning failed, using heuristic plan: %v", err)
	}
	return p.heuristicPlan(message), nil
}

func (p *Planner) planWithModel(ctx context.Context, message string) (workflow.Plan, error) {
	completion, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: message},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return workflow.Plan{}, err
	}
	var parsed plannedPlan
	if err := decodeModelJSON(completion.Content, &parsed); err != nil {
		return workflow.Plan{}, err
	}

	plan := workflow.Plan{Goal: parsed.Goal}
	for i, s := range parsed.Steps {
		c := workflow.Capability(strings.ToLower(strings.TrimSpace(s.Capability)))
		if !c.Known() {
			return workflow.Plan{}, fmt.Errorf("model planned unknown capability %q", s.Capability)
		}
		plan.Steps = append(plan.Steps, workflow.Step{
			ID:         fmt.Sprintf("step-%d", i+1),
			Intent:     s.Intent,
			Capability: c,
		})
	}
	if err := plan.Validate(); err != nil {
		return workflow.Plan{}, err
	}
	return plan, nil
}

// heuristicPlan is the deterministic fallback: posting verbs get a
// search-then-post plan, anything else is a single search.
func (p *Planner) heuristicPlan(message string) workflow.Plan {
	lower := strings.ToLower(message)
	wantsPost := false
	for _, kw := range []string{"post", "publish", "share", "tweet", "thread"} {
		if strings.Contains(lower, kw) {
			wantsPost = true
			break
		}
	}
	if wantsPost {
		return workflow.Plan{
			Goal: message,
			Steps: []workflow.Step{
				{ID: "step-1", Intent: "research the topic: " + message, Capability: workflow.CapabilitySearch},
				{ID: "step-2", Intent: "publish a post about: " + message, Capability: workflow.CapabilityPost},
			},
		}
	}
	return workflow.Plan{
		Goal: message,
		Steps: []workflow.Step{
			{ID: "step-1", Intent: "answer the question: " + message, Capability: workflow.CapabilitySearch},
		},
	}
}

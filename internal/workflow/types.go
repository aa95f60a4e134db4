package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Capability identifies one externally provided operation an agent can perform.
type Capability string

const (
	CapabilitySearch Capability = "search"
	CapabilityPost   Capability = "post"
)

// Known reports whether the capability tag belongs to the closed set.
func (c Capability) Known() bool {
	switch c {
	case CapabilitySearch, CapabilityPost:
		return true
	}
	return false
}

// Message is a single conversation message in role/content form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the original user input for a run. Immutable for the run's lifetime.
type Request struct {
	ID         string    `json:"id"`
	Messages   []Message `json:"messages"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewRequest wraps conversation messages into a Request with a fresh ID.
func NewRequest(messages []Message) Request {
	return Request{ID: uuid.NewString(), Messages: messages, ReceivedAt: time.Now()}
}

// UserMessage returns the most recent user-authored message content.
func (r Request) UserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Step is one planned action, tagged with the capability required to execute it.
type Step struct {
	ID         string     `json:"id"`
	Intent     string     `json:"intent"`
	Capability Capability `json:"capability"`
}

// Plan is the ordered breakdown of a Request. Created once, read-only afterwards.
type Plan struct {
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// Validate checks the plan invariants: non-empty, every step carries a known
// capability tag and a unique ID.
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return ErrEmptyPlan
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" {
			return ErrStepMissingID
		}
		if _, dup := seen[s.ID]; dup {
			return ErrDuplicateStepID
		}
		seen[s.ID] = struct{}{}
		if !s.Capability.Known() {
			return ErrUnknownCapability
		}
	}
	return nil
}

// OutcomeKind classifies the result of one capability invocation.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeRetryable OutcomeKind = "retryable_failure"
	OutcomeFatal     OutcomeKind = "fatal_failure"
)

// Outcome is the typed result the routing policy inspects. Capability errors
// never cross the orchestrator boundary as Go errors; they are carried here.
type Outcome struct {
	Kind    OutcomeKind            `json:"kind"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
}

// Success builds a success outcome with a structured payload.
func Success(payload map[string]interface{}) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload}
}

// Retryable builds a transient-failure outcome; the routing policy will
// re-attempt the step within the iteration budget.
func Retryable(reason string) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: reason}
}

// Fatal builds a non-recoverable outcome; it aborts the run.
func Fatal(reason string) Outcome {
	return Outcome{Kind: OutcomeFatal, Reason: reason}
}

// Text returns a human-oriented string from the payload, preferring the
// conventional "content" and "findings" keys.
func (o Outcome) Text() string {
	for _, key := range []string{"content", "findings", "summary"} {
		if s, ok := o.Payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Invocation records one attempt to execute a capability plus its outcome.
type Invocation struct {
	ID          string                 `json:"id"`
	StepID      string                 `json:"step_id"`
	Capability  Capability             `json:"capability"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Outcome     Outcome                `json:"outcome"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Terminal is the run's tri-state lifecycle marker. It is set exactly once,
// by the orchestrator, never by a capability agent.
type Terminal string

const (
	TerminalRunning   Terminal = "running"
	TerminalCompleted Terminal = "completed"
	TerminalFailed    Terminal = "failed"
)

// RunState is the single mutable entity of a run, owned by the orchestrator
// for its lifetime. History is append-only; agents only ever see copies.
type RunState struct {
	RunID         string       `json:"run_id"`
	Request       Request      `json:"request"`
	Plan          Plan         `json:"plan"`
	StepIndex     int          `json:"step_index"`
	History       []Invocation `json:"history"`
	Iterations    int          `json:"iterations"`
	Terminal      Terminal     `json:"terminal"`
	FailureReason string       `json:"failure_reason,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
}

// NewRunState initialises state at the plan's first step.
func NewRunState(req Request, plan Plan) *RunState {
	return &RunState{
		RunID:     uuid.NewString(),
		Request:   req,
		Plan:      plan,
		Terminal:  TerminalRunning,
		StartedAt: time.Now(),
	}
}

// CurrentStep returns the active plan step, if the cursor has not run past the end.
func (s *RunState) CurrentStep() (Step, bool) {
	if s.StepIndex < 0 || s.StepIndex >= len(s.Plan.Steps) {
		return Step{}, false
	}
	return s.Plan.Steps[s.StepIndex], true
}

// LastAttempt returns the most recent invocation recorded for the current step.
func (s *RunState) LastAttempt() (Invocation, bool) {
	step, ok := s.CurrentStep()
	if !ok {
		return Invocation{}, false
	}
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].StepID == step.ID {
			return s.History[i], true
		}
	}
	return Invocation{}, false
}

// LastInvocation returns the newest history entry regardless of step.
func (s *RunState) LastInvocation() (Invocation, bool) {
	if len(s.History) == 0 {
		return Invocation{}, false
	}
	return s.History[len(s.History)-1], true
}

// Successes returns the payloads of successful invocations for a capability,
// in history order.
func (s *RunState) Successes(cap Capability) []map[string]interface{} {
	var out []map[string]interface{}
	for _, inv := range s.History {
		if inv.Capability == cap && inv.Outcome.Kind == OutcomeSuccess {
			out = append(out, inv.Outcome.Payload)
		}
	}
	return out
}

// StepAttempts counts history entries recorded for a step ID.
func (s *RunState) StepAttempts(stepID string) int {
	n := 0
	for _, inv := range s.History {
		if inv.StepID == stepID {
			n++
		}
	}
	return n
}

// Agent is the contract every capability executor implements. Agents must not
// inspect or mutate plan or run state beyond the input they are given; a
// returned error means a programming fault, not a modeled failure.
type Agent interface {
	Capability() Capability
	Invoke(ctx context.Context, input map[string]interface{}) (Outcome, error)
}

// Decider derives the next capability input from run state. It must honor the
// active step's declared capability tag and be total: an error return is
// interpreted as a fatal decision failure for the current step.
type Decider interface {
	DeriveInput(ctx context.Context, state RunState) (Capability, map[string]interface{}, error)
}

// Planner produces a Plan from a Request, or fails with a PlanningError.
type Planner interface {
	CreatePlan(ctx context.Context, req Request) (Plan, error)
}

// Responder turns a terminal RunState into user-facing text. Invoked exactly
// once per run, after the orchestrator halts.
type Responder interface {
	Summarize(ctx context.Context, state RunState) (string, error)
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/threadr-ai/threadr/internal/capability"
)

// Config bounds a single orchestrated run.
type Config struct {
	MaxIterations     int
	InvocationTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 12
	}
	if c.InvocationTimeout <= 0 {
		c.InvocationTimeout = 2 * time.Minute
	}
	return c
}

// Orchestrator drives one run at a time through the routing policy until a
// terminal state. It is the only writer of RunState; capability agents see
// inputs, never the state itself.
type Orchestrator struct {
	cfg      Config
	agents   map[Capability]Agent
	registry *capability.Registry
	decider  Decider
	sink     TraceSink
	logger   *log.Logger
}

// NewOrchestrator wires agents, the capability registry and the decider
// together. A nil sink or logger is tolerated.
func NewOrchestrator(cfg Config, agents []Agent, registry *capability.Registry, decider Decider, sink TraceSink, logger *log.Logger) (*Orchestrator, error) {
	if decider == nil {
		return nil, errors.New("orchestrator requires a decider")
	}
	byCap := make(map[Capability]Agent, len(agents))
	for _, a := range agents {
		if a == nil {
			continue
		}
		c := a.Capability()
		if !c.Known() {
			return nil, fmt.Errorf("agent registered for unknown capability %q", c)
		}
		if _, dup := byCap[c]; dup {
			return nil, fmt.Errorf("duplicate agent for capability %q", c)
		}
		byCap[c] = a
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Orchestrator] ", log.LstdFlags)
	}
	return &Orchestrator{
		cfg:      cfg.normalize(),
		agents:   byCap,
		registry: registry,
		decider:  decider,
		sink:     sink,
		logger:   logger,
	}, nil
}

// Run executes the plan against the request until the run reaches a terminal
// state. The returned state is always terminal; the error return is reserved
// for programming faults, every modeled failure lands in the state itself.
//
// Routing per cycle, in order: cancellation, iteration budget, then the
// current step's last attempt (none or retryable invokes, success advances,
// fatal aborts). A cursor past the final step completes the run.
func (o *Orchestrator) Run(ctx context.Context, req Request, plan Plan) (*RunState, error) {
	if err := plan.Validate(); err != nil {
		return nil, PlanningError{Err: err}
	}
	state := NewRunState(req, plan)

	tracer := otel.Tracer("threadr/internal/workflow")
	ctx, span := tracer.Start(ctx, "workflow.run")
	span.SetAttributes(
		attribute.String("run.id", state.RunID),
		attribute.String("request.id", req.ID),
		attribute.Int("plan.steps", len(plan.Steps)),
	)
	defer span.End()

	seq := 0
	for state.Terminal == TerminalRunning {
		if ctx.Err() != nil {
			o.recordCancellation(state)
			o.finish(state, &seq, TerminalFailed, ReasonCancelled)
			break
		}

		step, ok := state.CurrentStep()
		if !ok {
			o.finish(state, &seq, TerminalCompleted, "")
			break
		}

		last, attempted := state.LastAttempt()
		switch {
		case !attempted, last.Outcome.Kind == OutcomeRetryable:
			// The budget gates invocations only; a run whose final step
			// succeeded on the last allowed iteration still completes.
			if state.Iterations >= o.cfg.MaxIterations {
				o.logger.Printf("run %s: iteration budget %d exhausted at step %s", state.RunID, o.cfg.MaxIterations, step.ID)
				o.finish(state, &seq, TerminalFailed, ReasonIterationBudgetExceeded)
				break
			}
			o.invoke(ctx, state, &seq, step)
		case last.Outcome.Kind == OutcomeSuccess:
			o.advance(state, &seq, step)
		default: // fatal
			o.logger.Printf("run %s: step %s failed fatally (%s)", state.RunID, step.ID, last.Outcome.Reason)
			o.finish(state, &seq, TerminalFailed, last.Outcome.Reason)
		}
	}

	span.SetAttributes(
		attribute.String("run.terminal", string(state.Terminal)),
		attribute.Int("run.iterations", state.Iterations),
	)
	if state.Terminal == TerminalFailed {
		span.SetStatus(codes.Error, state.FailureReason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return state, nil
}

// invoke derives input, validates it, executes the agent under the invocation
// timeout and appends exactly one history entry. Every path through here
// consumes one iteration.
func (o *Orchestrator) invoke(ctx context.Context, state *RunState, seq *int, step Step) {
	before := digest(state)
	inv := Invocation{
		ID:         uuid.NewString(),
		StepID:     step.ID,
		Capability: step.Capability,
		StartedAt:  time.Now(),
	}

	inv.Outcome = o.execute(ctx, state, step, &inv)
	inv.CompletedAt = time.Now()

	state.History = append(state.History, inv)
	state.Iterations++
	o.emit(Event{
		RunID:      state.RunID,
		Seq:        *seq,
		Action:     "invoke",
		Capability: step.Capability,
		StepID:     step.ID,
		Before:     before,
		After:      digest(state),
		Outcome:    &inv.Outcome,
		Excerpt:    excerpt(inv.Outcome),
		Reason:     inv.Outcome.Reason,
		At:         time.Now(),
	})
	*seq++
}

func (o *Orchestrator) execute(ctx context.Context, state *RunState, step Step, inv *Invocation) Outcome {
	derivedCap, input, err := o.decider.DeriveInput(ctx, *state)
	if err != nil {
		o.logger.Printf("run %s: decision failed for step %s: %v", state.RunID, step.ID, err)
		return Fatal(ReasonDecisionFailure)
	}
	if derivedCap != step.Capability {
		o.logger.Printf("run %s: decider derived %q for step %s tagged %q", state.RunID, derivedCap, step.ID, step.Capability)
		return Fatal(ReasonDecisionFailure)
	}
	inv.Input = input

	if o.registry != nil {
		if err := o.registry.ValidateInput(string(step.Capability), input); err != nil {
			o.logger.Printf("run %s: %v", state.RunID, err)
			return Fatal(ReasonInvalidInput)
		}
	}

	agent, ok := o.agents[step.Capability]
	if !ok {
		o.logger.Printf("run %s: no agent for capability %q", state.RunID, step.Capability)
		return Fatal(ReasonInternalError)
	}

	invCtx, cancel := context.WithTimeout(ctx, o.cfg.InvocationTimeout)
	defer cancel()
	outcome, err := agent.Invoke(invCtx, input)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return Retryable(ReasonTimeout)
		case errors.Is(err, context.Canceled):
			return Retryable(ReasonCancelled)
		default:
			o.logger.Printf("run %s: agent %s returned unexpected error: %v", state.RunID, step.Capability, err)
			return Fatal(ReasonInternalError)
		}
	}
	return outcome
}

// advance moves the cursor past a succeeded step. Advancing is free: it does
// not consume an iteration.
func (o *Orchestrator) advance(state *RunState, seq *int, step Step) {
	before := digest(state)
	state.StepIndex++
	o.emit(Event{
		RunID:      state.RunID,
		Seq:        *seq,
		Action:     "advance",
		Capability: step.Capability,
		StepID:     step.ID,
		Before:     before,
		After:      digest(state),
		At:         time.Now(),
	})
	*seq++
}

func (o *Orchestrator) finish(state *RunState, seq *int, terminal Terminal, reason string) {
	before := digest(state)
	state.Terminal = terminal
	state.FailureReason = reason
	o.emit(Event{
		RunID:   state.RunID,
		Seq:     *seq,
		Action:  "finish",
		Before:  before,
		After:   digest(state),
		Reason:  reason,
		Elapsed: time.Since(state.StartedAt),
		At:      time.Now(),
	})
	*seq++
}

// recordCancellation appends a retryable cancelled attempt for the current
// step so the history explains why the run stopped. Skipped when the cursor
// is past the plan or the last entry already records the cancellation.
func (o *Orchestrator) recordCancellation(state *RunState) {
	step, ok := state.CurrentStep()
	if !ok {
		return
	}
	if last, found := state.LastInvocation(); found &&
		last.StepID == step.ID &&
		last.Outcome.Kind == OutcomeRetryable &&
		last.Outcome.Reason == ReasonCancelled {
		return
	}
	now := time.Now()
	state.History = append(state.History, Invocation{
		ID:          uuid.NewString(),
		StepID:      step.ID,
		Capability:  step.Capability,
		Outcome:     Retryable(ReasonCancelled),
		StartedAt:   now,
		CompletedAt: now,
	})
}

func (o *Orchestrator) emit(event Event) {
	if o.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("trace sink panicked: %v", r)
		}
	}()
	o.sink.Emit(event)
}

func digest(state *RunState) StateDigest {
	return StateDigest{
		StepIndex:  state.StepIndex,
		Iterations: state.Iterations,
		Terminal:   state.Terminal,
	}
}

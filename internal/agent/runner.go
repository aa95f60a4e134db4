package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/threadr-ai/threadr/internal/workflow"
)

// RunArchiver persists the record of a finished run. Archival is best-effort;
// failures are logged, never surfaced.
type RunArchiver interface {
	ArchiveRun(ctx context.Context, state *workflow.RunState, summary string) error
}

// RunResult is the complete product of one request: the terminal state and
// the user-facing summary.
type RunResult struct {
	State   *workflow.RunState
	Summary string
}

// Runner owns the full request lifecycle: plan, orchestrate, respond,
// archive. One Runner serves many concurrent requests; each call gets its own
// isolated run state.
type Runner struct {
	planner      workflow.Planner
	orchestrator *workflow.Orchestrator
	responder    workflow.Responder
	archiver     RunArchiver
	logger       *log.Logger
}

// NewRunner wires the pipeline. The archiver may be nil.
func NewRunner(planner workflow.Planner, orchestrator *workflow.Orchestrator, responder workflow.Responder, archiver RunArchiver, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[Runner] ", log.LstdFlags)
	}
	return &Runner{
		planner:      planner,
		orchestrator: orchestrator,
		responder:    responder,
		archiver:     archiver,
		logger:       logger,
	}
}

// Run executes one request to completion. The returned result always carries
// a terminal state and a summary; the error return is reserved for
// programming faults.
func (r *Runner) Run(ctx context.Context, req workflow.Request) (RunResult, error) {
	started := time.Now()

	plan, err := r.planner.CreatePlan(ctx, req)
	if err != nil {
		var planErr workflow.PlanningError
		if !errors.As(err, &planErr) {
			return RunResult{}, err
		}
		r.logger.Printf("request %s: %v", req.ID, planErr)
		return r.finishPlanningFailure(ctx, req), nil
	}

	state, err := r.orchestrator.Run(ctx, req, plan)
	if err != nil {
		var planErr workflow.PlanningError
		if errors.As(err, &planErr) {
			r.logger.Printf("request %s: %v", req.ID, planErr)
			return r.finishPlanningFailure(ctx, req), nil
		}
		return RunResult{}, err
	}

	summary := r.summarize(ctx, state)
	r.logger.Printf("request %s: run %s %s in %s (%d iterations, %d history entries)",
		req.ID, state.RunID, state.Terminal, time.Since(started).Round(time.Millisecond), state.Iterations, len(state.History))

	r.archive(ctx, state, summary)
	return RunResult{State: state, Summary: summary}, nil
}

// finishPlanningFailure builds the terminal state for a request that never
// produced an executable plan. Planning failures are run-terminal and are
// not retried.
func (r *Runner) finishPlanningFailure(ctx context.Context, req workflow.Request) RunResult {
	state := workflow.NewRunState(req, workflow.Plan{})
	state.Terminal = workflow.TerminalFailed
	state.FailureReason = workflow.ReasonPlanningFailure

	summary := r.summarize(ctx, state)
	r.archive(ctx, state, summary)
	return RunResult{State: state, Summary: summary}
}

func (r *Runner) summarize(ctx context.Context, state *workflow.RunState) string {
	// Summarize against a fresh context so a cancelled run still yields an
	// answer to return to the caller.
	sctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
	}
	summary, err := r.responder.Summarize(sctx, *state)
	if err != nil {
		r.logger.Printf("run %s: responder failed: %v", state.RunID, err)
		return "The request finished, but composing the reply failed."
	}
	return summary
}

func (r *Runner) archive(ctx context.Context, state *workflow.RunState, summary string) {
	if r.archiver == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.archiver.ArchiveRun(actx, state, summary); err != nil {
		r.logger.Printf("run %s: archive failed: %v", state.RunID, err)
	}
}

package workflow

import (
	"errors"
	"fmt"
)

// Machine-readable terminal and outcome reasons. These surface in logs and
// telemetry; the responder maps them to user-facing text.
const (
	ReasonIterationBudgetExceeded = "iteration_budget_exceeded"
	ReasonCancelled               = "cancelled"
	ReasonTimeout                 = "timeout"
	ReasonRateLimited             = "rate_limited"
	ReasonInvalidInput            = "invalid_input"
	ReasonDecisionFailure         = "decision_failure"
	ReasonAuthError               = "auth_error"
	ReasonBadRemoteResponse       = "bad_remote_response"
	ReasonPlanningFailure         = "planning_failure"
	ReasonInternalError           = "internal_error"
)

// Plan invariant violations.
var (
	ErrEmptyPlan         = errors.New("plan has no steps")
	ErrStepMissingID     = errors.New("plan step missing id")
	ErrDuplicateStepID   = errors.New("plan step id duplicated")
	ErrUnknownCapability = errors.New("plan step requires unknown capability")
)

// PlanningError marks a run-terminal planning failure; a malformed or empty
// plan cannot be safely executed and is never retried.
type PlanningError struct {
	Err error
}

func (e PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %v", e.Err)
}

func (e PlanningError) Unwrap() error { return e.Err }

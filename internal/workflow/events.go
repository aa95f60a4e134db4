package workflow

import "time"

// StateDigest captures the observable loop state around one transition.
type StateDigest struct {
	StepIndex  int      `json:"step_index"`
	Iterations int      `json:"iterations"`
	Terminal   Terminal `json:"terminal"`
}

// Event is one orchestrator transition: the state before, the action chosen,
// and the state after. Emitted to the injected trace sink; sinks are
// write-only and their failures never affect control flow.
type Event struct {
	RunID      string      `json:"run_id"`
	Seq        int         `json:"seq"`
	Action     string      `json:"action"` // invoke, advance, finish
	Capability Capability  `json:"capability,omitempty"`
	StepID     string      `json:"step_id,omitempty"`
	Before     StateDigest `json:"before"`
	After      StateDigest `json:"after"`
	Outcome    *Outcome    `json:"outcome,omitempty"`
	Excerpt    string      `json:"excerpt,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	// Elapsed is the run's wall-clock age, set on finish events only.
	Elapsed time.Duration `json:"elapsed,omitempty"`
	At      time.Time     `json:"at"`
}

// TraceSink receives one event per orchestrator transition.
type TraceSink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to the TraceSink interface.
type SinkFunc func(Event)

// Emit implements TraceSink.
func (f SinkFunc) Emit(event Event) { f(event) }

// MultiSink fans one event out to several sinks.
func MultiSink(sinks ...TraceSink) TraceSink {
	return SinkFunc(func(event Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(event)
			}
		}
	})
}

const excerptLimit = 140

func excerpt(o Outcome) string {
	s := o.Text()
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= excerptLimit {
		return s
	}
	return string(runes[:excerptLimit]) + "…"
}

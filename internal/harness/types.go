package harness

import "github.com/roach88/capgate/internal/fusion"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step      int    `json:"step"`
	Op        string `json:"op"`
	AttemptID string `json:"attempt_id,omitempty"`
	AtMs      int64  `json:"at_ms"`
	Source    string `json:"source,omitempty"`

	// Resolution is the engine's answer. Nil for route_change steps.
	Resolution *fusion.Resolution `json:"resolution,omitempty"`

	// Disposed lists the attempts a route_change step disposed.
	Disposed []string `json:"disposed,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Final holds the resolution of every attempt the scenario touched,
	// resolved after the last step and sorted by attempt id.
	Final []fusion.Resolution `json:"final"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Final:  []fusion.Resolution{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// FinalFor returns the final resolution of attemptID.
func (r *Result) FinalFor(attemptID string) (fusion.Resolution, bool) {
	for _, res := range r.Final {
		if res.AttemptID == attemptID {
			return res, true
		}
	}
	return fusion.Resolution{}, false
}

package fusion

import "github.com/roach88/capgate/internal/attempt"

// Source is the channel a signal was observed on.
type Source string

const (
	SourceNetwork   Source = "network"
	SourceLifecycle Source = "lifecycle"
	SourceDOM       Source = "dom"
	SourceProbe     Source = "probe"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceNetwork, SourceLifecycle, SourceDOM, SourceProbe:
		return true
	}
	return false
}

// Fidelity grades how far captured content can be trusted.
type Fidelity string

const (
	FidelityNone      Fidelity = ""
	FidelityCanonical Fidelity = "canonical"
	FidelityDegraded  Fidelity = "degraded"
)

// Fidelity returns the fidelity of content observed on s. Lifecycle
// signals carry no content.
func (s Source) Fidelity() Fidelity {
	switch s {
	case SourceNetwork, SourceProbe:
		return FidelityCanonical
	case SourceDOM:
		return FidelityDegraded
	}
	return FidelityNone
}

// Reason summarizes a Resolution.
type Reason string

const (
	ReasonReady                Reason = "ready"
	ReasonNotReady             Reason = "not_ready"
	ReasonSuperseded           Reason = "superseded"
	ReasonDisposed             Reason = "disposed"
	ReasonStabilizationTimeout Reason = "stabilization_timeout"
	ReasonNotCaptured          Reason = "not_captured"
)

// Blocking conditions added on top of the readiness gate's list.
const (
	ConditionSuperseded = "superseded"
	ConditionDisposed   = "disposed"
)

// Signal is one observation about an attempt.
type Signal struct {
	AttemptID      string        `json:"attempt_id" yaml:"attempt_id"`
	Platform       string        `json:"platform" yaml:"platform"`
	Source         Source        `json:"source" yaml:"source"`
	Phase          attempt.Phase `json:"phase,omitempty" yaml:"phase,omitempty"`
	TimestampMs    int64         `json:"timestamp_ms" yaml:"timestamp_ms"`
	ConversationID string        `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	// Payload is the raw captured content, if any. A nil payload leaves the
	// previous readiness verdict in place.
	Payload any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Resolution is the fused verdict for one attempt.
type Resolution struct {
	AttemptID          string        `json:"attempt_id"`
	Ready              bool          `json:"ready"`
	Phase              attempt.Phase `json:"phase"`
	Reason             Reason        `json:"reason"`
	BlockingConditions []string      `json:"blocking_conditions,omitempty"`
	Fidelity           Fidelity      `json:"fidelity,omitempty"`
	UpdatedAtMs        int64         `json:"updated_at_ms"`
}

// Frozen reports whether r is a disposed resolution.
func (r Resolution) Frozen() bool {
	return r.Phase == attempt.PhaseDisposed
}

func (r Resolution) clone() Resolution {
	if r.BlockingConditions != nil {
		r.BlockingConditions = append([]string(nil), r.BlockingConditions...)
	}
	return r
}

// notCaptured is the resolution of an unknown or forgotten attempt.
func notCaptured(attemptID string) Resolution {
	return Resolution{
		AttemptID: attemptID,
		Phase:     attempt.PhaseIdle,
		Reason:    ReasonNotCaptured,
	}
}

package attempt

// Phase is the lifecycle state of an attempt.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePromptSent    Phase = "prompt_sent"
	PhaseStreaming     Phase = "streaming"
	PhaseCapturedReady Phase = "captured_ready"
	PhaseSuperseded    Phase = "superseded"
	PhaseDisposed      Phase = "disposed"
)

// rank orders the non-terminal phases. Terminal phases have no rank.
var rank = map[Phase]int{
	PhaseIdle:          0,
	PhasePromptSent:    1,
	PhaseStreaming:     2,
	PhaseCapturedReady: 3,
}

// Terminal reports whether p is superseded or disposed.
func (p Phase) Terminal() bool {
	return p == PhaseSuperseded || p == PhaseDisposed
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := rank[p]
	return ok || p.Terminal()
}

// InFlight reports whether p is a sent-but-not-captured phase.
func (p Phase) InFlight() bool {
	return p == PhasePromptSent || p == PhaseStreaming
}

// ParsePhase converts a string to a Phase.
func ParsePhase(s string) (Phase, bool) {
	p := Phase(s)
	return p, p.Valid()
}

package harness

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"

	"github.com/roach88/capgate/internal/clock"
	"github.com/roach88/capgate/internal/content"
	"github.com/roach88/capgate/internal/fusion"
	"github.com/roach88/capgate/internal/metrics"
)

// Option configures a Run.
type Option func(*runConfig)

type runConfig struct {
	base          fusion.Config
	terminalField string
	logger        *slog.Logger
	metrics       *metrics.Recorder
}

// WithConfig sets the engine configuration that scenario overrides apply
// to. Defaults to fusion.DefaultConfig().
func WithConfig(cfg fusion.Config) Option {
	return func(rc *runConfig) {
		rc.base = cfg
	}
}

// WithTerminalField sets the payload field read as the terminal flag when
// the scenario does not override it.
func WithTerminalField(name string) Option {
	return func(rc *runConfig) {
		if name != "" {
			rc.terminalField = name
		}
	}
}

// WithLogger sets the engine logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(rc *runConfig) {
		if l != nil {
			rc.logger = l
		}
	}
}

// WithMetrics records engine metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(rc *runConfig) {
		rc.metrics = r
	}
}

// Harness executes one scenario against one engine.
type Harness struct {
	engine   *fusion.Engine
	clock    *clock.Manual
	logger   *slog.Logger
	attempts map[string]struct{}
}

// Run executes a scenario and returns the result.
//
// Each run builds a fresh engine on a manual clock. Step expectations and
// assertions that fail are collected in Result.Errors; the returned error is
// reserved for scenarios that cannot run at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	if scenario == nil {
		return nil, fmt.Errorf("nil scenario")
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	rc := runConfig{
		base:          fusion.DefaultConfig(),
		terminalField: content.DefaultTerminalField,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&rc)
	}

	terminalField := rc.terminalField
	if scenario.Config != nil && scenario.Config.TerminalField != "" {
		terminalField = scenario.Config.TerminalField
	}

	clk := clock.NewManual(0)
	h := &Harness{
		clock:    clk,
		logger:   rc.logger,
		attempts: make(map[string]struct{}),
	}
	h.engine = fusion.New(scenario.Config.apply(rc.base),
		fusion.WithClock(clk),
		fusion.WithExtractor(content.NewCanonicalExtractor(
			content.WithTerminalField(terminalField),
			content.WithLogger(rc.logger),
		)),
		fusion.WithLogger(rc.logger),
		fusion.WithMetrics(rc.metrics),
	)

	result := NewResult()
	for i, step := range scenario.Steps {
		event := h.executeStep(i, step)
		result.Trace = append(result.Trace, event)
		for _, msg := range checkStep(i, step, event) {
			result.AddError(msg)
		}
	}

	result.Final = h.finalResolutions()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep applies one step and records what the engine returned.
func (h *Harness) executeStep(index int, step Step) TraceEvent {
	if step.Ingest == nil && step.AtMs > 0 {
		h.clock.Set(step.AtMs)
	}

	event := TraceEvent{Step: index, Op: step.Op()}
	switch event.Op {
	case OpIngest:
		sig := *step.Ingest
		h.clock.Set(sig.TimestampMs)
		h.attempts[sig.AttemptID] = struct{}{}
		res := h.engine.IngestSignal(sig)
		event.AttemptID = sig.AttemptID
		event.Source = string(sig.Source)
		event.Resolution = &res
	case OpDispose:
		h.attempts[step.Dispose] = struct{}{}
		res := h.engine.Dispose(step.Dispose)
		event.AttemptID = step.Dispose
		event.Resolution = &res
	case OpRouteChange:
		event.Disposed = h.engine.DisposeAllForRouteChange()
	case OpResolve:
		res := h.engine.Resolve(step.Resolve)
		event.AttemptID = step.Resolve
		event.Resolution = &res
	}
	event.AtMs = h.clock.NowMs()

	h.logger.Debug("scenario step executed",
		"step", index,
		"op", event.Op,
		"attempt_id", event.AttemptID,
		"at_ms", event.AtMs,
	)
	return event
}

// finalResolutions resolves every attempt the scenario ingested or
// disposed, in attempt id order.
func (h *Harness) finalResolutions() []fusion.Resolution {
	ids := make([]string, 0, len(h.attempts))
	for id := range h.attempts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]fusion.Resolution, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.engine.Resolve(id))
	}
	return out
}

// checkStep compares a step's outcome with its expect clause.
func checkStep(index int, step Step, event TraceEvent) []string {
	if step.Expect == nil {
		return nil
	}
	var errs []string
	if event.Resolution != nil {
		for _, mismatch := range matchExpect(*event.Resolution, step.Expect) {
			errs = append(errs, fmt.Sprintf("steps[%d] (%s %s): %s", index, event.Op, event.AttemptID, mismatch))
		}
	}
	if step.Expect.Disposed != nil && !slices.Equal(event.Disposed, step.Expect.Disposed) {
		errs = append(errs, fmt.Sprintf("steps[%d] (%s): disposed: expected %v, got %v",
			index, event.Op, step.Expect.Disposed, event.Disposed))
	}
	return errs
}

// matchExpect returns one message per field of exp that res does not match.
func matchExpect(res fusion.Resolution, exp *Expect) []string {
	var out []string
	if exp.Ready != nil && res.Ready != *exp.Ready {
		out = append(out, fmt.Sprintf("ready: expected %t, got %t", *exp.Ready, res.Ready))
	}
	if exp.Phase != "" && string(res.Phase) != exp.Phase {
		out = append(out, fmt.Sprintf("phase: expected %s, got %s", exp.Phase, res.Phase))
	}
	if exp.Reason != "" && string(res.Reason) != exp.Reason {
		out = append(out, fmt.Sprintf("reason: expected %s, got %s", exp.Reason, res.Reason))
	}
	if exp.BlockingConditions != nil && !slices.Equal(res.BlockingConditions, exp.BlockingConditions) {
		if len(res.BlockingConditions) != 0 || len(exp.BlockingConditions) != 0 {
			out = append(out, fmt.Sprintf("blocking_conditions: expected %v, got %v",
				exp.BlockingConditions, res.BlockingConditions))
		}
	}
	if exp.Fidelity != nil && string(res.Fidelity) != *exp.Fidelity {
		out = append(out, fmt.Sprintf("fidelity: expected %q, got %q", *exp.Fidelity, res.Fidelity))
	}
	return out
}

package fusion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/capgate/internal/attempt"
	"github.com/roach88/capgate/internal/boundedcache"
	"github.com/roach88/capgate/internal/clock"
	"github.com/roach88/capgate/internal/content"
	"github.com/roach88/capgate/internal/metrics"
	"github.com/roach88/capgate/internal/readiness"
)

// Bounds for the resolution table.
const (
	DefaultMaxResolutions  = 512
	DefaultResolutionTTLMs = 30 * 60 * 1000
)

// Config bundles the engine's own bounds with those of the tracker and
// gate it builds when none are injected.
type Config struct {
	Attempts  attempt.Config
	Readiness readiness.Config

	// MaxResolutions caps the resolution table (LRU).
	MaxResolutions int
	// ResolutionTTLMs drops resolutions not updated for this long.
	// Zero disables the TTL.
	ResolutionTTLMs int64
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Attempts:        attempt.DefaultConfig(),
		Readiness:       readiness.DefaultConfig(),
		MaxResolutions:  DefaultMaxResolutions,
		ResolutionTTLMs: DefaultResolutionTTLMs,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used by Dispose, DisposeAllForRouteChange and
// Resolve. IngestSignal uses the signal's own timestamp. Passing nil
// panics at construction.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
		e.clockSet = true
	}
}

// WithExtractor sets the payload extractor. Defaults to a
// content.CanonicalExtractor.
func WithExtractor(x content.Extractor) Option {
	return func(e *Engine) {
		e.extractor = x
	}
}

// WithTracker injects an attempt tracker instead of building one from
// Config.Attempts.
func WithTracker(t *attempt.Tracker) Option {
	return func(e *Engine) {
		e.tracker = t
	}
}

// WithGate injects a readiness gate instead of building one from
// Config.Readiness.
func WithGate(g *readiness.Gate) Option {
	return func(e *Engine) {
		e.gate = g
	}
}

// WithLogger sets the logger for the engine and the components it builds.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records resolutions (and gate verdicts, for a gate the
// engine builds) on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

// entry is one row of the resolution table. verdict is the last readiness
// verdict, reused when a signal carries no payload.
type entry struct {
	res        Resolution
	verdict    readiness.Verdict
	hasVerdict bool
}

// Engine is the signal fusion engine.
//
// Thread-safety: all methods are safe for concurrent use. Each call holds
// the engine lock for its whole tracker/gate/table update, so a signal is
// applied atomically.
//
// INVARIANTS:
//   - A frozen (disposed) resolution is never replaced, only aged out.
//   - Ready implies the attempt is neither superseded nor disposed.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	clock     clock.Clock
	clockSet  bool
	tracker   *attempt.Tracker
	gate      *readiness.Gate
	extractor content.Extractor
	logger    *slog.Logger
	metrics   *metrics.Recorder

	resolutions *boundedcache.Cache[string, *entry]
}

// New creates an engine.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.MaxResolutions <= 0 {
		cfg.MaxResolutions = DefaultMaxResolutions
	}
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if !e.clockSet {
		e.clock = clock.System()
	}
	e.clock = clock.Must(e.clock)
	if e.extractor == nil {
		e.extractor = content.NewCanonicalExtractor(content.WithLogger(e.logger))
	}
	if e.tracker == nil {
		e.tracker = attempt.NewTracker(cfg.Attempts, attempt.WithLogger(e.logger))
	}
	if e.gate == nil {
		e.gate = readiness.NewGate(cfg.Readiness,
			readiness.WithLogger(e.logger),
			readiness.WithMetrics(e.metrics),
		)
	}
	e.resolutions = boundedcache.New[string, *entry](cfg.MaxResolutions)
	return e
}

// IngestSignal applies one signal and returns the attempt's fused
// resolution. A signal for a disposed attempt returns the frozen
// resolution and changes nothing. A signal whose phase is disposed
// disposes the attempt.
func (e *Engine) IngestSignal(sig Signal) Resolution {
	e.mu.Lock()
	res, fresh := e.ingestLocked(sig)
	e.mu.Unlock()

	if fresh {
		e.metrics.Resolution(context.Background(), string(res.Phase), res.Ready)
	}
	return res
}

func (e *Engine) ingestLocked(sig Signal) (Resolution, bool) {
	ts := sig.TimestampMs
	e.pruneResolutions(ts)

	prev, hasPrev := e.lookup(sig.AttemptID, ts)
	if hasPrev && prev.res.Frozen() {
		return prev.res.clone(), false
	}
	if sig.Phase == attempt.PhaseDisposed {
		return e.disposeLocked(sig.AttemptID, ts)
	}

	e.tracker.Create(attempt.CreateParams{
		AttemptID:      sig.AttemptID,
		Platform:       sig.Platform,
		ConversationID: sig.ConversationID,
		Phase:          sig.Phase,
		TimestampMs:    ts,
	})
	if sig.ConversationID != "" {
		e.tracker.BindConversation(sig.AttemptID, sig.ConversationID, ts)
	}
	a, ok := e.tracker.Advance(sig.AttemptID, sig.Phase, ts)
	if !ok {
		// Only reachable with a tracker shared outside the engine.
		return notCaptured(sig.AttemptID), false
	}
	if a.Phase == attempt.PhaseDisposed {
		return e.disposeLocked(sig.AttemptID, ts)
	}

	var fidelity Fidelity
	if hasPrev {
		fidelity = prev.res.Fidelity
	}

	var verdict readiness.Verdict
	if sig.Payload == nil && hasPrev && prev.hasVerdict {
		verdict = prev.verdict
	} else {
		s := e.extractor.Extract(sig.Payload)
		verdict = e.gate.Evaluate(sig.AttemptID, readiness.Sample{
			AttemptID:    sig.AttemptID,
			ContentHash:  s.ContentHash,
			Terminal:     s.Terminal,
			TextLength:   s.TextLength,
			ObservedAtMs: ts,
		}, ts)
		if s.ContentHash != "" && sig.Source.Fidelity() != FidelityNone {
			fidelity = sig.Source.Fidelity()
		}
	}

	res := fuse(a, verdict, fidelity, ts)
	if res.Ready && a.Phase != attempt.PhaseCapturedReady {
		if advanced, ok := e.tracker.Advance(a.ID, attempt.PhaseCapturedReady, ts); ok {
			res.Phase = advanced.Phase
		}
	}

	e.resolutions.Set(sig.AttemptID, &entry{res: res, verdict: verdict, hasVerdict: true})
	e.logger.Debug("signal ingested",
		"attempt_id", sig.AttemptID,
		"source", sig.Source,
		"phase", res.Phase,
		"ready", res.Ready,
		"reason", res.Reason,
	)
	return res.clone(), true
}

// Resolve returns the attempt's last resolution, or a not_captured
// resolution when the attempt is unknown or has been forgotten. When the
// attempt was superseded after its last resolution, the stored resolution is
// refreshed to superseded in place, keeping its UpdatedAtMs. It does not
// touch tracker or gate state.
func (e *Engine) Resolve(attemptID string) Resolution {
	now := e.clock.NowMs()

	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.lookup(attemptID, now)
	if !ok {
		return notCaptured(attemptID)
	}
	if !ent.res.Frozen() && ent.res.Phase != attempt.PhaseSuperseded {
		// A later attempt may have taken over the conversation since this
		// resolution was computed.
		if a, ok := e.tracker.Get(attemptID); ok && a.Phase == attempt.PhaseSuperseded {
			ent.res = fuse(a, ent.verdict, ent.res.Fidelity, ent.res.UpdatedAtMs)
		}
	}
	return ent.res.clone()
}

// Dispose disposes the attempt, drops its stability record and freezes a
// disposed resolution. Repeated calls return the same resolution.
func (e *Engine) Dispose(attemptID string) Resolution {
	now := e.clock.NowMs()

	e.mu.Lock()
	e.pruneResolutions(now)
	res, fresh := e.disposeLocked(attemptID, now)
	e.mu.Unlock()

	if fresh {
		e.metrics.Resolution(context.Background(), string(res.Phase), res.Ready)
	}
	return res
}

// DisposeAllForRouteChange disposes every in-flight attempt, as on a page
// navigation, and returns their ids in sorted order. Captured attempts are
// kept.
func (e *Engine) DisposeAllForRouteChange() []string {
	now := e.clock.NowMs()

	e.mu.Lock()
	e.pruneResolutions(now)
	ids := e.tracker.DisposeAllForRouteChange(now)
	disposed := make([]Resolution, 0, len(ids))
	for _, id := range ids {
		res, _ := e.disposeLocked(id, now)
		disposed = append(disposed, res)
	}
	e.mu.Unlock()

	for _, res := range disposed {
		e.metrics.Resolution(context.Background(), string(res.Phase), res.Ready)
	}
	return ids
}

// Attempt returns the tracker's view of an attempt.
func (e *Engine) Attempt(attemptID string) (attempt.Attempt, bool) {
	return e.tracker.Get(attemptID)
}

// Len returns the number of resolutions held, frozen ones included.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolutions.Len()
}

func (e *Engine) disposeLocked(attemptID string, nowMs int64) (Resolution, bool) {
	prev, hasPrev := e.lookup(attemptID, nowMs)
	if hasPrev && prev.res.Frozen() {
		return prev.res.clone(), false
	}

	e.tracker.Dispose(attemptID, nowMs)
	e.gate.Forget(attemptID)

	res := Resolution{
		AttemptID:          attemptID,
		Phase:              attempt.PhaseDisposed,
		Reason:             ReasonDisposed,
		BlockingConditions: []string{ConditionDisposed},
		UpdatedAtMs:        nowMs,
	}
	if hasPrev {
		res.Fidelity = prev.res.Fidelity
	}
	e.resolutions.Set(attemptID, &entry{res: res})

	e.logger.Debug("attempt disposed",
		"attempt_id", attemptID,
		"event", "attempt_disposed",
	)
	return res.clone(), true
}

// lookup returns the attempt's entry unless it has aged past the TTL, in
// which case the entry is dropped.
func (e *Engine) lookup(attemptID string, nowMs int64) (*entry, bool) {
	ent, ok := e.resolutions.Get(attemptID)
	if !ok {
		return nil, false
	}
	if e.expired(ent, nowMs) {
		e.resolutions.Delete(attemptID)
		return nil, false
	}
	return ent, true
}

// pruneResolutions drops expired entries from the least recently written
// end of the table.
func (e *Engine) pruneResolutions(nowMs int64) {
	for {
		id, ent, ok := e.resolutions.Oldest()
		if !ok || !e.expired(ent, nowMs) {
			return
		}
		e.resolutions.Delete(id)
	}
}

func (e *Engine) expired(ent *entry, nowMs int64) bool {
	return e.cfg.ResolutionTTLMs > 0 && nowMs-ent.res.UpdatedAtMs > e.cfg.ResolutionTTLMs
}

// fuse combines the tracker phase with the gate verdict.
func fuse(a attempt.Attempt, v readiness.Verdict, fidelity Fidelity, ts int64) Resolution {
	res := Resolution{
		AttemptID:   a.ID,
		Phase:       a.Phase,
		Fidelity:    fidelity,
		UpdatedAtMs: ts,
	}

	var conditions []string
	conditions = append(conditions, v.BlockingConditions...)
	switch {
	case a.Phase == attempt.PhaseSuperseded:
		res.Reason = ReasonSuperseded
		conditions = append(conditions, ConditionSuperseded)
	case v.Ready:
		res.Ready = true
		res.Reason = ReasonReady
	case v.TimedOut:
		res.Reason = ReasonStabilizationTimeout
	default:
		res.Reason = ReasonNotReady
	}
	res.BlockingConditions = conditions
	return res
}

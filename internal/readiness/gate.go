package readiness

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/capgate/internal/boundedcache"
	"github.com/roach88/capgate/internal/metrics"
)

// Blocking conditions reported by Evaluate.
const (
	ConditionNoCanonicalData      = "no_canonical_data"
	ConditionHashChanged          = "content_hash_changed"
	ConditionAwaitingSecondSample = "awaiting_second_sample"
	ConditionWindowNotElapsed     = "stability_window_not_elapsed"
	ConditionStabilizationTimeout = "stabilization_timeout"
)

// ReasonStable is the verdict reason for a ready verdict.
const ReasonStable = "stable"

// Default gate parameters.
const (
	DefaultMinStableMs            = 1200
	DefaultMaxStabilizationWaitMs = 30_000
	DefaultSampleTTLMs            = 10 * 60 * 1000
	DefaultMaxSamples             = 256
	DefaultPruneMinIntervalMs     = 5_000
)

// Sample is one observation of an attempt's content.
type Sample struct {
	AttemptID string
	// ContentHash is empty when the channel has no canonical data yet.
	ContentHash  string
	Terminal     bool
	TextLength   int
	ObservedAtMs int64
}

// Verdict is the gate's answer for one sample.
type Verdict struct {
	Ready              bool
	Reason             string
	BlockingConditions []string
	TimedOut           bool
}

// Config holds the gate's timing and memory bounds.
type Config struct {
	MinStableMs            int64
	MaxStabilizationWaitMs int64
	SampleTTLMs            int64
	MaxSamples             int
	PruneMinIntervalMs     int64
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		MinStableMs:            DefaultMinStableMs,
		MaxStabilizationWaitMs: DefaultMaxStabilizationWaitMs,
		SampleTTLMs:            DefaultSampleTTLMs,
		MaxSamples:             DefaultMaxSamples,
		PruneMinIntervalMs:     DefaultPruneMinIntervalMs,
	}
}

// record is the stability record for one attempt.
type record struct {
	lastHash             string
	firstSeenAtMsForHash int64
	timeoutStartedAtMs   int64
	stableHash           string
	lastTouchedAtMs      int64
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics records verdict reasons on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(g *Gate) {
		g.metrics = r
	}
}

// Gate owns stability records keyed by attempt id.
//
// Thread-safety: all methods are safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	records *boundedcache.Cache[string, *record]
	logger  *slog.Logger
	metrics *metrics.Recorder

	lastPruneAtMs int64
	pruned        bool
}

// NewGate creates a gate. A non-positive MaxSamples falls back to the
// default so the gate always retains at least one record.
func NewGate(cfg Config, opts ...Option) *Gate {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	g := &Gate{
		cfg:     cfg,
		records: boundedcache.New[string, *record](cfg.MaxSamples),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate folds sample into the attempt's stability record and returns the
// resulting verdict.
func (g *Gate) Evaluate(attemptID string, sample Sample, nowMs int64) Verdict {
	g.mu.Lock()
	v := g.evaluateLocked(attemptID, sample, nowMs)
	g.mu.Unlock()

	g.metrics.Verdict(context.Background(), v.Reason)
	return v
}

func (g *Gate) evaluateLocked(attemptID string, sample Sample, nowMs int64) Verdict {
	g.maybePrune(nowMs)

	if sample.ContentHash == "" || sample.TextLength <= 0 {
		// The record is read, never written: an absent sample must not
		// disturb a window already in progress.
		if rec, ok := g.records.Get(attemptID); ok && g.timedOut(rec, nowMs) {
			return notReady(true, ConditionNoCanonicalData, ConditionStabilizationTimeout)
		}
		return notReady(false, ConditionNoCanonicalData)
	}

	rec, ok := g.records.Get(attemptID)
	if !ok {
		rec = &record{timeoutStartedAtMs: nowMs}
		g.records.Set(attemptID, rec)
	} else {
		g.records.Touch(attemptID)
	}
	rec.lastTouchedAtMs = nowMs

	timedOut := g.timedOut(rec, nowMs)

	if sample.ContentHash != rec.lastHash {
		first := rec.lastHash == ""
		rec.lastHash = sample.ContentHash
		rec.firstSeenAtMsForHash = nowMs
		rec.stableHash = ""

		if timedOut {
			return notReady(true, ConditionStabilizationTimeout)
		}
		if first {
			return notReady(false, ConditionHashChanged, ConditionAwaitingSecondSample)
		}
		return notReady(false, ConditionHashChanged)
	}

	// Declared stable at this hash earlier; stays ready.
	if rec.stableHash == sample.ContentHash {
		return ready()
	}

	if timedOut {
		return notReady(true, ConditionStabilizationTimeout)
	}
	if nowMs-rec.firstSeenAtMsForHash < g.cfg.MinStableMs {
		return notReady(false, ConditionWindowNotElapsed)
	}

	rec.stableHash = sample.ContentHash
	g.logger.Debug("content stable",
		"attempt_id", attemptID,
		"content_hash", sample.ContentHash,
		"stable_for_ms", nowMs-rec.firstSeenAtMsForHash,
		"terminal", sample.Terminal,
	)
	return ready()
}

// Forget drops the attempt's record. The next sample cold-starts.
func (g *Gate) Forget(attemptID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.records.Delete(attemptID)
}

// Len returns the number of stability records held.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.records.Len()
}

// maybePrune drops records idle past the sample TTL, at most once per
// PruneMinIntervalMs.
func (g *Gate) maybePrune(nowMs int64) {
	if g.cfg.SampleTTLMs <= 0 {
		return
	}
	if g.pruned && nowMs-g.lastPruneAtMs < g.cfg.PruneMinIntervalMs {
		return
	}
	g.pruned = true
	g.lastPruneAtMs = nowMs

	var dropped int
	g.records.Range(func(id string, rec *record) bool {
		if nowMs-rec.lastTouchedAtMs > g.cfg.SampleTTLMs {
			g.records.Delete(id)
			dropped++
		}
		return true
	})
	if dropped > 0 {
		g.logger.Debug("stability records pruned",
			"dropped", dropped,
			"remaining", g.records.Len(),
		)
	}
}

func (g *Gate) timedOut(rec *record, nowMs int64) bool {
	return g.cfg.MaxStabilizationWaitMs > 0 &&
		nowMs-rec.timeoutStartedAtMs > g.cfg.MaxStabilizationWaitMs
}

func ready() Verdict {
	return Verdict{Ready: true, Reason: ReasonStable, BlockingConditions: []string{}}
}

func notReady(timedOut bool, conditions ...string) Verdict {
	return Verdict{
		Reason:             conditions[0],
		BlockingConditions: conditions,
		TimedOut:           timedOut,
	}
}

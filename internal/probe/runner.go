package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/roach88/capgate/internal/clock"
	"github.com/roach88/capgate/internal/lease"
	"github.com/roach88/capgate/internal/metrics"
)

// Defaults for a Runner.
const (
	DefaultLeaseTTLMs    = lease.DefaultTTLMs
	DefaultRatePerSecond = 2.0
	DefaultBurst         = 1
)

// Run outcomes recorded in metrics.
const (
	outcomeRan         = "ran"
	outcomeFailed      = "failed"
	outcomeCanceled    = "canceled"
	outcomeDenied      = "denied"
	outcomeRateLimited = "rate_limited"
)

// Config paces probes and sizes their leases.
type Config struct {
	// LeaseTTLMs is how long a probe holds its resource. It should exceed
	// the probe's expected duration.
	LeaseTTLMs int64
	// RatePerSecond limits probe starts in this process. Zero or less
	// disables limiting.
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		LeaseTTLMs:    DefaultLeaseTTLMs,
		RatePerSecond: DefaultRatePerSecond,
		Burst:         DefaultBurst,
	}
}

// Func is a probe body. ctx is canceled when a newer probe for the same
// resource starts in this process or the run is canceled.
type Func func(ctx context.Context) error

// Outcome reports what Run did. When Ran is false the lease was held by
// Owner until ExpiresAtMs; an empty Owner means the lease store failed.
type Outcome struct {
	Ran         bool   `json:"ran"`
	Owner       string `json:"owner,omitempty"`
	ExpiresAtMs int64  `json:"expires_at_ms,omitempty"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock used for lease timestamps. Defaults to the
// system clock.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = clock.Must(c)
	}
}

// WithScheduler shares a scheduler between runners.
func WithScheduler(s *Scheduler) Option {
	return func(r *Runner) {
		if s != nil {
			r.scheduler = s
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// Runner runs lease-guarded, rate-limited probes.
//
// Thread-safety: all methods are safe for concurrent use.
type Runner struct {
	leases    *lease.Coordinator
	scheduler *Scheduler
	limiter   *rate.Limiter
	clock     clock.Clock
	ttlMs     int64
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// NewRunner creates a runner claiming leases through leases. It panics on a
// nil coordinator.
func NewRunner(leases *lease.Coordinator, cfg Config, opts ...Option) *Runner {
	if leases == nil {
		panic("probe: nil lease coordinator")
	}
	if cfg.LeaseTTLMs <= 0 {
		cfg.LeaseTTLMs = DefaultLeaseTTLMs
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}

	r := &Runner{
		leases:    leases,
		scheduler: NewScheduler(),
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		clock:     clock.System(),
		ttlMs:     cfg.LeaseTTLMs,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scheduler returns the runner's cancellation table.
func (r *Runner) Scheduler() *Scheduler {
	return r.scheduler
}

// Run waits for the rate limiter, claims the lease on resourceID for
// claimantID and runs fn. A denied claim is not an error: it returns an
// Outcome with Ran false and fn is not called. The lease is released after
// fn returns, whatever its result, unless a newer Run for the same resource
// superseded this one.
func (r *Runner) Run(ctx context.Context, resourceID, claimantID string, fn Func) (Outcome, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		r.metrics.ProbeRun(ctx, outcomeRateLimited)
		return Outcome{}, fmt.Errorf("probe %s: rate limit: %w", resourceID, err)
	}

	claim := r.leases.Claim(ctx, resourceID, claimantID, r.ttlMs, r.clock.NowMs())
	if !claim.Acquired {
		r.metrics.ProbeRun(ctx, outcomeDenied)
		r.logger.Debug("probe skipped, lease held",
			"resource_id", resourceID,
			"claimant_id", claimantID,
			"owner_attempt_id", claim.OwnerAttemptID,
		)
		return Outcome{Owner: claim.OwnerAttemptID, ExpiresAtMs: claim.ExpiresAtMs}, nil
	}

	probeCtx, tok := r.scheduler.Start(ctx, resourceID)
	err := r.runGuarded(probeCtx, fn)

	// A superseded probe shares its lease with the newer probe that renewed
	// it; only the newest run releases.
	if r.scheduler.Finish(tok) {
		// The caller's context may be done by now; the lease must still go.
		released := r.leases.Release(context.WithoutCancel(ctx), resourceID, claimantID, r.clock.NowMs())
		if !released {
			r.logger.Debug("probe lease not released",
				"resource_id", resourceID,
				"claimant_id", claimantID,
			)
		}
	} else {
		r.logger.Debug("superseded probe left lease to its successor",
			"resource_id", resourceID,
			"claimant_id", claimantID,
		)
	}

	out := Outcome{Ran: true, Owner: claimantID, ExpiresAtMs: claim.ExpiresAtMs}
	switch {
	case err == nil:
		r.metrics.ProbeRun(ctx, outcomeRan)
	case errors.Is(err, context.Canceled):
		r.metrics.ProbeRun(ctx, outcomeCanceled)
		return out, fmt.Errorf("probe %s: %w", resourceID, err)
	default:
		r.metrics.ProbeRun(ctx, outcomeFailed)
		r.logger.Warn("probe failed",
			"resource_id", resourceID,
			"claimant_id", claimantID,
			"error", err,
		)
		return out, fmt.Errorf("probe %s: %w", resourceID, err)
	}
	return out, nil
}

// runGuarded converts a panicking probe into an error so the lease is
// always released.
func (r *Runner) runGuarded(ctx context.Context, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("probe panicked: %v", p)
		}
	}()
	return fn(ctx)
}

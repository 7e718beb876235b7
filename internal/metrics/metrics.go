// Package metrics exposes the OpenTelemetry instruments recorded by the
// capture-consistency core.
//
// A nil *Recorder is valid and records nothing, so components can take one
// unconditionally. New(nil) uses the global meter provider, which is a no-op
// until the host process installs one.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/roach88/capgate"

// Instrument names.
const (
	LeaseClaims       = "capgate.lease.claims"
	LeaseReleases     = "capgate.lease.releases"
	ReadinessVerdicts = "capgate.readiness.verdicts"
	FusionResolutions = "capgate.fusion.resolutions"
	ProbeRuns         = "capgate.probe.runs"
)

// Recorder holds the counters.
type Recorder struct {
	leaseClaims   metric.Int64Counter
	leaseReleases metric.Int64Counter
	verdicts      metric.Int64Counter
	resolutions   metric.Int64Counter
	probeRuns     metric.Int64Counter
}

// New creates the instruments on provider. A nil provider means the
// global one.
func New(provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	r := &Recorder{}
	var err error
	if r.leaseClaims, err = meter.Int64Counter(LeaseClaims,
		metric.WithDescription("Lease claim attempts by result")); err != nil {
		return nil, err
	}
	if r.leaseReleases, err = meter.Int64Counter(LeaseReleases,
		metric.WithDescription("Lease release attempts by result")); err != nil {
		return nil, err
	}
	if r.verdicts, err = meter.Int64Counter(ReadinessVerdicts,
		metric.WithDescription("Readiness gate verdicts by reason")); err != nil {
		return nil, err
	}
	if r.resolutions, err = meter.Int64Counter(FusionResolutions,
		metric.WithDescription("Fused resolutions by phase and readiness")); err != nil {
		return nil, err
	}
	if r.probeRuns, err = meter.Int64Counter(ProbeRuns,
		metric.WithDescription("Confirmation probe runs by outcome")); err != nil {
		return nil, err
	}
	return r, nil
}

// LeaseClaim records a claim outcome: "granted", "renewed", "denied" or
// "store_error".
func (r *Recorder) LeaseClaim(ctx context.Context, result string) {
	if r == nil {
		return
	}
	r.leaseClaims.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// LeaseRelease records a release outcome.
func (r *Recorder) LeaseRelease(ctx context.Context, released bool) {
	if r == nil {
		return
	}
	r.leaseReleases.Add(ctx, 1, metric.WithAttributes(attribute.Bool("released", released)))
}

// Verdict records a readiness verdict reason.
func (r *Recorder) Verdict(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Resolution records a fused resolution.
func (r *Recorder) Resolution(ctx context.Context, phase string, ready bool) {
	if r == nil {
		return
	}
	r.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("ready", ready),
	))
}

// ProbeRun records a probe outcome: "ran", "failed", "canceled", "denied"
// or "rate_limited".
func (r *Recorder) ProbeRun(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.probeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

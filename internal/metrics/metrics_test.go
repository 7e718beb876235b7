package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRecorder(t *testing.T) (*Recorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	r, err := New(provider)
	require.NoError(t, err)
	return r, reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRecorder_Counts(t *testing.T) {
	r, reader := newTestRecorder(t)
	ctx := context.Background()

	r.LeaseClaim(ctx, "granted")
	r.LeaseClaim(ctx, "granted")
	r.LeaseClaim(ctx, "denied")
	r.LeaseRelease(ctx, true)
	r.Verdict(ctx, "stability_window_not_elapsed")
	r.Resolution(ctx, "captured_ready", true)
	r.ProbeRun(ctx, "ran")

	assert.Equal(t, int64(2), collectSum(t, reader, LeaseClaims, attribute.String("result", "granted")))
	assert.Equal(t, int64(1), collectSum(t, reader, LeaseClaims, attribute.String("result", "denied")))
	assert.Equal(t, int64(1), collectSum(t, reader, LeaseReleases, attribute.Bool("released", true)))
	assert.Equal(t, int64(1), collectSum(t, reader, ReadinessVerdicts, attribute.String("reason", "stability_window_not_elapsed")))
	assert.Equal(t, int64(1), collectSum(t, reader, FusionResolutions, attribute.String("phase", "captured_ready")))
	assert.Equal(t, int64(1), collectSum(t, reader, ProbeRuns, attribute.String("outcome", "ran")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	ctx := context.Background()

	assert.NotPanics(t, func() {
		r.LeaseClaim(ctx, "granted")
		r.LeaseRelease(ctx, false)
		r.Verdict(ctx, "ready")
		r.Resolution(ctx, "idle", false)
		r.ProbeRun(ctx, "ran")
	})
}

func TestNew_DefaultsToGlobalProvider(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap/zaptest"

	"github.com/catalogsync/backend/internal/infrastructure/telemetry"
)

// disabledProvider returns a provider without an export pipeline; its meters
// are no-ops, which is all the instrument-helper tests need
func disabledProvider(t *testing.T) *telemetry.MeterProvider {
	t.Helper()
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:     false,
		ServiceName: "catalogsync-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return mp
}

func testMeter(t *testing.T) metric.Meter {
	t.Helper()
	return disabledProvider(t).Meter("test")
}

func TestMeterProvider_Disabled(t *testing.T) {
	mp := disabledProvider(t)
	ctx := context.Background()

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("anything"))
	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))

	// Even with a dead context, the disabled provider shuts down cleanly
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, mp.Shutdown(cancelled))
}

func TestMeterProvider_Enabled(t *testing.T) {
	// Needs a reachable OTLP collector
	if testing.Short() {
		t.Skip("skipping collector integration test in short mode")
	}

	ctx := context.Background()
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:4317",
		ExportInterval:    time.Second,
		ServiceName:       "catalogsync-test",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.True(t, mp.IsEnabled())
	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestCounter(t *testing.T) {
	ctx := context.Background()
	counter, err := telemetry.NewCounter(testMeter(t), "changes_applied_total", "Applied change count", "{change}")
	require.NoError(t, err)

	counter.Add(ctx, 5, telemetry.AttrChangeType.String("create"))
	counter.Inc(ctx, telemetry.AttrChangeType.String("delete"))
}

func TestHistogram(t *testing.T) {
	ctx := context.Background()

	t.Run("with fixed buckets", func(t *testing.T) {
		h, err := telemetry.NewHistogram(testMeter(t), telemetry.HistogramOpts{
			Name:        "remote_call_duration_seconds",
			Description: "Remote platform call duration",
			Unit:        "s",
			Boundaries:  telemetry.RemoteDurationBuckets,
		})
		require.NoError(t, err)
		h.Record(ctx, 0.1, telemetry.AttrOperationKind.String("push"))
		h.RecordDuration(ctx, 250*time.Millisecond, telemetry.AttrOperationKind.String("pull"))
	})

	t.Run("with SDK default buckets", func(t *testing.T) {
		h, err := telemetry.NewHistogram(testMeter(t), telemetry.HistogramOpts{
			Name:        "checkpoint_write_duration_seconds",
			Description: "Checkpoint persistence latency",
			Unit:        "s",
		})
		require.NoError(t, err)
		h.Record(ctx, 0.002)
	})
}

func TestGauges(t *testing.T) {
	ctx := context.Background()

	gauge, err := telemetry.NewGauge(testMeter(t), "sync_queue_depth", "Number of queued changes", "{change}")
	require.NoError(t, err)
	gauge.Record(ctx, 15, telemetry.AttrEntityType.String("product"))

	fgauge, err := telemetry.NewFloatGauge(testMeter(t), "sync_error_rate", "Failures per processed item", "1")
	require.NoError(t, err)
	fgauge.Record(ctx, 0.02, attribute.String("direction", "push"))
}

func TestAttributeVocabulary(t *testing.T) {
	assert.Equal(t, "batch_id", string(telemetry.AttrBatchID))
	assert.Equal(t, "entity_type", string(telemetry.AttrEntityType))
	assert.Equal(t, "change_type", string(telemetry.AttrChangeType))
	assert.Equal(t, "error_kind", string(telemetry.AttrErrorKind))
	assert.Equal(t, "metric_type", string(telemetry.AttrMetricType))
	assert.Equal(t, "alert_level", string(telemetry.AttrAlertLevel))
	assert.Equal(t, "operation_kind", string(telemetry.AttrOperationKind))
}

func TestBucketLayouts(t *testing.T) {
	// Buckets are ascending and span their duration class
	for name, buckets := range map[string][]float64{
		"remote": telemetry.RemoteDurationBuckets,
		"db":     telemetry.DBDurationBuckets,
		"small":  telemetry.SmallDurationBuckets,
	} {
		require.NotEmpty(t, buckets, name)
		for i := 1; i < len(buckets); i++ {
			assert.Greater(t, buckets[i], buckets[i-1], name)
		}
	}
}

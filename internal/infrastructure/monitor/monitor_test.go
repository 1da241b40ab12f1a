package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := NewMonitor(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func TestMonitor_RecordRejectsUnknownMetric(t *testing.T) {
	m := newTestMonitor(t, Config{})

	err := m.Record(context.Background(), MetricType("disk"), 1, nil)
	assert.Error(t, err)
}

func TestMonitor_CurrentStats(t *testing.T) {
	m := newTestMonitor(t, Config{})
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, MetricOperationLatency, 0.2, nil))
	require.NoError(t, m.Record(ctx, MetricOperationLatency, 0.4, nil))
	require.NoError(t, m.Record(ctx, MetricQueueDepth, 12, nil))

	stats := m.CurrentStats()

	latency := stats.Metrics[MetricOperationLatency]
	assert.Equal(t, int64(2), latency.Count)
	assert.Equal(t, 0.4, latency.Latest)
	assert.InDelta(t, 0.3, latency.Mean, 1e-9)
	assert.Equal(t, 0.2, latency.Min)
	assert.Equal(t, 0.4, latency.Max)

	depth := stats.Metrics[MetricQueueDepth]
	assert.Equal(t, int64(1), depth.Count)
	assert.Empty(t, stats.ActiveAlerts)
}

func TestMonitor_WindowIsBounded(t *testing.T) {
	m := newTestMonitor(t, Config{HistorySize: 5})
	ctx := context.Background()

	// Five slow samples, then five fast ones: the window must forget the slow era
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Record(ctx, MetricOperationLatency, 100, nil))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Record(ctx, MetricOperationLatency, 0.1, nil))
	}

	stats := m.CurrentStats()
	latency := stats.Metrics[MetricOperationLatency]
	assert.Equal(t, int64(10), latency.Count, "lifetime count keeps everything")
	assert.InDelta(t, 0.1, latency.Mean, 1e-9, "window mean only sees recent samples")
	assert.Equal(t, float64(100), latency.Max, "lifetime max survives eviction")
}

func TestMonitor_AlertFiresOncePerCrossing(t *testing.T) {
	m := newTestMonitor(t, Config{
		Thresholds: map[MetricType]Thresholds{
			MetricErrorRate: {Warning: 0.1, Error: 0.3, Critical: 0.6},
		},
	})
	ctx := context.Background()

	var mu sync.Mutex
	var fired []Alert
	m.OnAlert(func(a Alert) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, a)
	})

	// First crossing of the warning tier fires
	require.NoError(t, m.Record(ctx, MetricErrorRate, 0.12, nil))
	// Staying past the same tier must not re-fire
	require.NoError(t, m.Record(ctx, MetricErrorRate, 0.15, nil))
	require.NoError(t, m.Record(ctx, MetricErrorRate, 0.2, nil))

	mu.Lock()
	require.Len(t, fired, 1)
	assert.Equal(t, AlertWarning, fired[0].Level)
	assert.Equal(t, 0.12, fired[0].ActualValue)
	mu.Unlock()

	// The active alert tracks the latest measurement
	stats := m.CurrentStats()
	require.Len(t, stats.ActiveAlerts, 1)
	assert.Equal(t, 0.2, stats.ActiveAlerts[0].ActualValue)
}

func TestMonitor_CrossingHigherTierFiresSeparately(t *testing.T) {
	m := newTestMonitor(t, Config{
		Thresholds: map[MetricType]Thresholds{
			MetricErrorRate: {Warning: 0.1, Error: 0.3, Critical: 0.6},
		},
	})
	ctx := context.Background()

	var fired []Alert
	m.OnAlert(func(a Alert) { fired = append(fired, a) })

	require.NoError(t, m.Record(ctx, MetricErrorRate, 0.12, nil))
	// One measurement can cross two new tiers at once
	require.NoError(t, m.Record(ctx, MetricErrorRate, 0.65, nil))

	require.Len(t, fired, 3)
	assert.Equal(t, AlertWarning, fired[0].Level)
	assert.Equal(t, AlertError, fired[1].Level)
	assert.Equal(t, AlertCritical, fired[2].Level)

	stats := m.CurrentStats()
	assert.Len(t, stats.ActiveAlerts, 3)
}

func TestMonitor_FallingBelowTierRearmsIt(t *testing.T) {
	m := newTestMonitor(t, Config{
		Thresholds: map[MetricType]Thresholds{
			MetricQueueDepth: {Warning: 100, Error: 500, Critical: 2000},
		},
	})
	ctx := context.Background()

	var fired []Alert
	m.OnAlert(func(a Alert) { fired = append(fired, a) })

	require.NoError(t, m.Record(ctx, MetricQueueDepth, 150, nil))
	require.NoError(t, m.Record(ctx, MetricQueueDepth, 20, nil))
	require.NoError(t, m.Record(ctx, MetricQueueDepth, 180, nil))

	// Two distinct crossings of the warning tier, two callbacks
	require.Len(t, fired, 2)
	assert.Equal(t, AlertWarning, fired[0].Level)
	assert.Equal(t, AlertWarning, fired[1].Level)

	// Only the latest crossing remains active
	stats := m.CurrentStats()
	require.Len(t, stats.ActiveAlerts, 1)
	assert.Equal(t, float64(180), stats.ActiveAlerts[0].ActualValue)
}

func TestMonitor_AlertCarriesTags(t *testing.T) {
	m := newTestMonitor(t, Config{})
	ctx := context.Background()

	var fired []Alert
	m.OnAlert(func(a Alert) { fired = append(fired, a) })

	require.NoError(t, m.Record(ctx, MetricRemoteLatency, 3, map[string]string{"batch_id": "b-1"}))

	require.NotEmpty(t, fired)
	assert.Equal(t, "b-1", fired[0].Tags["batch_id"])
}

func TestMonitor_CallbackPanicIsIsolated(t *testing.T) {
	m := newTestMonitor(t, Config{})
	ctx := context.Background()

	m.OnAlert(func(Alert) { panic("broken listener") })

	assert.NotPanics(t, func() {
		require.NoError(t, m.Record(ctx, MetricCPUUsage, 99, nil))
	})
}

func TestMonitor_PredictDuration(t *testing.T) {
	m := newTestMonitor(t, Config{HistorySize: 10})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Record(ctx, MetricOperationLatency, 0.5, nil))
	}

	estimate := m.PredictDuration(100)
	assert.Equal(t, 100, estimate.Remaining)
	assert.Equal(t, 500*time.Millisecond, estimate.PerItemMean)
	assert.Equal(t, time.Duration(0), estimate.PerItemStdDev)
	assert.Equal(t, 50*time.Second, estimate.Expected)
	assert.Equal(t, 1.0, estimate.DegradationFactor)
	assert.Equal(t, 1.0, estimate.Confidence, "full window of identical samples is fully trusted")
}

func TestMonitor_PredictDurationInflatesUnderDegradation(t *testing.T) {
	m := newTestMonitor(t, Config{HistorySize: 10})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Record(ctx, MetricOperationLatency, 1, nil))
	}

	baseline := m.PredictDuration(10)
	assert.Equal(t, 10*time.Second, baseline.Expected)

	// Elevated queue depth inflates the estimate
	require.NoError(t, m.Record(ctx, MetricQueueDepth, 600, nil))
	degraded := m.PredictDuration(10)
	assert.Equal(t, 1.5, degraded.DegradationFactor)
	assert.Equal(t, 15*time.Second, degraded.Expected)

	// Elevated error rate compounds on top
	require.NoError(t, m.Record(ctx, MetricErrorRate, 0.2, nil))
	degraded = m.PredictDuration(10)
	assert.Equal(t, 2.25, degraded.DegradationFactor)
	assert.Equal(t, 22*time.Second+500*time.Millisecond, degraded.Expected)

	// Recovery removes the inflation
	require.NoError(t, m.Record(ctx, MetricQueueDepth, 5, nil))
	require.NoError(t, m.Record(ctx, MetricErrorRate, 0.0, nil))
	recovered := m.PredictDuration(10)
	assert.Equal(t, 1.0, recovered.DegradationFactor)
}

func TestMonitor_PredictDurationConfidence(t *testing.T) {
	ctx := context.Background()

	t.Run("no samples yields zero confidence", func(t *testing.T) {
		m := newTestMonitor(t, Config{HistorySize: 10})
		estimate := m.PredictDuration(5)
		assert.Equal(t, time.Duration(0), estimate.Expected)
		assert.Equal(t, 0.0, estimate.Confidence)
	})

	t.Run("thin window lowers confidence", func(t *testing.T) {
		m := newTestMonitor(t, Config{HistorySize: 10})
		require.NoError(t, m.Record(ctx, MetricOperationLatency, 0.5, nil))
		estimate := m.PredictDuration(5)
		assert.InDelta(t, 0.1, estimate.Confidence, 1e-9)
	})

	t.Run("noisy samples lower confidence", func(t *testing.T) {
		steady := newTestMonitor(t, Config{HistorySize: 4})
		noisy := newTestMonitor(t, Config{HistorySize: 4})
		for _, v := range []float64{1, 1, 1, 1} {
			require.NoError(t, steady.Record(ctx, MetricOperationLatency, v, nil))
		}
		for _, v := range []float64{0.1, 2, 0.2, 1.7} {
			require.NoError(t, noisy.Record(ctx, MetricOperationLatency, v, nil))
		}
		assert.Greater(t, steady.PredictDuration(5).Confidence, noisy.PredictDuration(5).Confidence)
	})

	t.Run("nothing remaining is certain", func(t *testing.T) {
		m := newTestMonitor(t, Config{})
		estimate := m.PredictDuration(0)
		assert.Equal(t, time.Duration(0), estimate.Expected)
		assert.Equal(t, 1.0, estimate.Confidence)
	})
}

func TestDefaultThresholds_CoverEveryMetric(t *testing.T) {
	defaults := DefaultThresholds()
	for _, metricType := range []MetricType{
		MetricOperationLatency, MetricQueueDepth, MetricErrorRate,
		MetricMemoryUsage, MetricCPUUsage, MetricRemoteLatency,
	} {
		thresholds, ok := defaults[metricType]
		require.True(t, ok, "missing thresholds for %s", metricType)
		assert.Less(t, thresholds.Warning, thresholds.Error)
		assert.Less(t, thresholds.Error, thresholds.Critical)
	}
}

func TestMetricType_IsValid(t *testing.T) {
	assert.True(t, MetricOperationLatency.IsValid())
	assert.True(t, MetricRemoteLatency.IsValid())
	assert.False(t, MetricType("goroutines").IsValid())
}

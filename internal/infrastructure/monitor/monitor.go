// Package monitor observes the sync engine's throughput and health, raises
// tiered alerts on threshold crossings, and predicts remaining batch
// duration from recent operation latencies.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/catalogsync/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Metric types
// ---------------------------------------------------------------------------

// MetricType identifies one observed signal. The set is closed: Record
// rejects anything else.
type MetricType string

const (
	// MetricOperationLatency is the per-change processing duration in seconds
	MetricOperationLatency MetricType = "operation_latency"
	// MetricQueueDepth is the number of changes waiting for a worker
	MetricQueueDepth MetricType = "queue_depth"
	// MetricErrorRate is the failure fraction over the recent window, 0..1
	MetricErrorRate MetricType = "error_rate"
	// MetricMemoryUsage is process memory utilization in percent
	MetricMemoryUsage MetricType = "memory"
	// MetricCPUUsage is process CPU utilization in percent
	MetricCPUUsage MetricType = "cpu"
	// MetricRemoteLatency is the remote platform round-trip time in seconds
	MetricRemoteLatency MetricType = "remote_latency"
)

// IsValid checks if the metric type is one of the defined constants
func (m MetricType) IsValid() bool {
	switch m {
	case MetricOperationLatency, MetricQueueDepth, MetricErrorRate,
		MetricMemoryUsage, MetricCPUUsage, MetricRemoteLatency:
		return true
	}
	return false
}

func (m MetricType) String() string {
	return string(m)
}

// ---------------------------------------------------------------------------
// Alert levels and thresholds
// ---------------------------------------------------------------------------

// AlertLevel is the severity tier of a threshold crossing
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// alertLevels orders tiers from least to most severe
var alertLevels = []AlertLevel{AlertWarning, AlertError, AlertCritical}

func (l AlertLevel) String() string {
	return string(l)
}

// Thresholds holds the tier boundaries for one metric type. All monitored
// signals degrade upward, so a measurement at or above a boundary crosses
// that tier. A zero boundary disables the tier.
type Thresholds struct {
	Warning  float64
	Error    float64
	Critical float64
}

// at returns the boundary for a tier, false when the tier is disabled
func (t Thresholds) at(level AlertLevel) (float64, bool) {
	var v float64
	switch level {
	case AlertWarning:
		v = t.Warning
	case AlertError:
		v = t.Error
	case AlertCritical:
		v = t.Critical
	}
	return v, v > 0
}

// DefaultThresholds returns the built-in tier boundaries per metric type.
// Latencies are in seconds, utilization in percent, error rate a fraction.
func DefaultThresholds() map[MetricType]Thresholds {
	return map[MetricType]Thresholds{
		MetricOperationLatency: {Warning: 1, Error: 5, Critical: 15},
		MetricRemoteLatency:    {Warning: 0.5, Error: 2, Critical: 10},
		MetricQueueDepth:       {Warning: 100, Error: 500, Critical: 2000},
		MetricErrorRate:        {Warning: 0.05, Error: 0.15, Critical: 0.40},
		MetricMemoryUsage:      {Warning: 75, Error: 85, Critical: 95},
		MetricCPUUsage:         {Warning: 75, Error: 85, Critical: 95},
	}
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// Alert describes one active threshold crossing. At most one alert exists
// per metric-type+tier; repeated measurements past the same tier update
// ActualValue without re-firing the callback.
type Alert struct {
	MetricType  MetricType        `json:"metric_type"`
	Level       AlertLevel        `json:"level"`
	Threshold   float64           `json:"threshold"`
	ActualValue float64           `json:"actual_value"`
	Tags        map[string]string `json:"tags,omitempty"`
	RaisedAt    time.Time         `json:"raised_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// AlertCallback receives each newly raised alert exactly once
type AlertCallback func(Alert)

// alertKey identifies the one active alert slot per metric-type+tier
type alertKey struct {
	metric MetricType
	level  AlertLevel
}

// ---------------------------------------------------------------------------
// Snapshots and estimates
// ---------------------------------------------------------------------------

// MetricSummary aggregates one metric's recent window
type MetricSummary struct {
	Count  int64   `json:"count"`
	Latest float64 `json:"latest"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Snapshot is a point-in-time view of every observed metric and all
// currently active alerts
type Snapshot struct {
	Metrics      map[MetricType]MetricSummary `json:"metrics"`
	ActiveAlerts []Alert                      `json:"active_alerts"`
	TakenAt      time.Time                    `json:"taken_at"`
}

// Estimate is a remaining-duration prediction. Confidence is reported so
// callers can discount estimates built on thin or noisy samples.
type Estimate struct {
	Remaining         int           `json:"remaining"`
	Expected          time.Duration `json:"expected"`
	PerItemMean       time.Duration `json:"per_item_mean"`
	PerItemStdDev     time.Duration `json:"per_item_std_dev"`
	DegradationFactor float64       `json:"degradation_factor"`
	Confidence        float64       `json:"confidence"`
}

// ---------------------------------------------------------------------------
// Monitor
// ---------------------------------------------------------------------------

// defaultHistorySize bounds the rolling window when the config leaves it zero
const defaultHistorySize = 100

// degradationInflation multiplies the prediction once per elevated signal
// (queue depth, error rate) at or past its warning tier
const degradationInflation = 1.5

// Config tunes the monitor
type Config struct {
	// HistorySize bounds the per-metric rolling window. Default: 100.
	HistorySize int
	// Thresholds overrides tier boundaries per metric type. Metrics absent
	// from the map fall back to DefaultThresholds.
	Thresholds map[MetricType]Thresholds
}

// metricSeries is one metric's rolling window plus lifetime aggregates
type metricSeries struct {
	window []float64
	count  int64
	latest float64
	min    float64
	max    float64
}

// Monitor collects measurements, maintains keyed alerts, and serves
// predictions. Safe for concurrent use.
type Monitor struct {
	mu         sync.Mutex
	series     map[MetricType]*metricSeries
	alerts     map[alertKey]*Alert
	thresholds map[MetricType]Thresholds
	callback   AlertCallback

	historySize int
	logger      *zap.Logger

	// OTel mirroring, nil when no meter is configured
	latencyHist  *telemetry.Histogram
	remoteHist   *telemetry.Histogram
	signalGauge  *telemetry.FloatGauge
	alertCounter *telemetry.Counter

	// now is swappable for tests
	now func() time.Time
}

// NewMonitor creates a monitor. meter may be nil, in which case recordings
// are kept in-process only and nothing is exported.
func NewMonitor(cfg Config, meter metric.Meter, logger *zap.Logger) (*Monitor, error) {
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}

	thresholds := DefaultThresholds()
	for metricType, t := range cfg.Thresholds {
		thresholds[metricType] = t
	}

	m := &Monitor{
		series:      make(map[MetricType]*metricSeries),
		alerts:      make(map[alertKey]*Alert),
		thresholds:  thresholds,
		historySize: historySize,
		logger:      logger,
		now:         time.Now,
	}

	if meter != nil {
		if err := m.initInstruments(meter); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// initInstruments creates the OTel mirrors for recorded measurements
func (m *Monitor) initInstruments(meter metric.Meter) error {
	var err error
	m.latencyHist, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "sync_operation_duration_seconds",
		Description: "Per-change processing duration",
		Unit:        "s",
		Boundaries:  telemetry.DBDurationBuckets,
	})
	if err != nil {
		return fmt.Errorf("monitor: failed to create latency histogram: %w", err)
	}
	m.remoteHist, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "remote_call_duration_seconds",
		Description: "Remote platform round-trip duration",
		Unit:        "s",
		Boundaries:  telemetry.RemoteDurationBuckets,
	})
	if err != nil {
		return fmt.Errorf("monitor: failed to create remote histogram: %w", err)
	}
	m.signalGauge, err = telemetry.NewFloatGauge(meter, "sync_signal", "Latest value per monitored signal", "1")
	if err != nil {
		return fmt.Errorf("monitor: failed to create signal gauge: %w", err)
	}
	m.alertCounter, err = telemetry.NewCounter(meter, "sync_alerts_total", "Threshold-crossing alerts raised", "{alert}")
	if err != nil {
		return fmt.Errorf("monitor: failed to create alert counter: %w", err)
	}
	return nil
}

// OnAlert registers the callback invoked exactly once per newly raised
// alert. Later registrations replace earlier ones.
func (m *Monitor) OnAlert(cb AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// Record folds one measurement into the rolling window and re-evaluates
// every tier for the metric. Crossing a tier raises its keyed alert and
// fires the callback once; staying past it only updates actual_value;
// falling below it clears the alert so the next crossing fires again.
func (m *Monitor) Record(ctx context.Context, metricType MetricType, value float64, tags map[string]string) error {
	if !metricType.IsValid() {
		return fmt.Errorf("monitor: unknown metric type %q", metricType)
	}

	m.mu.Lock()
	s, ok := m.series[metricType]
	if !ok {
		s = &metricSeries{min: math.Inf(1), max: math.Inf(-1)}
		m.series[metricType] = s
	}
	s.window = append(s.window, value)
	if len(s.window) > m.historySize {
		s.window = s.window[len(s.window)-m.historySize:]
	}
	s.count++
	s.latest = value
	s.min = math.Min(s.min, value)
	s.max = math.Max(s.max, value)

	raised, cb := m.evaluateLocked(metricType, value, tags)
	m.mu.Unlock()

	m.mirror(ctx, metricType, value)

	for _, alert := range raised {
		m.logger.Warn("performance threshold crossed",
			zap.String("metric_type", alert.MetricType.String()),
			zap.String("alert_level", alert.Level.String()),
			zap.Float64("threshold", alert.Threshold),
			zap.Float64("actual_value", alert.ActualValue),
		)
		if m.alertCounter != nil {
			m.alertCounter.Inc(ctx,
				telemetry.AttrMetricType.String(alert.MetricType.String()),
				telemetry.AttrAlertLevel.String(alert.Level.String()),
			)
		}
		if cb != nil {
			m.fire(cb, alert)
		}
	}
	return nil
}

// evaluateLocked walks the metric's tiers and reconciles the keyed alert
// map against the new value. Caller holds m.mu. Returns newly raised
// alerts and the callback to fire for them.
func (m *Monitor) evaluateLocked(metricType MetricType, value float64, tags map[string]string) ([]Alert, AlertCallback) {
	thresholds, ok := m.thresholds[metricType]
	if !ok {
		return nil, nil
	}

	now := m.now()
	var raised []Alert
	for _, level := range alertLevels {
		boundary, enabled := thresholds.at(level)
		if !enabled {
			continue
		}
		key := alertKey{metric: metricType, level: level}
		switch {
		case value >= boundary:
			if existing, active := m.alerts[key]; active {
				existing.ActualValue = value
				existing.UpdatedAt = now
				continue
			}
			alert := &Alert{
				MetricType:  metricType,
				Level:       level,
				Threshold:   boundary,
				ActualValue: value,
				Tags:        copyTags(tags),
				RaisedAt:    now,
				UpdatedAt:   now,
			}
			m.alerts[key] = alert
			raised = append(raised, *alert)
		default:
			delete(m.alerts, key)
		}
	}
	return raised, m.callback
}

// fire invokes the callback, isolating panics so a broken listener cannot
// take down a worker
func (m *Monitor) fire(cb AlertCallback, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alert callback panicked",
				zap.String("metric_type", alert.MetricType.String()),
				zap.Any("panic", r),
			)
		}
	}()
	cb(alert)
}

// mirror exports the measurement through OTel when instruments exist
func (m *Monitor) mirror(ctx context.Context, metricType MetricType, value float64) {
	switch metricType {
	case MetricOperationLatency:
		if m.latencyHist != nil {
			m.latencyHist.Record(ctx, value)
		}
	case MetricRemoteLatency:
		if m.remoteHist != nil {
			m.remoteHist.Record(ctx, value)
		}
	default:
		if m.signalGauge != nil {
			m.signalGauge.Record(ctx, value, telemetry.AttrMetricType.String(metricType.String()))
		}
	}
}

// CurrentStats snapshots every observed metric and the active alert set
func (m *Monitor) CurrentStats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := Snapshot{
		Metrics: make(map[MetricType]MetricSummary, len(m.series)),
		TakenAt: m.now(),
	}
	for metricType, s := range m.series {
		snapshot.Metrics[metricType] = MetricSummary{
			Count:  s.count,
			Latest: s.latest,
			Mean:   mean(s.window),
			Min:    s.min,
			Max:    s.max,
		}
	}
	for _, alert := range m.alerts {
		snapshot.ActiveAlerts = append(snapshot.ActiveAlerts, *alert)
	}
	return snapshot
}

// PredictDuration estimates how long the remaining changes will take.
// The per-item figure is the mean of the recent operation-latency window;
// the spread of that window feeds the confidence score. When queue depth
// or error rate sits at or past its warning tier the estimate is inflated,
// since a backed-up or failing pipeline processes slower than its recent
// average suggests.
func (m *Monitor) PredictDuration(remaining int) Estimate {
	m.mu.Lock()
	defer m.mu.Unlock()

	estimate := Estimate{Remaining: remaining, DegradationFactor: 1}
	if remaining <= 0 {
		estimate.Confidence = 1
		return estimate
	}

	s, ok := m.series[MetricOperationLatency]
	if !ok || len(s.window) == 0 {
		return estimate
	}

	perItemMean := mean(s.window)
	perItemStdDev := stddev(s.window, perItemMean)

	if m.signalElevatedLocked(MetricQueueDepth) {
		estimate.DegradationFactor *= degradationInflation
	}
	if m.signalElevatedLocked(MetricErrorRate) {
		estimate.DegradationFactor *= degradationInflation
	}

	expectedSeconds := perItemMean * float64(remaining) * estimate.DegradationFactor

	estimate.PerItemMean = secondsToDuration(perItemMean)
	estimate.PerItemStdDev = secondsToDuration(perItemStdDev)
	estimate.Expected = secondsToDuration(expectedSeconds)
	estimate.Confidence = m.confidenceLocked(s, perItemMean, perItemStdDev)
	return estimate
}

// signalElevatedLocked reports whether a metric's latest value sits at or
// past its warning tier. Caller holds m.mu.
func (m *Monitor) signalElevatedLocked(metricType MetricType) bool {
	s, ok := m.series[metricType]
	if !ok || s.count == 0 {
		return false
	}
	boundary, enabled := m.thresholds[metricType].at(AlertWarning)
	return enabled && s.latest >= boundary
}

// confidenceLocked scores an estimate in [0,1]: full windows of stable
// latencies score high, thin or noisy samples score low
func (m *Monitor) confidenceLocked(s *metricSeries, sampleMean, sampleStdDev float64) float64 {
	fill := float64(len(s.window)) / float64(m.historySize)
	if fill > 1 {
		fill = 1
	}
	if sampleMean <= 0 {
		return fill
	}
	variation := sampleStdDev / sampleMean
	return fill / (1 + variation)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

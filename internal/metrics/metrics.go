// Package metrics provides application-wide observability primitives: the
// OpenTelemetry instruments recorded across all sessions, and a per-session
// VUIMetrics timer that logs the voice-interaction latency metrics the
// orchestrator cares about (time-to-first-audio, routing latency, silence
// duration, tool execution, filler playback), bumping to a warning log level
// when a configured threshold is crossed.
//
// Adapted from the teacher's internal/observe/metrics.go: same OpenTelemetry
// Metrics API, Prometheus exporter bridge, and package-level DefaultMetrics
// convenience accessor, with glyphoxa's NPC/provider instrument set replaced
// by this domain's call/routing/tool instrument set. The per-session timer
// on top has no teacher equivalent; it is grounded on original_source's
// framework/core/metrics.py VUIMetrics, expressed with slog in place of
// structlog and explicit time.Time/time.Duration in place of perf_counter
// deltas.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/corevox/corevox"

// Warning thresholds for VUI metrics, in milliseconds.
const (
	TTFAWarningMs    = 500.0
	SilenceWarningMs = 1000.0
	RoutingWarningMs = 200.0
)

// Metrics holds the OpenTelemetry instruments shared across all sessions.
// All fields are safe for concurrent use.
type Metrics struct {
	TTFADuration          metric.Float64Histogram
	RoutingDuration       metric.Float64Histogram
	SilenceDuration       metric.Float64Histogram
	ToolExecutionDuration metric.Float64Histogram
	CallDuration          metric.Float64Histogram

	FillersPlayed    metric.Int64Counter
	RoutingDecisions metric.Int64Counter
	ToolCalls        metric.Int64Counter
	Interventions    metric.Int64Counter

	ActiveCalls metric.Int64UpDownCounter

	// HTTPRequestDuration instruments the ambient HTTP boot façade
	// (webhook + health endpoints), not itself a core VUI metric.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5, 10, 30,
}

// New creates a fully initialised Metrics using the given MeterProvider.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.TTFADuration, err = m.Float64Histogram("corevox.ttfa.duration",
		metric.WithDescription("Time to first audio chunk after user speech ends."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.RoutingDuration, err = m.Float64Histogram("corevox.routing.duration",
		metric.WithDescription("Latency of a routing decision becoming active."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.SilenceDuration, err = m.Float64Histogram("corevox.silence.duration",
		metric.WithDescription("Duration of silence exceeding the warning threshold."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("corevox.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("corevox.call.duration",
		metric.WithDescription("Total duration of a call from accept to teardown."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if met.FillersPlayed, err = m.Int64Counter("corevox.filler.played",
		metric.WithDescription("Total filler phrases played, by filler type.")); err != nil {
		return nil, err
	}
	if met.RoutingDecisions, err = m.Int64Counter("corevox.routing.decisions",
		metric.WithDescription("Total routing decisions, by target agent.")); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("corevox.tool.calls",
		metric.WithDescription("Total tool invocations, by tool name and status.")); err != nil {
		return nil, err
	}
	if met.Interventions, err = m.Int64Counter("corevox.interventions",
		metric.WithDescription("Total priority interventions, by type.")); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("corevox.active_calls",
		metric.WithDescription("Number of currently active calls.")); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("corevox.http.request.duration",
		metric.WithDescription("Duration of HTTP requests served by the boot façade."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level Metrics instance, created on first call
// from the global OTel meter provider. Panics if instrument creation fails.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: failed to create default instruments: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordRoutingDecision(ctx context.Context, targetAgent string) {
	m.RoutingDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("target_agent", targetAgent)))
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool), attribute.String("status", status)))
}

func (m *Metrics) RecordIntervention(ctx context.Context, kind string) {
	m.Interventions.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) RecordFillerPlayed(ctx context.Context, fillerType string) {
	m.FillersPlayed.Add(ctx, 1, metric.WithAttributes(attribute.String("filler_type", fillerType)))
}

// VUISession is a per-call timer that logs the voice-interaction latency
// metrics at the moment they complete, bumping to a warning log level when
// the value crosses the metric's threshold, and also feeds the shared
// OpenTelemetry histograms/counters so the same events are both human
// visible in logs and scrapeable in aggregate.
type VUISession struct {
	sessionID string
	metrics   *Metrics
	log       *slog.Logger

	mu             sync.Mutex
	timers         map[string]time.Time
	lastAudioSent  time.Time
	silenceLogged  bool
}

// NewVUISession creates a timer bound to one call's session ID.
func NewVUISession(sessionID string, m *Metrics, log *slog.Logger) *VUISession {
	return &VUISession{
		sessionID: sessionID,
		metrics:   m,
		log:       log.With(slog.String("session_id", sessionID)),
		timers:    make(map[string]time.Time),
	}
}

func (v *VUISession) startTimer(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.timers[name] = time.Now()
}

func (v *VUISession) stopTimer(name string) (time.Duration, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	start, ok := v.timers[name]
	if !ok {
		return 0, false
	}
	delete(v.timers, name)
	return time.Since(start), true
}

// RecordUserSpeechEnd starts the TTFA timer.
func (v *VUISession) RecordUserSpeechEnd() {
	v.startTimer("ttfa")
}

// RecordFirstAudioSent stops the TTFA timer and logs/records it.
func (v *VUISession) RecordFirstAudioSent(ctx context.Context) {
	elapsed, ok := v.stopTimer("ttfa")
	v.mu.Lock()
	v.lastAudioSent = time.Now()
	v.silenceLogged = false
	v.mu.Unlock()
	if !ok {
		return
	}
	ms := float64(elapsed.Microseconds()) / 1000.0
	v.metrics.TTFADuration.Record(ctx, elapsed.Seconds())
	v.logMetric("ttfa", ms, TTFAWarningMs, nil)
}

// RecordRoutingStart starts the routing-latency timer.
func (v *VUISession) RecordRoutingStart() {
	v.startTimer("routing")
}

// RecordRoutingComplete stops the routing timer and logs/records it against
// the agent routed to.
func (v *VUISession) RecordRoutingComplete(ctx context.Context, targetAgent string) {
	elapsed, ok := v.stopTimer("routing")
	if !ok {
		return
	}
	ms := float64(elapsed.Microseconds()) / 1000.0
	v.metrics.RoutingDuration.Record(ctx, elapsed.Seconds())
	v.metrics.RecordRoutingDecision(ctx, targetAgent)
	v.logMetric("routing_latency", ms, RoutingWarningMs, map[string]any{"target_agent": targetAgent})
}

// RecordToolExecution logs and records a completed tool call's duration.
func (v *VUISession) RecordToolExecution(ctx context.Context, toolName string, d time.Duration) {
	v.metrics.ToolExecutionDuration.Record(ctx, d.Seconds())
	v.metrics.RecordToolCall(ctx, toolName, "ok")
	v.logMetric("tool_execution", float64(d.Microseconds())/1000.0, 0, map[string]any{"tool_name": toolName})
}

// RecordFillerPlayed logs and records a filler phrase's playback duration.
func (v *VUISession) RecordFillerPlayed(ctx context.Context, fillerType string, d time.Duration) {
	v.metrics.RecordFillerPlayed(ctx, fillerType)
	v.logMetric("filler_played", float64(d.Microseconds())/1000.0, 0, map[string]any{"filler_type": fillerType})
}

// CheckSilence logs a silence_duration metric the first time silence since
// the last audio send exceeds SilenceWarningMs; it does not re-log on every
// subsequent poll of an ongoing silence.
func (v *VUISession) CheckSilence(ctx context.Context) {
	v.mu.Lock()
	if v.lastAudioSent.IsZero() || v.silenceLogged {
		v.mu.Unlock()
		return
	}
	elapsed := time.Since(v.lastAudioSent)
	ms := float64(elapsed.Microseconds()) / 1000.0
	if ms <= SilenceWarningMs {
		v.mu.Unlock()
		return
	}
	v.silenceLogged = true
	v.mu.Unlock()

	v.metrics.SilenceDuration.Record(ctx, elapsed.Seconds())
	v.logMetric("silence_duration", ms, SilenceWarningMs, nil)
}

// ResetSilenceTracker marks the silence clock as restarting from now, called
// whenever audio is sent to the caller.
func (v *VUISession) ResetSilenceTracker() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastAudioSent = time.Now()
	v.silenceLogged = false
}

func (v *VUISession) logMetric(metricName string, valueMs, warningThreshold float64, extra map[string]any) {
	attrs := []any{
		slog.String("metric", metricName),
		slog.Float64("value_ms", roundTo2(valueMs)),
	}
	for k, val := range extra {
		attrs = append(attrs, slog.Any(k, val))
	}
	if warningThreshold > 0 && valueMs > warningThreshold {
		v.log.Warn("vui_metric_exceeded_threshold", attrs...)
		return
	}
	v.log.Info("vui_metric", attrs...)
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

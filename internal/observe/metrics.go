// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing helpers, and the SDK provider setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/k811069/Bunny-serve-sub001"

// Metrics holds all OpenTelemetry metric instruments for the runtime.
// All fields are safe for concurrent use.
type Metrics struct {
	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks language-model response latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech-synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks full turn latency, segment end to playback start.
	TurnDuration metric.Float64Histogram

	// ProviderSelections counts session-start recognizer selections. Use with
	// attribute.String("kind", "primary"|"fallback").
	ProviderSelections metric.Int64Counter

	// TurnErrors counts aborted turns. Use with
	// attribute.String("stage", ...).
	TurnErrors metric.Int64Counter

	// NoticeFallbacks counts notice clips produced per strategy. Use with
	// attribute.String("strategy", ...).
	NoticeFallbacks metric.Int64Counter

	// CacheLookups counts metadata cache lookups. Use with
	// attribute.String("domain", ...), attribute.String("outcome", "hit"|"miss"|"stale").
	CacheLookups metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveParticipants tracks connected participants across all sessions.
	ActiveParticipants metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("bunny.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("bunny.llm.duration",
		metric.WithDescription("Latency of language-model responses."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("bunny.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("bunny.turn.duration",
		metric.WithDescription("End-to-end turn latency from segment end to playback start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderSelections, err = m.Int64Counter("bunny.provider.selections",
		metric.WithDescription("Recognizer selections at session start, by kind."),
	); err != nil {
		return nil, err
	}
	if met.TurnErrors, err = m.Int64Counter("bunny.turn.errors",
		metric.WithDescription("Aborted conversational turns, by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.NoticeFallbacks, err = m.Int64Counter("bunny.notice.fallbacks",
		metric.WithDescription("Notice clips produced, by synthesis strategy."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("bunny.cache.lookups",
		metric.WithDescription("Metadata cache lookups, by domain and outcome."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("bunny.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("bunny.active_participants",
		metric.WithDescription("Number of connected participants across all sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSelection records one recognizer selection with its kind.
func (m *Metrics) RecordSelection(ctx context.Context, kind string) {
	m.ProviderSelections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTurnError records one aborted turn with its failing stage.
func (m *Metrics) RecordTurnError(ctx context.Context, stage string) {
	m.TurnErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordNoticeFallback records one notice clip with the strategy that
// produced it.
func (m *Metrics) RecordNoticeFallback(ctx context.Context, strategy string) {
	m.NoticeFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordCacheLookup records one metadata cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, domain, outcome string) {
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("outcome", outcome),
		))
}

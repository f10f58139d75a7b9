// Package observe provides observability primitives for voxscribe:
// OpenTelemetry metrics, tracing, log setup and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. [DefaultMetrics] returns a package-level
// instance; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all voxscribe metrics.
const meterName = "github.com/MrWong99/voxscribe"

// Metrics holds every metric instrument of the application. All fields are
// safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ASRDuration tracks recognition latency per final segment.
	ASRDuration metric.Float64Histogram

	// EmbeddingDuration tracks speaker embedding extraction latency.
	EmbeddingDuration metric.Float64Histogram

	// UtteranceAudio tracks the audio length of recognised utterances.
	UtteranceAudio metric.Float64Histogram

	// --- Counters ---

	// Segments counts segments flushed by the segmenter. Attribute:
	//   attribute.Bool("final", ...)
	Segments metric.Int64Counter

	// Utterances counts emitted utterances.
	Utterances metric.Int64Counter

	// FilteredUtterances counts recognised texts rejected as filler.
	FilteredUtterances metric.Int64Counter

	// Drops counts values dropped on a saturated channel. Attribute:
	//   attribute.String("channel", ...)
	Drops metric.Int64Counter

	// ProviderRequests counts backend calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend errors. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SpeakerLookups counts re-identification outcomes. Attribute:
	//   attribute.String("result", "match"|"new"|"inherit"|"unknown")
	SpeakerLookups metric.Int64Counter

	// GalleryRebuilds counts galleries discarded on dimensionality drift.
	GalleryRebuilds metric.Int64Counter

	// WorkerRestarts counts supervisor restarts. Attribute:
	//   attribute.String("worker", ...)
	WorkerRestarts metric.Int64Counter

	// SpoolFiles counts WAV artifacts written.
	SpoolFiles metric.Int64Counter

	// --- Gauges ---

	// GallerySize tracks the number of known speakers.
	GallerySize metric.Int64UpDownCounter

	// ActiveCaptures tracks running capture sessions.
	ActiveCaptures metric.Int64UpDownCounter

	// FeedClients tracks connected websocket subscribers. Attribute:
	//   attribute.String("feed", ...)
	FeedClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// audioBuckets are utterance length boundaries in seconds.
var audioBuckets = []float64{
	0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("voxscribe.asr.duration",
		metric.WithDescription("Latency of speech recognition per final segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("voxscribe.embedding.duration",
		metric.WithDescription("Latency of speaker embedding extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceAudio, err = m.Float64Histogram("voxscribe.utterance.audio",
		metric.WithDescription("Audio length of recognised utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("voxscribe.segments",
		metric.WithDescription("Segments flushed by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxscribe.utterances",
		metric.WithDescription("Utterances emitted by the transcription worker."),
	); err != nil {
		return nil, err
	}
	if met.FilteredUtterances, err = m.Int64Counter("voxscribe.utterances.filtered",
		metric.WithDescription("Recognised texts rejected as filler."),
	); err != nil {
		return nil, err
	}
	if met.Drops, err = m.Int64Counter("voxscribe.channel.drops",
		metric.WithDescription("Values dropped on a saturated channel."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxscribe.provider.requests",
		metric.WithDescription("Backend requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxscribe.provider.errors",
		metric.WithDescription("Backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SpeakerLookups, err = m.Int64Counter("voxscribe.speaker.lookups",
		metric.WithDescription("Speaker re-identification outcomes."),
	); err != nil {
		return nil, err
	}
	if met.GalleryRebuilds, err = m.Int64Counter("voxscribe.gallery.rebuilds",
		metric.WithDescription("Galleries discarded after an embedding dimensionality change."),
	); err != nil {
		return nil, err
	}
	if met.WorkerRestarts, err = m.Int64Counter("voxscribe.worker.restarts",
		metric.WithDescription("Workers restarted by the supervisor."),
	); err != nil {
		return nil, err
	}
	if met.SpoolFiles, err = m.Int64Counter("voxscribe.spool.files",
		metric.WithDescription("WAV artifacts written by the spool."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.GallerySize, err = m.Int64UpDownCounter("voxscribe.gallery.size",
		metric.WithDescription("Number of known speakers."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("voxscribe.active_captures",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.FeedClients, err = m.Int64UpDownCounter("voxscribe.feed.clients",
		metric.WithDescription("Connected live feed subscribers."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
// first call from [otel.GetMeterProvider].
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment counts one flushed segment.
func (m *Metrics) RecordSegment(ctx context.Context, final bool) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// RecordDrop counts one value dropped on channel.
func (m *Metrics) RecordDrop(ctx context.Context, channel string) {
	m.Drops.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// RecordProviderRequest counts one backend call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSpeakerLookup counts one re-identification outcome.
func (m *Metrics) RecordSpeakerLookup(ctx context.Context, result string) {
	m.SpeakerLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordWorkerRestart counts one supervisor restart of worker.
func (m *Metrics) RecordWorkerRestart(ctx context.Context, worker string) {
	m.WorkerRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("worker", worker)))
}

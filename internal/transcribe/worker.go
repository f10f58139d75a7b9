// Package transcribe implements the transcription worker.
//
// The worker consumes segments in arrival order and accumulates non-final
// segments until a final segment closes the utterance. The whole span is
// then recognised once, filtered for content, attributed to a speaker and
// emitted as a [pipeline.Utterance].
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/internal/worker"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/asr"
)

// Name is the worker name used for supervision.
const Name = "transcribe"

// SpeakerResolver attributes an audio span to a speaker id.
type SpeakerResolver interface {
	GetOrAdd(ctx context.Context, samples []int16) string
}

// Option configures a [Worker].
type Option func(*Worker)

// WithMetrics records transcription metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithProviderName labels backend metrics. Default: "asr".
func WithProviderName(name string) Option {
	return func(w *Worker) { w.provider = name }
}

// WithPartials also sends each non-final segment to the recognizer so
// streaming backends can build state in the utterance cache. Partial results
// are only logged.
func WithPartials(on bool) Option {
	return func(w *Worker) { w.partials = on }
}

// Worker is the transcription worker. Its accumulation state is private to
// one Run call; a restarted worker starts with an empty utterance.
type Worker struct {
	rec      asr.Recognizer
	speakers SpeakerResolver
	filter   *Filter
	metrics  *observe.Metrics
	provider string
	partials bool
}

// New creates a transcription worker.
func New(rec asr.Recognizer, speakers SpeakerResolver, filter *Filter, opts ...Option) *Worker {
	if filter == nil {
		filter = NewFilter(nil)
	}
	w := &Worker{rec: rec, speakers: speakers, filter: filter, provider: "asr"}
	for _, o := range opts {
		o(w)
	}
	return w
}

var _ worker.Entry = (*Worker)(nil).Run

// Run consumes b.Segments until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, b *worker.Bundle) error {
	u := &utterance{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg := <-b.Segments:
			w.handle(ctx, b, u, seg)
		}
	}
}

// utterance is the in-progress accumulation.
type utterance struct {
	acc   []int16
	cache asr.Cache
}

func (u *utterance) reset() {
	u.acc = nil
	u.cache.Reset()
}

func (w *Worker) handle(ctx context.Context, b *worker.Bundle, u *utterance, seg audio.Segment) {
	u.acc = append(u.acc, seg.Samples...)
	if !seg.Final {
		if w.partials && len(seg.Samples) > 0 {
			if text, err := w.recognize(ctx, seg.Samples, false, &u.cache); err == nil && text != "" {
				slog.Debug("partial transcript", "text", text)
			}
		}
		return
	}

	span := u.acc
	defer u.reset()
	if len(span) == 0 {
		return
	}

	ctx, done := observe.Stage(ctx, "transcribe.recognize", w.asrHistogram())
	text, err := w.recognize(ctx, span, true, &u.cache)
	done(err)
	if err != nil {
		slog.Warn("recognition failed, dropping utterance", "worker", Name, "samples", len(span), "err", err)
		if w.metrics != nil {
			w.metrics.RecordProviderRequest(ctx, w.provider, "asr", "error")
			w.metrics.RecordProviderError(ctx, w.provider, "asr")
		}
		return
	}
	if w.metrics != nil {
		w.metrics.RecordProviderRequest(ctx, w.provider, "asr", "ok")
	}

	if !w.filter.Meaningful(text) {
		slog.Debug("filtered non-meaningful text", "text", text)
		if w.metrics != nil {
			w.metrics.FilteredUtterances.Add(ctx, 1)
		}
		return
	}

	speaker := pipeline.UnknownSpeaker
	if w.speakers != nil {
		speaker = w.speakers.GetOrAdd(ctx, span)
	}
	utt := pipeline.Utterance{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: seg.EmittedAt,
		CaseID:    b.Case.ID(),
		Duration:  audio.SamplesDuration(len(span)),
	}
	if utt.Timestamp.IsZero() {
		utt.Timestamp = time.Now()
	}

	select {
	case b.Utterances <- utt:
		slog.Info("utterance", "speaker", utt.Speaker, "chars", len([]rune(utt.Text)), "duration", utt.Duration)
		if w.metrics != nil {
			w.metrics.Utterances.Add(ctx, 1)
			w.metrics.UtteranceAudio.Record(ctx, utt.Duration.Seconds())
		}
	default:
		slog.Warn("utterance queue full, dropping utterance", "id", utt.ID, "err", pipeline.ErrChannelSaturated)
		if w.metrics != nil {
			w.metrics.RecordDrop(ctx, "utterances")
		}
	}
}

// recognize calls the backend, converting panics and errors into
// [pipeline.ErrRecognition].
func (w *Worker) recognize(ctx context.Context, samples []int16, final bool, cache *asr.Cache) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcribe: recognizer panicked: %w: %v", pipeline.ErrRecognition, r)
		}
	}()
	text, err = w.rec.Recognize(ctx, samples, final, cache)
	if err != nil && !errors.Is(err, pipeline.ErrRecognition) {
		err = fmt.Errorf("transcribe: %w: %w", pipeline.ErrRecognition, err)
	}
	return text, err
}

func (w *Worker) asrHistogram() metric.Float64Histogram {
	if w.metrics == nil {
		return nil
	}
	return w.metrics.ASRDuration
}

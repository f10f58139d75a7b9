package segmenter

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/enhance"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
)

// Sink receives a copy of every flushed segment's audio. [spool.Spool]
// implements it.
type Sink interface {
	Append(samples []int16) bool
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithSink mirrors flushed audio to sink.
func WithSink(sink Sink) Option {
	return func(s *Segmenter) { s.sink = sink }
}

// WithMetrics records segments and drops to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// WithSourceRate resamples capture blocks from rate to 16kHz.
func WithSourceRate(rate int) Option {
	return func(s *Segmenter) { s.srcRate = rate }
}

// WithClock overrides time.Now for segment timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// Segmenter drives a [Machine] from capture blocks. It re-chunks blocks into
// 10ms frames, enhances and classifies each frame and sends every flush to
// the output channel without blocking. A Segmenter is owned by one goroutine.
type Segmenter struct {
	machine *Machine
	framer  *audio.Framer
	enh     enhance.Engine
	vad     vad.Session
	out     chan<- audio.Segment

	sink    Sink
	metrics *observe.Metrics
	srcRate int
	now     func() time.Time
	seq     uint64
	vadErrs int
}

// New creates a Segmenter writing to out.
func New(cfg MachineConfig, enh enhance.Engine, sess vad.Session, out chan<- audio.Segment, opts ...Option) *Segmenter {
	s := &Segmenter{
		machine: NewMachine(cfg),
		framer:  audio.NewFramer(audio.FrameSamples),
		enh:     enh,
		vad:     sess,
		out:     out,
		srcRate: audio.SampleRate,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run consumes blocks until ctx is cancelled or blocks is closed, then closes
// any open utterance with a final segment.
func (s *Segmenter) Run(ctx context.Context, blocks <-chan audio.Block) error {
	defer s.Finish(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-blocks:
			if !ok {
				return nil
			}
			s.Push(ctx, b)
		}
	}
}

// Push processes one capture block.
func (s *Segmenter) Push(ctx context.Context, b audio.Block) {
	samples := audio.ResampleMono(b.Samples, s.srcRate, audio.SampleRate)
	s.framer.Push(samples, func(f audio.Frame) {
		s.frame(ctx, f)
	})
}

func (s *Segmenter) frame(ctx context.Context, f audio.Frame) {
	enhanced := s.enh.Process(f.Samples, nil)
	dec, err := s.vad.ProcessFrame(enhanced)
	if err != nil {
		// A failing detector counts as silence so an open utterance still
		// closes.
		s.vadErrs++
		if s.vadErrs == 1 || s.vadErrs%1000 == 0 {
			slog.Warn("vad failed, treating frame as silence", "frame", f.Seq, "failures", s.vadErrs, "err", err)
		}
		dec.Speech = false
	}
	if flush, ok := s.machine.Step(enhanced, dec.Speech); ok {
		s.emit(ctx, flush)
	}
}

// Finish closes an open utterance and resets framing and detection state.
func (s *Segmenter) Finish(ctx context.Context) {
	if flush, ok := s.machine.Finish(); ok {
		s.emit(ctx, flush)
	}
	s.framer.Reset()
	s.vad.Reset()
}

// State returns the machine state.
func (s *Segmenter) State() State { return s.machine.State() }

func (s *Segmenter) emit(ctx context.Context, f Flush) {
	seg := audio.Segment{
		Samples:   f.Samples,
		Final:     f.Final,
		Seq:       s.seq,
		EmittedAt: s.now(),
	}
	s.seq++

	if s.metrics != nil {
		s.metrics.RecordSegment(ctx, seg.Final)
	}
	if s.sink != nil && len(seg.Samples) > 0 {
		s.sink.Append(seg.Samples)
	}

	select {
	case s.out <- seg:
		slog.Debug("segment flushed", "seq", seg.Seq, "final", seg.Final, "duration", seg.Duration())
	default:
		slog.Warn("segment queue full, dropping segment", "seq", seg.Seq, "final", seg.Final, "err", pipeline.ErrChannelSaturated)
		if s.metrics != nil {
			s.metrics.RecordDrop(ctx, "segments")
		}
	}
}

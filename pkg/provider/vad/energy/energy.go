// Package energy implements a pure-Go RMS voice activity detector.
//
// A frame is speech when its RMS energy exceeds both a fixed floor
// (Threshold, in PCM units) and the tracked background noise level times a
// ratio. The noise level follows silent frames with an exponential moving
// average so the detector adapts to steady room noise.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
)

const (
	// defaultThreshold is the RMS level (0 to 32767) below which a frame is
	// never speech. 300 corresponds to near-silence.
	defaultThreshold = 300.0

	defaultNoiseRatio = 3.0
	noiseAlpha        = 0.05
)

var _ vad.Engine = (*Engine)(nil)

// Option configures an [Engine].
type Option func(*Engine)

// WithNoiseRatio sets how far above the tracked noise level a frame must be
// to count as speech. Defaults to 3.
func WithNoiseRatio(r float64) Option {
	return func(e *Engine) {
		if r > 0 {
			e.noiseRatio = r
		}
	}
}

// Engine creates energy VAD sessions.
type Engine struct {
	noiseRatio float64
}

// New returns an energy VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{noiseRatio: defaultNoiseRatio}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	cfg = cfg.WithDefaults()
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("energy: threshold must be >= 0, got %v", cfg.Threshold)
	}
	thr := cfg.Threshold
	if thr == 0 {
		thr = defaultThreshold
	}
	return &session{
		frameSamples: cfg.FrameSamples,
		threshold:    thr,
		ratio:        e.noiseRatio,
		noise:        thr / e.noiseRatio,
	}, nil
}

type session struct {
	frameSamples int
	threshold    float64
	ratio        float64
	noise        float64
	closed       bool
}

func (s *session) ProcessFrame(frame []int16) (vad.Decision, error) {
	if s.closed {
		return vad.Decision{}, fmt.Errorf("energy: session closed")
	}
	if len(frame) != s.frameSamples {
		return vad.Decision{}, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameSamples)
	}

	rms := audio.RMS(frame)
	gate := math.Max(s.threshold, s.noise*s.ratio)
	speech := rms >= gate
	if !speech {
		s.noise = (1-noiseAlpha)*s.noise + noiseAlpha*rms
	}

	prob := rms / (2 * gate)
	if prob > 1 {
		prob = 1
	}
	return vad.Decision{Speech: speech, Probability: prob}, nil
}

func (s *session) Reset() {
	s.noise = s.threshold / s.ratio
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

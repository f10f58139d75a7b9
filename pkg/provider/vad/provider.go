// Package vad defines the frame-level voice activity detection contract used
// by the segmenter.
//
// A VAD engine wraps a speech detector (RMS energy, Silero, ...) and surfaces it
// as a stateful per-stream session. ProcessFrame is synchronous and returns a
// decision for exactly one 10ms frame so the segmenter can advance its state
// machine frame by frame.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session is owned by one goroutine.
package vad

import "errors"

// ErrFrameSize is returned by ProcessFrame when the frame length does not
// match the session's configured frame size.
var ErrFrameSize = errors.New("vad: unexpected frame size")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Default 16000.
	SampleRate int

	// FrameSamples is the number of samples per frame. Default 160 (10ms).
	FrameSamples int

	// Threshold is the engine-specific speech threshold. Zero selects the
	// engine default.
	Threshold float64
}

// WithDefaults returns a copy of c with zero fields filled in.
func (c Config) WithDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = c.SampleRate / 100
	}
	return c
}

// Decision is the classification of a single frame.
type Decision struct {
	Speech bool

	// Probability is the speech score in [0, 1].
	Probability float64
}

// Session classifies frames of one audio stream.
type Session interface {
	// ProcessFrame classifies a single frame. It must not block.
	ProcessFrame(frame []int16) (Decision, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent NewSession calls.
type Engine interface {
	NewSession(cfg Config) (Session, error)
}

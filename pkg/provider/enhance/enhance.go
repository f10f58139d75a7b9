// Package enhance defines the fixed-frame speech enhancement contract:
// echo cancellation, noise suppression and gain control applied to each 10ms
// capture frame before voice activity detection.
//
// Engines operate on exactly FrameSamples samples. Input of any other length
// is zero-padded or truncated first, so one frame in always yields one frame
// out. Processing options are fixed at construction.
package enhance

import "github.com/MrWong99/voxscribe/pkg/audio"

// Config selects the processing stages. It is fixed for the engine lifetime.
type Config struct {
	EchoCancel    bool
	NoiseSuppress bool
	GainControl   bool

	// FrameSamples is the fixed frame length. Default 160.
	FrameSamples int
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.FrameSamples <= 0 {
		c.FrameSamples = audio.FrameSamples
	}
	return c
}

// Engine enhances single frames. An Engine is owned by one goroutine.
type Engine interface {
	// Process returns the enhanced version of frame. ref is the optional
	// far-end (loudspeaker) frame used for echo cancellation; it may be nil.
	// The returned slice is owned by the caller.
	Process(frame, ref []int16) []int16

	// Close releases engine resources.
	Close() error
}

// Passthrough is an Engine that only normalises frame length.
type Passthrough struct {
	FrameSamples int
}

var _ Engine = (*Passthrough)(nil)

// Process returns an owned, length-normalised copy of frame.
func (p *Passthrough) Process(frame, _ []int16) []int16 {
	n := p.FrameSamples
	if n <= 0 {
		n = audio.FrameSamples
	}
	out := make([]int16, n)
	copy(out, frame)
	return out
}

// Close is a no-op.
func (p *Passthrough) Close() error { return nil }

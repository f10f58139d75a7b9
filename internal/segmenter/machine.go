// Package segmenter turns a stream of classified 10ms frames into speech
// segments with silence hysteresis.
//
// [Machine] is the pure state machine. [Segmenter] drives it from capture
// blocks through enhancement and VAD, and hands its output to the
// transcription worker and the WAV spool.
package segmenter

import (
	"fmt"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

// State is the segmenter's position in an utterance.
type State int

const (
	// Idle: no utterance in progress.
	Idle State = iota

	// Speech: the last frame was speech.
	Speech

	// Pause: a short silence run that has not yet flushed the buffer.
	Pause

	// Interim: the buffer was flushed as non-final; the utterance stays open
	// until the silence run reaches the high watermark or speech resumes.
	Interim
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speech:
		return "speech"
	case Pause:
		return "pause"
	case Interim:
		return "interim"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MachineConfig holds the hysteresis thresholds.
type MachineConfig struct {
	// LowWatermark is the silence run, in frames, that flushes buffered
	// speech as non-final. Default: 10.
	LowWatermark int

	// HighWatermark is the silence run, in frames, that closes the utterance
	// with a final segment. Default: 20.
	HighWatermark int

	// MaxSegmentSamples caps the buffer; reaching it flushes as non-final.
	// Default: one second of audio.
	MaxSegmentSamples int
}

// WithDefaults returns a copy of c with zero fields defaulted.
func (c MachineConfig) WithDefaults() MachineConfig {
	if c.LowWatermark <= 0 {
		c.LowWatermark = 10
	}
	if c.HighWatermark <= 0 {
		c.HighWatermark = 20
	}
	if c.MaxSegmentSamples <= 0 {
		c.MaxSegmentSamples = audio.SampleRate
	}
	return c
}

// Validate reports inconsistent thresholds.
func (c MachineConfig) Validate() error {
	if c.LowWatermark >= c.HighWatermark {
		return fmt.Errorf("segmenter: low watermark %d must be below high watermark %d", c.LowWatermark, c.HighWatermark)
	}
	return nil
}

// Flush is one segment produced by [Machine.Step].
type Flush struct {
	Samples []int16
	Final   bool
}

// Machine is the segmentation state machine. It is not safe for concurrent
// use.
//
// Only speech frames are buffered. A final flush carries whatever speech is
// still buffered and may be empty when earlier non-final flushes already
// delivered the audio; it is only produced while an utterance is open, so
// long silences yield a single final.
type Machine struct {
	cfg     MachineConfig
	state   State
	buf     []int16
	silence int
	open    bool
}

// NewMachine returns a Machine in the Idle state.
func NewMachine(cfg MachineConfig) *Machine {
	return &Machine{cfg: cfg.WithDefaults()}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// SilenceRun returns the current silence counter.
func (m *Machine) SilenceRun() int { return m.silence }

// Buffered returns the number of buffered samples.
func (m *Machine) Buffered() int { return len(m.buf) }

// Step consumes one classified frame. It returns a flush and true when the
// frame completed a segment.
func (m *Machine) Step(frame []int16, speech bool) (Flush, bool) {
	if speech {
		m.buf = append(m.buf, frame...)
		m.silence = 0
		m.open = true
		m.state = Speech
		if len(m.buf) >= m.cfg.MaxSegmentSamples {
			return m.flush(false), true
		}
		return Flush{}, false
	}

	m.silence++
	switch {
	case m.silence < m.cfg.LowWatermark:
		if m.state == Speech {
			m.state = Pause
		}
		return Flush{}, false

	case m.silence < m.cfg.HighWatermark:
		if len(m.buf) == 0 {
			return Flush{}, false
		}
		f := m.flush(false)
		m.state = Interim
		return f, true

	default:
		m.silence = 0
		if !m.open {
			return Flush{}, false
		}
		f := m.flush(true)
		m.open = false
		m.state = Idle
		return f, true
	}
}

// Finish closes an open utterance, returning its final flush. It is used
// when capture stops mid-utterance.
func (m *Machine) Finish() (Flush, bool) {
	defer m.Reset()
	if !m.open {
		return Flush{}, false
	}
	return m.flush(true), true
}

// Reset discards buffered audio and returns to Idle.
func (m *Machine) Reset() {
	m.buf = nil
	m.silence = 0
	m.open = false
	m.state = Idle
}

func (m *Machine) flush(final bool) Flush {
	f := Flush{Samples: m.buf, Final: final}
	m.buf = nil
	return f
}

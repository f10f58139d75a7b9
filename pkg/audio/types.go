// Package audio defines the PCM types that flow between the capture,
// segmentation and transcription stages, together with sample conversion,
// framing and WAV helpers.
//
// All pipeline audio is mono, 16-bit signed PCM at [SampleRate]. Buffers that
// cross a worker boundary are always owned copies; use [Clone] before handing
// a slice to a channel.
package audio

import "time"

const (
	// SampleRate is the pipeline sample rate in Hz.
	SampleRate = 16000

	// FrameSamples is the number of samples in one 10ms [Frame].
	FrameSamples = SampleRate / 100

	// FrameDuration is the wall-clock length of one [Frame].
	FrameDuration = 10 * time.Millisecond
)

// Block is a raw capture block as delivered by an input device. Its length is
// the device block size (typically 100ms) and is not required to be a
// multiple of [FrameSamples].
type Block struct {
	Samples    []int16
	CapturedAt time.Time
}

// Frame is a fixed-length 10ms mono PCM frame. Frames are produced by a
// [Framer] and consumed exactly once by enhancement and segmentation.
type Frame struct {
	Samples []int16

	// Seq is the zero-based frame index within the capture session.
	Seq uint64
}

// Segment is an ordered run of accepted frames handed from the segmenter to
// the transcription worker. Final marks an utterance boundary; a final
// segment may carry no samples when its audio was already flushed by earlier
// non-final segments.
type Segment struct {
	Samples []int16
	Final   bool

	// Seq numbers segments in emission order within a capture session.
	Seq uint64

	// EmittedAt is the time the segmenter flushed the segment.
	EmittedAt time.Time
}

// Duration returns the playback length of the segment's samples.
func (s Segment) Duration() time.Duration {
	return SamplesDuration(len(s.Samples))
}

// SamplesDuration converts a sample count at [SampleRate] into a duration.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// DurationSamples converts a duration into a sample count at [SampleRate].
func DurationSamples(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}

// Clone returns an owned copy of samples. A nil or empty input yields nil.
func Clone(samples []int16) []int16 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]int16, len(samples))
	copy(out, samples)
	return out
}

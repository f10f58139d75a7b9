//go:build onnx

// Package silero implements the Silero VAD v5 model through ONNX Runtime.
//
// Silero consumes 512-sample windows (32ms at 16kHz) while the segmenter
// classifies 10ms frames, so each session buffers frames and re-runs the model
// whenever a full window is available. Frames between inferences report the
// most recent probability.
package silero

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/voxscribe/internal/onnxrt"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
)

const (
	windowSize       = 512
	stateSize        = 128
	defaultThreshold = 0.5
	sampleRate       = 16000
)

var _ vad.Engine = (*Engine)(nil)

// Engine creates Silero sessions from a model file on disk.
type Engine struct {
	modelPath string
}

// New initialises ONNX Runtime and returns an engine for modelPath.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	if err := onnxrt.Init(); err != nil {
		return nil, fmt.Errorf("silero: %w", err)
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession implements [vad.Engine]. Each session owns its tensors and
// recurrent state.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	cfg = cfg.WithDefaults()
	if cfg.SampleRate != sampleRate {
		return nil, fmt.Errorf("silero: sample rate %d unsupported, want %d", cfg.SampleRate, sampleRate)
	}
	thr := cfg.Threshold
	if thr == 0 {
		thr = defaultThreshold
	}

	s := &session{frameSamples: cfg.FrameSamples, threshold: thr}
	var err error
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, windowSize)); err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	if s.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize)); err != nil {
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	if s.sr, err = ort.NewTensor(ort.NewShape(1), []int64{sampleRate}); err != nil {
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	if s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	if s.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize)); err != nil {
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}
	clear(s.state.GetData())
	clear(s.stateN.GetData())

	s.sess, err = ort.NewAdvancedSession(e.modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{s.input, s.state, s.sr},
		[]ort.Value{s.output, s.stateN},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return s, nil
}

type session struct {
	frameSamples int
	threshold    float64

	sess   *ort.AdvancedSession
	input  *ort.Tensor[float32]
	state  *ort.Tensor[float32]
	sr     *ort.Tensor[int64]
	output *ort.Tensor[float32]
	stateN *ort.Tensor[float32]

	buf  []float32
	prob float64
}

func (s *session) ProcessFrame(frame []int16) (vad.Decision, error) {
	if s.sess == nil {
		return vad.Decision{}, errors.New("silero: session closed")
	}
	if len(frame) != s.frameSamples {
		return vad.Decision{}, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameSamples)
	}

	s.buf = append(s.buf, audio.ToFloat32(frame)...)
	for len(s.buf) >= windowSize {
		copy(s.input.GetData(), s.buf[:windowSize])
		if err := s.sess.Run(); err != nil {
			return vad.Decision{}, fmt.Errorf("silero: inference: %w", err)
		}
		s.prob = float64(s.output.GetData()[0])
		copy(s.state.GetData(), s.stateN.GetData())
		s.buf = append(s.buf[:0], s.buf[windowSize:]...)
	}
	return vad.Decision{Speech: s.prob >= s.threshold, Probability: s.prob}, nil
}

func (s *session) Reset() {
	if s.state != nil {
		clear(s.state.GetData())
	}
	s.buf = s.buf[:0]
	s.prob = 0
}

func (s *session) Close() error {
	if s.sess != nil {
		s.sess.Destroy()
		s.sess = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.state != nil {
		s.state.Destroy()
		s.state = nil
	}
	if s.sr != nil {
		s.sr.Destroy()
		s.sr = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	if s.stateN != nil {
		s.stateN.Destroy()
		s.stateN = nil
	}
	return nil
}

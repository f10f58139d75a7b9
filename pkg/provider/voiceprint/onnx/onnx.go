//go:build onnx

// Package onnx runs a speaker embedding network (ECAPA-TDNN, CAM++ and
// similar WeSpeaker exports) through ONNX Runtime.
//
// The network consumes CMVN-normalised 80-band filterbank features shaped
// [1, T, 80] and returns a [1, D] embedding.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/voxscribe/internal/onnxrt"
	"github.com/MrWong99/voxscribe/pkg/audio/fbank"
	"github.com/MrWong99/voxscribe/pkg/provider/voiceprint"
)

const (
	defaultInput  = "feats"
	defaultOutput = "embs"
	minFrames     = 10
)

var _ voiceprint.Model = (*Model)(nil)

// Option configures a [Model].
type Option func(*Model)

// WithTensorNames overrides the model's input and output tensor names.
func WithTensorNames(input, output string) Option {
	return func(m *Model) {
		m.inputName = input
		m.outputName = output
	}
}

// Model is an ONNX speaker embedder. Runs are serialised; the session is
// shared.
type Model struct {
	inputName  string
	outputName string
	dims       int
	ext        *fbank.Extractor

	mu   sync.Mutex
	sess *ort.DynamicAdvancedSession
}

// New loads modelPath. dims is the embedding length the network produces.
func New(modelPath string, dims int, opts ...Option) (*Model, error) {
	if modelPath == "" {
		return nil, errors.New("voiceprint onnx: model path must not be empty")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("voiceprint onnx: dims must be positive, got %d", dims)
	}
	if err := onnxrt.Init(); err != nil {
		return nil, fmt.Errorf("voiceprint onnx: %w", err)
	}
	m := &Model{
		inputName:  defaultInput,
		outputName: defaultOutput,
		dims:       dims,
		ext:        fbank.New(fbank.DefaultConfig()),
	}
	for _, o := range opts {
		o(m)
	}
	sess, err := ort.NewDynamicAdvancedSession(modelPath, []string{m.inputName}, []string{m.outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("voiceprint onnx: create session: %w", err)
	}
	m.sess = sess
	return m, nil
}

// Dimensions implements [voiceprint.Model].
func (m *Model) Dimensions() int { return m.dims }

// Embed implements [voiceprint.Model].
func (m *Model) Embed(ctx context.Context, samples []int16) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feats := m.ext.Extract(samples)
	if len(feats) < minFrames {
		return nil, fmt.Errorf("%w: %d frames", voiceprint.ErrTooShort, len(feats))
	}
	fbank.CMVN(feats)

	in, err := ort.NewTensor(ort.NewShape(1, int64(len(feats)), int64(m.ext.NumMels())), fbank.Flatten(feats))
	if err != nil {
		return nil, fmt.Errorf("voiceprint onnx: create input tensor: %w", err)
	}
	defer in.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.dims)))
	if err != nil {
		return nil, fmt.Errorf("voiceprint onnx: create output tensor: %w", err)
	}
	defer out.Destroy()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, errors.New("voiceprint onnx: model closed")
	}
	if err := m.sess.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("voiceprint onnx: inference: %w", err)
	}
	emb := make([]float32, m.dims)
	copy(emb, out.GetData())
	return emb, nil
}

// Close releases the session.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil
	}
	err := m.sess.Destroy()
	m.sess = nil
	return err
}

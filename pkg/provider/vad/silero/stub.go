//go:build !onnx

// Package silero implements the Silero VAD v5 model through ONNX Runtime.
// This build carries no ONNX support; rebuild with -tags onnx.
package silero

import (
	"fmt"

	"github.com/MrWong99/voxscribe/internal/onnxrt"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
)

// Engine is unavailable in this build.
type Engine struct{}

// New always returns [onnxrt.ErrUnavailable].
func New(modelPath string) (*Engine, error) {
	return nil, fmt.Errorf("silero: %w", onnxrt.ErrUnavailable)
}

// NewSession always fails.
func (e *Engine) NewSession(vad.Config) (vad.Session, error) {
	return nil, fmt.Errorf("silero: %w", onnxrt.ErrUnavailable)
}

//go:build !onnx

// Package onnx runs a speaker embedding network through ONNX Runtime. This
// build carries no ONNX support; rebuild with -tags onnx.
package onnx

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxscribe/internal/onnxrt"
)

// Option configures a [Model].
type Option func(*Model)

// WithTensorNames is accepted for API parity and ignored.
func WithTensorNames(input, output string) Option { return func(*Model) {} }

// Model is unavailable in this build.
type Model struct{}

// New always returns [onnxrt.ErrUnavailable].
func New(modelPath string, dims int, opts ...Option) (*Model, error) {
	return nil, fmt.Errorf("voiceprint onnx: %w", onnxrt.ErrUnavailable)
}

// Dimensions returns 0.
func (m *Model) Dimensions() int { return 0 }

// Embed always fails.
func (m *Model) Embed(context.Context, []int16) ([]float32, error) {
	return nil, fmt.Errorf("voiceprint onnx: %w", onnxrt.ErrUnavailable)
}

// Close is a no-op.
func (m *Model) Close() error { return nil }

// Package mock provides a scripted voiceprint.Model for tests.
//
// Embeddings are chosen by EmbedFunc when set, otherwise popped from Vectors
// in order, then Vector is repeated.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxscribe/pkg/provider/voiceprint"
)

var _ voiceprint.Model = (*Model)(nil)

// Model is a mock implementation of voiceprint.Model.
type Model struct {
	mu sync.Mutex

	// Vectors are returned by successive Embed calls.
	Vectors [][]float32

	// Vector is returned once Vectors is exhausted.
	Vector []float32

	// EmbedFunc, if set, overrides Vectors and Vector.
	EmbedFunc func(samples []int16) ([]float32, error)

	// EmbedErr, if non-nil, is returned by every Embed call.
	EmbedErr error

	// Dims is returned by Dimensions. Zero means len(Vector).
	Dims int

	// Calls records the length of every embedded span.
	Calls []int

	pos int
}

// Embed records the call and returns the next scripted vector.
func (m *Model) Embed(_ context.Context, samples []int16) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, len(samples))
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	if m.EmbedFunc != nil {
		return m.EmbedFunc(samples)
	}
	if m.pos < len(m.Vectors) {
		v := m.Vectors[m.pos]
		m.pos++
		return append([]float32(nil), v...), nil
	}
	return append([]float32(nil), m.Vector...), nil
}

// Dimensions returns Dims, or len(Vector) when Dims is zero.
func (m *Model) Dimensions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Dims != 0 {
		return m.Dims
	}
	return len(m.Vector)
}

// CallCount returns the number of Embed calls.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Package voiceprint defines the speaker embedding contract: an audio span
// in, a fixed-dimension identity vector out.
//
// Vectors from one Model are comparable by cosine similarity. Different
// models (or model versions) produce incompatible vectors, usually of a
// different dimension.
package voiceprint

import (
	"context"
	"errors"
)

// ErrTooShort is returned when a span is too short to embed.
var ErrTooShort = errors.New("voiceprint: audio span too short")

// Model extracts speaker embeddings. Implementations must be safe for
// concurrent use.
type Model interface {
	// Embed returns the embedding of mono 16kHz samples.
	Embed(ctx context.Context, samples []int16) ([]float32, error)

	// Dimensions returns the embedding length.
	Dimensions() int
}

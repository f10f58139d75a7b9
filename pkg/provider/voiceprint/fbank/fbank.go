// Package fbank is a pure-Go speaker embedder based on filterbank statistics.
//
// The embedding concatenates the per-band mean and standard deviation of the
// log mel spectrum over the voiced frames of a span, centres the mean half to
// remove overall loudness, and L2-normalises the result. It captures the
// long-term spectral envelope of a voice; it is far weaker than a trained
// network but needs no model files.
package fbank

import (
	"context"
	"fmt"
	"math"

	"github.com/MrWong99/voxscribe/pkg/audio/fbank"
	"github.com/MrWong99/voxscribe/pkg/provider/voiceprint"
)

// minFrames is the fewest voiced feature frames an embedding is built from.
const minFrames = 10

var _ voiceprint.Model = (*Model)(nil)

// Model is the filterbank statistics embedder.
type Model struct {
	ext *fbank.Extractor
}

// New returns a Model over cfg (fbank.DefaultConfig when zero).
func New(cfg fbank.Config) *Model {
	if cfg.NumMels == 0 {
		cfg = fbank.DefaultConfig()
	}
	return &Model{ext: fbank.New(cfg)}
}

// Dimensions implements [voiceprint.Model].
func (m *Model) Dimensions() int { return 2 * m.ext.NumMels() }

// Embed implements [voiceprint.Model].
func (m *Model) Embed(ctx context.Context, samples []int16) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feats := voiced(m.ext.Extract(samples))
	if len(feats) < minFrames {
		return nil, fmt.Errorf("%w: %d voiced frames", voiceprint.ErrTooShort, len(feats))
	}

	mels := m.ext.NumMels()
	mean := make([]float64, mels)
	sq := make([]float64, mels)
	for _, row := range feats {
		for i, v := range row {
			mean[i] += float64(v)
			sq[i] += float64(v) * float64(v)
		}
	}
	n := float64(len(feats))
	var level float64
	for i := range mean {
		mean[i] /= n
		level += mean[i]
	}
	level /= float64(mels)

	vec := make([]float64, 2*mels)
	for i := range mels {
		vec[i] = mean[i] - level
		vec[mels+i] = math.Sqrt(max(sq[i]/n-mean[i]*mean[i], 0))
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, fmt.Errorf("%w: flat spectrum", voiceprint.ErrTooShort)
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// voiced keeps frames whose mean log band energy is within 3 of the loudest
// frame, dropping silence that would dilute the statistics.
func voiced(feats [][]float32) [][]float32 {
	if len(feats) == 0 {
		return nil
	}
	energy := make([]float64, len(feats))
	peak := math.Inf(-1)
	for t, row := range feats {
		var e float64
		for _, v := range row {
			e += float64(v)
		}
		energy[t] = e / float64(len(row))
		peak = max(peak, energy[t])
	}
	out := feats[:0:0]
	for t, row := range feats {
		if energy[t] >= peak-3 {
			out = append(out, row)
		}
	}
	return out
}

// Package fbank computes log mel filterbank features, the usual front end of
// speaker embedding models.
//
// Defaults follow the Kaldi convention for 16kHz speech: 25ms Hamming
// windows every 10ms, a 512-point FFT, 80 mel bins between 20Hz and 7600Hz,
// and 0.97 pre-emphasis.
package fbank

import "math"

// Config controls feature extraction.
type Config struct {
	SampleRate  int
	WindowSize  int
	HopSize     int
	FFTSize     int
	NumMels     int
	LowFreq     float64
	HighFreq    float64
	PreEmphasis float64
}

// DefaultConfig returns the 16kHz, 80-bin configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
	}
}

// Extractor turns PCM into a [T][NumMels] feature matrix. It holds only
// precomputed tables and is safe for concurrent use.
type Extractor struct {
	cfg    Config
	window []float64
	bank   []melFilter
}

// New precomputes the window and filterbank for cfg.
func New(cfg Config) *Extractor {
	window := make([]float64, cfg.WindowSize)
	for i := range window {
		window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(cfg.WindowSize-1))
	}
	return &Extractor{
		cfg:    cfg,
		window: window,
		bank:   newMelBank(cfg),
	}
}

// NumMels returns the feature width.
func (e *Extractor) NumMels() int { return e.cfg.NumMels }

// Frames returns how many feature rows n samples produce.
func (e *Extractor) Frames(n int) int {
	if n < e.cfg.WindowSize {
		return 0
	}
	return (n-e.cfg.WindowSize)/e.cfg.HopSize + 1
}

// Extract computes log mel energies for int16 samples. Spans shorter than one
// window yield nil.
func (e *Extractor) Extract(samples []int16) [][]float32 {
	cfg := e.cfg
	frames := e.Frames(len(samples))
	if frames == 0 {
		return nil
	}

	re := make([]float64, cfg.FFTSize)
	im := make([]float64, cfg.FFTSize)
	power := make([]float64, cfg.FFTSize/2+1)
	out := make([][]float32, frames)

	for t := range frames {
		start := t * cfg.HopSize
		clear(re)
		clear(im)
		for i := range cfg.WindowSize {
			s := float64(samples[start+i]) / 32768
			if i > 0 {
				s -= cfg.PreEmphasis * float64(samples[start+i-1]) / 32768
			}
			re[i] = s * e.window[i]
		}
		fft(re, im)
		for k := range power {
			power[k] = re[k]*re[k] + im[k]*im[k]
		}

		row := make([]float32, cfg.NumMels)
		for m, f := range e.bank {
			row[m] = float32(math.Log(max(f.apply(power), 1e-10)))
		}
		out[t] = row
	}
	return out
}

// CMVN normalises every feature column to zero mean and unit variance in
// place.
func CMVN(features [][]float32) {
	if len(features) == 0 {
		return
	}
	n := float64(len(features))
	for m := range features[0] {
		var sum, sq float64
		for _, row := range features {
			v := float64(row[m])
			sum += v
			sq += v * v
		}
		mean := sum / n
		std := math.Sqrt(max(sq/n-mean*mean, 0))
		if std < 1e-10 {
			std = 1e-10
		}
		for _, row := range features {
			row[m] = float32((float64(row[m]) - mean) / std)
		}
	}
}

// Flatten lays a feature matrix out row-major.
func Flatten(features [][]float32) []float32 {
	if len(features) == 0 {
		return nil
	}
	width := len(features[0])
	flat := make([]float32, 0, len(features)*width)
	for _, row := range features {
		flat = append(flat, row...)
	}
	return flat
}

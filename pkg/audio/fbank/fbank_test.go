package fbank

import (
	"math"
	"testing"
)

func TestFFT_Impulse(t *testing.T) {
	re := make([]float64, 8)
	im := make([]float64, 8)
	re[0] = 1
	fft(re, im)
	for k := range re {
		if math.Abs(re[k]-1) > 1e-9 || math.Abs(im[k]) > 1e-9 {
			t.Fatalf("bin %d = (%v, %v), want (1, 0)", k, re[k], im[k])
		}
	}
}

func TestFFT_SinePeak(t *testing.T) {
	const n = 64
	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		re[i] = math.Cos(2 * math.Pi * 5 * float64(i) / n)
	}
	fft(re, im)
	peak := 0
	for k := 1; k < n/2; k++ {
		if math.Hypot(re[k], im[k]) > math.Hypot(re[peak], im[peak]) {
			peak = k
		}
	}
	if peak != 5 {
		t.Errorf("peak bin = %d, want 5", peak)
	}
}

func TestExtract_Shape(t *testing.T) {
	e := New(DefaultConfig())
	if got := e.Extract(make([]int16, 399)); got != nil {
		t.Errorf("short span: got %d frames, want nil", len(got))
	}
	feats := e.Extract(make([]int16, 16000))
	if want := (16000-400)/160 + 1; len(feats) != want {
		t.Fatalf("frames = %d, want %d", len(feats), want)
	}
	if len(feats[0]) != 80 {
		t.Errorf("width = %d, want 80", len(feats[0]))
	}
}

func TestExtract_ToneLandsInMatchingBand(t *testing.T) {
	e := New(DefaultConfig())
	tone := func(hz float64) []int16 {
		s := make([]int16, 4000)
		for i := range s {
			s[i] = int16(8000 * math.Sin(2*math.Pi*hz*float64(i)/16000))
		}
		return s
	}
	argmax := func(row []float32) int {
		best := 0
		for i, v := range row {
			if v > row[best] {
				best = i
			}
		}
		return best
	}
	low := argmax(e.Extract(tone(300))[5])
	high := argmax(e.Extract(tone(3000))[5])
	if low >= high {
		t.Errorf("300Hz peaks at mel %d, 3000Hz at %d; want low < high", low, high)
	}
}

func TestCMVN_ZeroMeanUnitVariance(t *testing.T) {
	feats := [][]float32{{1, 10}, {3, 10}, {5, 10}}
	CMVN(feats)
	var sum float64
	for _, row := range feats {
		sum += float64(row[0])
	}
	if math.Abs(sum) > 1e-5 {
		t.Errorf("column mean = %v, want 0", sum/3)
	}
	if math.Abs(float64(feats[2][0])-math.Sqrt(1.5)) > 1e-5 {
		t.Errorf("normalised value = %v, want %v", feats[2][0], math.Sqrt(1.5))
	}
	if feats[0][1] != 0 {
		t.Errorf("constant column = %v, want 0", feats[0][1])
	}
}

func TestFlatten(t *testing.T) {
	flat := Flatten([][]float32{{1, 2}, {3, 4}})
	if len(flat) != 4 || flat[2] != 3 {
		t.Errorf("Flatten = %v", flat)
	}
	if Flatten(nil) != nil {
		t.Error("Flatten(nil) should be nil")
	}
}

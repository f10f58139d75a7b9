package fbank

import "math"

// melFilter is one triangular filter stored sparsely as a start bin and
// weights.
type melFilter struct {
	start   int
	weights []float64
}

func (f melFilter) apply(power []float64) float64 {
	var sum float64
	for i, w := range f.weights {
		sum += w * power[f.start+i]
	}
	return sum
}

func hzToMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }

func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// newMelBank builds NumMels triangular filters whose edges are evenly spaced
// on the mel scale. Every filter spans at least one bin.
func newMelBank(cfg Config) []melFilter {
	bins := cfg.FFTSize/2 + 1
	lo, hi := hzToMel(cfg.LowFreq), hzToMel(cfg.HighFreq)
	step := (hi - lo) / float64(cfg.NumMels+1)

	edges := make([]int, cfg.NumMels+2)
	for i := range edges {
		hz := melToHz(lo + float64(i)*step)
		edges[i] = min(int(math.Round(hz*float64(cfg.FFTSize)/float64(cfg.SampleRate))), bins-1)
		if i > 0 && edges[i] <= edges[i-1] {
			edges[i] = edges[i-1] + 1
		}
	}

	bank := make([]melFilter, cfg.NumMels)
	for m := range bank {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		right = min(right, bins-1)
		f := melFilter{start: left}
		for k := left; k <= right; k++ {
			var w float64
			switch {
			case k < center:
				w = float64(k-left) / float64(center-left)
			case right > center:
				w = float64(right-k) / float64(right-center)
			}
			f.weights = append(f.weights, w)
		}
		bank[m] = f
	}
	return bank
}

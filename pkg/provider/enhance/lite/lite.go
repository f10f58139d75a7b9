// Package lite is a pure-Go speech enhancement engine.
//
// Stages run in a fixed order per frame: a DC-blocking high-pass filter,
// an NLMS adaptive echo canceller (only when a reference frame is supplied),
// a noise gate against a tracked noise floor, and automatic gain control with
// a hard limiter.
package lite

import (
	"math"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/enhance"
)

const (
	// dcPole is the pole of the one-pole DC blocker (about 20Hz at 16kHz).
	dcPole = 0.995

	echoTaps = 128
	echoStep = 0.1

	// gateRatio is how far above the noise floor a frame must be to pass
	// the gate unattenuated.
	gateRatio   = 2.0
	gateAtten   = 0.1
	floorRise   = 0.002
	floorFall   = 0.2
	minFloorRMS = 10.0

	targetRMS  = 3000.0
	maxGain    = 8.0
	minGain    = 0.25
	gainAttack = 0.2
	gainDecay  = 0.02
	limit      = 30000.0
)

var _ enhance.Engine = (*Engine)(nil)

// Engine holds per-stream filter state.
type Engine struct {
	cfg enhance.Config

	// DC blocker state.
	prevIn, prevOut float64

	// Echo canceller: ring of recent reference samples and filter weights.
	ref     []float64
	weights []float64
	refPos  int

	noiseFloor float64
	gain       float64
}

// New returns an engine with cfg's stages enabled.
func New(cfg enhance.Config) *Engine {
	cfg = cfg.WithDefaults()
	return &Engine{
		cfg:        cfg,
		ref:        make([]float64, echoTaps),
		weights:    make([]float64, echoTaps),
		noiseFloor: minFloorRMS,
		gain:       1,
	}
}

// Process implements [enhance.Engine].
func (e *Engine) Process(frame, ref []int16) []int16 {
	n := e.cfg.FrameSamples
	in := audio.FitFrame(frame, n)
	if ref != nil {
		ref = audio.FitFrame(ref, n)
	}

	buf := make([]float64, n)
	for i, s := range in {
		x := float64(s)
		y := x - e.prevIn + dcPole*e.prevOut
		e.prevIn, e.prevOut = x, y
		buf[i] = y
	}

	if e.cfg.EchoCancel && ref != nil {
		e.cancelEcho(buf, ref)
	}
	if e.cfg.NoiseSuppress {
		e.gate(buf)
	}
	if e.cfg.GainControl {
		e.agc(buf)
	}

	out := make([]int16, n)
	for i, v := range buf {
		if v > limit {
			v = limit
		} else if v < -limit {
			v = -limit
		}
		out[i] = audio.Clamp16(v)
	}
	return out
}

// cancelEcho subtracts the NLMS estimate of the reference signal's echo.
func (e *Engine) cancelEcho(buf []float64, ref []int16) {
	for i := range buf {
		e.ref[e.refPos] = float64(ref[i])

		var est, energy float64
		for k := range echoTaps {
			x := e.ref[(e.refPos-k+echoTaps)%echoTaps]
			est += e.weights[k] * x
			energy += x * x
		}
		errSig := buf[i] - est
		if energy > 0 {
			mu := echoStep * errSig / (energy + 1)
			for k := range echoTaps {
				e.weights[k] += mu * e.ref[(e.refPos-k+echoTaps)%echoTaps]
			}
		}
		buf[i] = errSig
		e.refPos = (e.refPos + 1) % echoTaps
	}
}

// gate attenuates frames near the tracked noise floor. The floor falls fast
// toward quieter frames and rises slowly so speech does not drag it up.
func (e *Engine) gate(buf []float64) {
	r := rms(buf)
	if r < e.noiseFloor {
		e.noiseFloor += floorFall * (r - e.noiseFloor)
	} else {
		e.noiseFloor += floorRise * (r - e.noiseFloor)
	}
	if e.noiseFloor < minFloorRMS {
		e.noiseFloor = minFloorRMS
	}
	if r < e.noiseFloor*gateRatio {
		for i := range buf {
			buf[i] *= gateAtten
		}
	}
}

// agc steers the frame RMS toward targetRMS, attacking quickly when too loud
// and recovering slowly when too quiet.
func (e *Engine) agc(buf []float64) {
	r := rms(buf)
	if r > e.noiseFloor*gateRatio {
		want := math.Min(maxGain, math.Max(minGain, targetRMS/r))
		rate := gainDecay
		if want < e.gain {
			rate = gainAttack
		}
		e.gain += rate * (want - e.gain)
	}
	for i := range buf {
		buf[i] *= e.gain
	}
}

// Close is a no-op.
func (e *Engine) Close() error { return nil }

func rms(buf []float64) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, v := range buf {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(buf)))
}

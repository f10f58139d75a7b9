// Package wavfile replays a WAV file as a capture device. It is used for
// headless runs and for exercising the full pipeline without hardware.
package wavfile

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/capture"
)

var _ capture.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithRealtime paces block delivery to wall-clock time. Defaults to true.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// WithLoop restarts playback from the beginning at end of file.
func WithLoop(on bool) Option {
	return func(s *Source) { s.loop = on }
}

// Source opens replay devices over a single file.
type Source struct {
	path     string
	realtime bool
	loop     bool
}

// New returns a Source for the WAV file at path.
func New(path string, opts ...Option) (*Source, error) {
	if path == "" {
		return nil, errors.New("wavfile: path must not be empty")
	}
	s := &Source{path: path, realtime: true}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Open decodes the file and returns a device delivering it at cfg's rate.
func (s *Source) Open(cfg capture.Config) (capture.Device, error) {
	cfg = cfg.WithDefaults()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %s: %w", s.path, err)
	}
	defer f.Close()

	samples, info, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %s: %w", s.path, err)
	}
	return &Device{
		samples:  audio.ResampleMono(samples, info.SampleRate, cfg.SampleRate),
		cfg:      cfg,
		realtime: s.realtime,
		loop:     s.loop,
	}, nil
}

// Device plays back decoded samples.
type Device struct {
	samples  []int16
	cfg      capture.Config
	realtime bool
	loop     bool

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// Start implements [capture.Device].
func (d *Device) Start(onBlock func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return capture.ErrAlreadyStarted
	}
	d.started = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.play(onBlock)
	return nil
}

// Done is closed once playback ends, either at end of file or after Stop.
func (d *Device) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *Device) play(onBlock func(audio.Block)) {
	defer close(d.done)

	blockDur := time.Duration(d.cfg.BlockSize) * time.Second / time.Duration(d.cfg.SampleRate)
	var tick <-chan time.Time
	if d.realtime {
		t := time.NewTicker(blockDur)
		defer t.Stop()
		tick = t.C
	}

	pos := 0
	for {
		if pos >= len(d.samples) {
			if !d.loop || len(d.samples) == 0 {
				return
			}
			pos = 0
		}
		end := min(pos+d.cfg.BlockSize, len(d.samples))
		block := audio.FitFrame(d.samples[pos:end], d.cfg.BlockSize)
		pos = end

		if tick != nil {
			select {
			case <-d.stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-d.stop:
				return
			default:
			}
		}
		onBlock(audio.Block{Samples: block, CapturedAt: time.Now()})
	}
}

// Stop implements [capture.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done
	return nil
}

//go:build portaudio

// Package portaudio captures from the system default input device through
// PortAudio. Building it requires the portaudio C library (pkg-config
// portaudio-2.0) and the portaudio build tag.
package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/capture"
)

var _ capture.Source = (*Source)(nil)

// Source opens the default input device.
type Source struct{}

// New initialises PortAudio. Call [Source.Close] to terminate it.
func New() (*Source, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	if dev, err := pa.DefaultInputDevice(); err == nil {
		slog.Info("portaudio input device", "name", dev.Name, "default_rate", dev.DefaultSampleRate)
	}
	return &Source{}, nil
}

// Close terminates PortAudio.
func (s *Source) Close() error {
	return pa.Terminate()
}

// Open implements [capture.Source].
func (s *Source) Open(cfg capture.Config) (capture.Device, error) {
	return &Device{cfg: cfg.WithDefaults()}, nil
}

// Device is a mono int16 input stream on the default device.
type Device struct {
	cfg capture.Config

	mu     sync.Mutex
	stream *pa.Stream
}

// Start implements [capture.Device].
func (d *Device) Start(onBlock func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return capture.ErrAlreadyStarted
	}

	cb := func(in []int16) {
		onBlock(audio.Block{Samples: in, CapturedAt: time.Now()})
	}
	stream, err := pa.OpenDefaultStream(1, 0, float64(d.cfg.SampleRate), d.cfg.BlockSize, cb)
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	d.stream = stream
	return nil
}

// Stop implements [capture.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	stopErr := d.stream.Stop()
	closeErr := d.stream.Close()
	d.stream = nil
	if stopErr != nil {
		return fmt.Errorf("portaudio: stop stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("portaudio: close stream: %w", closeErr)
	}
	return nil
}

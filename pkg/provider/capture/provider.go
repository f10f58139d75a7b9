// Package capture defines the input device contract for the capture worker.
//
// A Source opens Devices; a Device streams fixed-size mono int16 blocks to a
// callback from its own goroutine until stopped. The callback runs on the
// device's real-time path and must never block.
package capture

import (
	"errors"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

// ErrAlreadyStarted is returned by Start on a running device.
var ErrAlreadyStarted = errors.New("capture: device already started")

// Config describes the stream requested from a device.
type Config struct {
	// SampleRate of delivered blocks in Hz. Default 16000.
	SampleRate int

	// BlockSize is the number of samples per delivered block. Default 1600.
	BlockSize int
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.SampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 1600
	}
	return c
}

// Device is an open input stream.
type Device interface {
	// Start begins delivering blocks to onBlock. Block samples are only valid
	// for the duration of the call; receivers copy what they keep.
	Start(onBlock func(audio.Block)) error

	// Stop halts delivery and releases the device. After Stop returns no
	// further callbacks occur. Stop is idempotent.
	Stop() error
}

// Source opens devices. Implementations must be safe for concurrent use.
type Source interface {
	Open(cfg Config) (Device, error)
}

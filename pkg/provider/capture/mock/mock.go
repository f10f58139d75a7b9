// Package mock provides test doubles for the capture package interfaces.
//
// Device delivers blocks only when the test calls Emit, so capture behaviour
// can be driven deterministically.
package mock

import (
	"sync"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/capture"
)

// Source is a mock implementation of capture.Source.
type Source struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// StartErr is copied into every opened Device.
	StartErr error

	// Devices records every opened device in order.
	Devices []*Device

	opened chan *Device
}

// Open records and returns a new Device.
func (s *Source) Open(cfg capture.Config) (capture.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	d := &Device{Cfg: cfg, StartErr: s.StartErr, started: make(chan struct{})}
	s.Devices = append(s.Devices, d)
	if s.opened != nil {
		select {
		case s.opened <- d:
		default:
		}
	}
	return d, nil
}

// Opened returns a channel receiving each device as it is opened. Call it
// before the code under test opens devices.
func (s *Source) Opened() <-chan *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened == nil {
		s.opened = make(chan *Device, 16)
	}
	return s.opened
}

// OpenCount returns the number of devices opened so far.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Devices)
}

var _ capture.Source = (*Source)(nil)

// Device is a mock implementation of capture.Device.
type Device struct {
	mu sync.Mutex

	Cfg      capture.Config
	StartErr error

	// StopCallCount counts Stop calls.
	StopCallCount int

	onBlock func(audio.Block)
	started chan struct{}
	once    sync.Once
}

// Start stores the callback, or returns StartErr.
func (d *Device) Start(onBlock func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	if d.onBlock != nil {
		return capture.ErrAlreadyStarted
	}
	d.onBlock = onBlock
	d.once.Do(func() { close(d.started) })
	return nil
}

// Started is closed once Start succeeds.
func (d *Device) Started() <-chan struct{} { return d.started }

// Emit delivers samples to the registered callback. It is a no-op before
// Start or after Stop.
func (d *Device) Emit(samples []int16) {
	d.mu.Lock()
	cb := d.onBlock
	d.mu.Unlock()
	if cb != nil {
		cb(audio.Block{Samples: samples})
	}
}

// Stop clears the callback and counts the call.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StopCallCount++
	d.onBlock = nil
	return nil
}

// Stops returns StopCallCount under the lock.
func (d *Device) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.StopCallCount
}

var _ capture.Device = (*Device)(nil)

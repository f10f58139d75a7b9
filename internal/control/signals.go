// Package control holds the state the external controller shares with the
// capture worker: the start/stop handshake and the active case identifier.
package control

import (
	"context"
	"sync"
)

// Signals is the start/stop handshake between a controller and the capture
// worker that owns it.
//
// Both flags start cleared. The controller sets them with [Signals.RequestStart]
// and [Signals.RequestStop]; the worker observes them and clears both with
// [Signals.Acknowledge] once a capture session has been torn down. Each flag is
// therefore written once by the controller and cleared once by the owner.
type Signals struct {
	mu      sync.Mutex
	start   bool
	stop    bool
	changed chan struct{}
}

// NewSignals returns a Signals with both flags cleared.
func NewSignals() *Signals {
	return &Signals{changed: make(chan struct{})}
}

// notifyLocked wakes every waiter. s.mu must be held.
func (s *Signals) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// RequestStart sets the start flag. It is a no-op while a start is pending.
func (s *Signals) RequestStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start {
		return
	}
	s.start = true
	s.notifyLocked()
}

// RequestStop sets the stop flag. Stop is only meaningful after a start; a
// stop with no pending start is ignored and reported as false.
func (s *Signals) RequestStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.start {
		return false
	}
	if !s.stop {
		s.stop = true
		s.notifyLocked()
	}
	return true
}

// Acknowledge clears both flags. Only the owning worker calls it.
func (s *Signals) Acknowledge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.start && !s.stop {
		return
	}
	s.start, s.stop = false, false
	s.notifyLocked()
}

// State returns the current flags.
func (s *Signals) State() (start, stop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start, s.stop
}

// StartRequested reports whether a start is pending.
func (s *Signals) StartRequested() bool {
	start, _ := s.State()
	return start
}

// StopRequested reports whether a stop is pending.
func (s *Signals) StopRequested() bool {
	_, stop := s.State()
	return stop
}

// AwaitStart blocks until a start is pending or ctx is done.
func (s *Signals) AwaitStart(ctx context.Context) error {
	return s.await(ctx, func() bool { return s.start })
}

// AwaitStop blocks until a stop is pending or ctx is done.
func (s *Signals) AwaitStop(ctx context.Context) error {
	return s.await(ctx, func() bool { return s.stop })
}

func (s *Signals) await(ctx context.Context, cond func() bool) error {
	for {
		s.mu.Lock()
		ok := cond()
		ch := s.changed
		s.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

package control

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignals_StartsCleared(t *testing.T) {
	t.Parallel()
	s := NewSignals()
	if start, stop := s.State(); start || stop {
		t.Fatalf("State() = %v, %v; want both false", start, stop)
	}
}

func TestSignals_Handshake(t *testing.T) {
	t.Parallel()
	s := NewSignals()

	if s.RequestStop() {
		t.Error("RequestStop before start should be ignored")
	}
	if s.StopRequested() {
		t.Fatal("stop flag set without a start")
	}

	s.RequestStart()
	if !s.StartRequested() {
		t.Fatal("start flag not set")
	}
	if !s.RequestStop() {
		t.Error("RequestStop after start should be accepted")
	}
	if start, stop := s.State(); !start || !stop {
		t.Fatalf("State() = %v, %v; want both true", start, stop)
	}

	s.Acknowledge()
	if start, stop := s.State(); start || stop {
		t.Fatalf("after Acknowledge State() = %v, %v; want both false", start, stop)
	}
}

func TestSignals_AwaitStartWakes(t *testing.T) {
	t.Parallel()
	s := NewSignals()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.AwaitStart(ctx) }()

	time.Sleep(10 * time.Millisecond)
	s.RequestStart()
	if err := <-done; err != nil {
		t.Fatalf("AwaitStart: %v", err)
	}
}

func TestSignals_AwaitStopWakes(t *testing.T) {
	t.Parallel()
	s := NewSignals()
	s.RequestStart()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.AwaitStop(ctx) }()

	time.Sleep(10 * time.Millisecond)
	s.RequestStop()
	if err := <-done; err != nil {
		t.Fatalf("AwaitStop: %v", err)
	}
}

func TestSignals_AwaitHonoursContext(t *testing.T) {
	t.Parallel()
	s := NewSignals()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.AwaitStart(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("AwaitStart = %v, want DeadlineExceeded", err)
	}
}

func TestSignals_AwaitReturnsImmediatelyWhenSet(t *testing.T) {
	t.Parallel()
	s := NewSignals()
	s.RequestStart()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.AwaitStart(ctx); err != nil {
		t.Fatalf("AwaitStart = %v, want nil for an already pending start", err)
	}
}

func TestCaseSource(t *testing.T) {
	t.Parallel()
	c := NewCaseSource("")
	if got := c.ID(); got != DefaultCaseID {
		t.Errorf("ID() = %q, want %q", got, DefaultCaseID)
	}
	c.Set("case-42")
	if got := c.ID(); got != "case-42" {
		t.Errorf("ID() = %q, want case-42", got)
	}
	c.Set("")
	if got := c.ID(); got != DefaultCaseID {
		t.Errorf("ID() after reset = %q, want %q", got, DefaultCaseID)
	}

	var zero CaseSource
	if got := zero.ID(); got != DefaultCaseID {
		t.Errorf("zero value ID() = %q, want %q", got, DefaultCaseID)
	}
}

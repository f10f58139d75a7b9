package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxscribe/internal/pipeline"
)

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestHandle_ReturnsError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	h := Start(context.Background(), "w", func(context.Context, *Bundle) error { return boom }, NewBundle(BundleConfig{}))
	waitDone(t, h)

	if h.Alive() {
		t.Error("Alive() = true after exit")
	}
	if !errors.Is(h.Err(), boom) {
		t.Errorf("Err() = %v, want boom", h.Err())
	}
}

func TestHandle_RecoversPanic(t *testing.T) {
	t.Parallel()
	h := Start(context.Background(), "crashy", func(context.Context, *Bundle) error { panic("kaboom") }, NewBundle(BundleConfig{}))
	waitDone(t, h)

	if !errors.Is(h.Err(), pipeline.ErrWorkerCrash) {
		t.Errorf("Err() = %v, want ErrWorkerCrash", h.Err())
	}
}

func TestHandle_TerminateCancels(t *testing.T) {
	t.Parallel()
	h := Start(context.Background(), "loop", func(ctx context.Context, _ *Bundle) error {
		<-ctx.Done()
		return ctx.Err()
	}, NewBundle(BundleConfig{}))

	if !h.Alive() {
		t.Fatal("worker not alive after Start")
	}
	if err := h.Terminate(time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if h.Alive() {
		t.Error("worker alive after Terminate")
	}
	if err := h.Terminate(time.Millisecond); err != nil {
		t.Errorf("second Terminate = %v, want nil", err)
	}
}

func TestHandle_TerminateTimesOut(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	h := Start(context.Background(), "stuck", func(context.Context, *Bundle) error {
		<-release
		return nil
	}, NewBundle(BundleConfig{}))

	if err := h.Terminate(20 * time.Millisecond); !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("Terminate = %v, want ErrJoinTimeout", err)
	}
}

func TestNewBundle_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBundle(BundleConfig{CaseID: "c7"})
	if cap(b.Preview) != 64 || cap(b.Segments) != 100 || cap(b.Utterances) != 100 {
		t.Errorf("caps = %d/%d/%d, want 64/100/100", cap(b.Preview), cap(b.Segments), cap(b.Utterances))
	}
	if b.Case.ID() != "c7" {
		t.Errorf("case = %q, want c7", b.Case.ID())
	}
	if start, stop := b.Signals.State(); start || stop {
		t.Error("signals not cleared")
	}
}

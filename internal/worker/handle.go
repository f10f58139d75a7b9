package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/internal/pipeline"
)

// ErrJoinTimeout is returned by [Handle.Terminate] when the worker did not
// return within the join timeout.
var ErrJoinTimeout = errors.New("worker: join timed out")

// Handle is a running worker goroutine. It is the unit the supervisor polls
// and restarts.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches entry in a new goroutine under a child context of parent.
// A panic inside entry is recovered, logged with its stack and reported by
// [Handle.Err] as [pipeline.ErrWorkerCrash].
func Start(parent context.Context, name string, entry Entry, b *Bundle) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()
		err := h.run(ctx, entry, b)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()

		switch {
		case err == nil, errors.Is(err, context.Canceled):
			slog.Info("worker exited", "worker", name)
		default:
			slog.Error("worker exited with error", "worker", name, "err", err)
		}
	}()
	slog.Info("worker started", "worker", name)
	return h
}

func (h *Handle) run(ctx context.Context, entry Entry, b *Bundle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panicked", "worker", h.name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s: %v", pipeline.ErrWorkerCrash, h.name, r)
		}
	}()
	return entry(ctx, b)
}

// Name returns the worker name.
func (h *Handle) Name() string { return h.name }

// Alive reports whether the worker goroutine is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed when the worker goroutine returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the worker's exit error. It is nil while the worker runs.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Terminate cancels the worker and waits up to timeout for it to return.
// Terminating an exited worker is a no-op.
func (h *Handle) Terminate(timeout time.Duration) error {
	h.cancel()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return nil
	case <-t.C:
		return fmt.Errorf("%w: %s after %s", ErrJoinTimeout, h.name, timeout)
	}
}

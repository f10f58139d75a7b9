// Package supervisor keeps the pipeline workers running.
//
// The [Supervisor] polls every watched worker on a fixed interval. A worker
// that is no longer alive is terminated with a bounded join and started again
// from its registered entry point with the original [worker.Bundle]. Errors
// and panics inside the supervisor itself are logged and retried after a
// backoff; the supervisor only returns when its context is cancelled.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/worker"
)

// Process is a running worker as seen by the supervisor.
type Process interface {
	Alive() bool
	Terminate(timeout time.Duration) error
}

// Spawner starts entry under ctx. The default is [worker.Start].
type Spawner func(ctx context.Context, name string, entry worker.Entry, b *worker.Bundle) Process

// Config holds supervisor timing.
type Config struct {
	// PollInterval is the liveness polling period. Default: 1s.
	PollInterval time.Duration

	// JoinTimeout bounds the wait for a dead worker to return. Default: 5s.
	JoinTimeout time.Duration

	// ErrorBackoff is the pause after a failed poll. Default: 10s.
	ErrorBackoff time.Duration
}

// WithDefaults returns a copy of c with zero fields defaulted.
func (c Config) WithDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Second
	}
	return c
}

// Option configures a [Supervisor].
type Option func(*Supervisor)

// WithSpawner replaces [worker.Start] as the way workers are launched.
func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) { s.spawn = sp }
}

// WithMetrics records restarts to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// Supervisor watches named workers. All exported methods are safe for
// concurrent use.
type Supervisor struct {
	cfg     Config
	bundle  *worker.Bundle
	spawn   Spawner
	metrics *observe.Metrics

	mu      sync.Mutex
	entries map[string]worker.Entry
	watched []string
	procs   map[string]Process
	warned  map[string]bool
}

// New creates a supervisor that starts every worker with b.
func New(cfg Config, b *worker.Bundle, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:     cfg.WithDefaults(),
		bundle:  b,
		entries: make(map[string]worker.Entry),
		procs:   make(map[string]Process),
		warned:  make(map[string]bool),
		spawn: func(ctx context.Context, name string, entry worker.Entry, b *worker.Bundle) Process {
			return worker.Start(ctx, name, entry, b)
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds a worker entry point and watches it.
func (s *Supervisor) Register(name string, entry worker.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = entry
	s.watchLocked(name)
}

// Watch adds names to the polled set. Names without a registered entry are
// logged and skipped on every poll.
func (s *Supervisor) Watch(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.watchLocked(n)
	}
}

func (s *Supervisor) watchLocked(name string) {
	for _, w := range s.watched {
		if w == name {
			return
		}
	}
	s.watched = append(s.watched, name)
}

// Status reports the liveness of every watched worker with an entry.
func (s *Supervisor) Status() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.entries))
	for name := range s.entries {
		p := s.procs[name]
		out[name] = p != nil && p.Alive()
	}
	return out
}

// Run starts every registered worker and supervises them until ctx is
// cancelled, then terminates them all.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("supervisor started", "poll_interval", s.cfg.PollInterval)
	defer s.shutdown()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.safePoll(ctx); err != nil {
			slog.Error("supervisor poll failed, backing off", "err", err, "backoff", s.cfg.ErrorBackoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.ErrorBackoff):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) safePoll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("supervisor panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("supervisor: panic: %v", r)
		}
	}()
	s.poll(ctx)
	return nil
}

// poll restarts every dead watched worker once and returns how many it
// restarted. Dead workers are joined without holding the lock so Status
// stays responsive.
func (s *Supervisor) poll(ctx context.Context) int {
	type deadWorker struct {
		name  string
		entry worker.Entry
		proc  Process
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return 0
	}
	var dead []deadWorker
	for _, name := range s.watched {
		entry, ok := s.entries[name]
		if !ok {
			if !s.warned[name] {
				slog.Warn("supervisor: unknown worker, skipping", "worker", name)
				s.warned[name] = true
			} else {
				slog.Debug("supervisor: unknown worker, skipping", "worker", name)
			}
			continue
		}
		proc := s.procs[name]
		if proc != nil && proc.Alive() {
			continue
		}
		dead = append(dead, deadWorker{name: name, entry: entry, proc: proc})
	}
	s.mu.Unlock()

	for _, d := range dead {
		if d.proc == nil {
			continue
		}
		slog.Warn("worker not alive, restarting", "worker", d.name)
		if err := d.proc.Terminate(s.cfg.JoinTimeout); err != nil {
			slog.Error("worker did not join", "worker", d.name, "err", err)
		}
		if s.metrics != nil {
			s.metrics.RecordWorkerRestart(ctx, d.name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restarted := 0
	for _, d := range dead {
		if ctx.Err() != nil {
			break
		}
		if s.procs[d.name] != d.proc {
			continue
		}
		s.procs[d.name] = s.spawn(ctx, d.name, d.entry, s.bundle)
		if d.proc != nil {
			restarted++
		}
	}
	return restarted
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, p := range s.procs {
		if err := p.Terminate(s.cfg.JoinTimeout); err != nil {
			slog.Error("worker did not join on shutdown", "worker", name, "err", err)
		}
	}
	slog.Info("supervisor stopped")
}

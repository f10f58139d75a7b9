// Package capture implements the capture-and-segmentation worker.
//
// The worker waits for a start request on the bundle's control signals, opens
// the configured input device and streams its blocks through enhancement,
// voice activity detection and segmentation onto the bundle's segment
// channel. A stop request tears the session down, acknowledges both signals
// and returns the worker to waiting.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/internal/segmenter"
	"github.com/MrWong99/voxscribe/internal/spool"
	"github.com/MrWong99/voxscribe/internal/worker"
	"github.com/MrWong99/voxscribe/pkg/provider/capture"
	"github.com/MrWong99/voxscribe/pkg/provider/enhance"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
)

// Name is the worker name used for supervision.
const Name = "capture"

// Config configures the capture worker.
type Config struct {
	Device    capture.Config
	VAD       vad.Config
	Segmenter segmenter.MachineConfig

	// WorkQueue is the capacity of the block queue between the device
	// callback and the segmenter. Default: 200.
	WorkQueue int

	// Spool configures the WAV spool. An empty Spool.Dir disables it.
	Spool spool.Config
}

// EnhancerFactory builds a fresh enhancement engine per capture session.
type EnhancerFactory func() (enhance.Engine, error)

// Option configures a [Worker].
type Option func(*Worker)

// WithMetrics records capture metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// Worker runs capture sessions on demand.
type Worker struct {
	cfg         Config
	source      capture.Source
	newEnhancer EnhancerFactory
	vad         vad.Engine
	metrics     *observe.Metrics
}

// New creates a capture worker.
func New(cfg Config, src capture.Source, newEnhancer EnhancerFactory, vadEngine vad.Engine, opts ...Option) *Worker {
	if cfg.WorkQueue <= 0 {
		cfg.WorkQueue = 200
	}
	cfg.Device = cfg.Device.WithDefaults()
	w := &Worker{cfg: cfg, source: src, newEnhancer: newEnhancer, vad: vadEngine}
	for _, o := range opts {
		o(w)
	}
	return w
}

var _ worker.Entry = (*Worker)(nil).Run

// Run is the worker entry point. It serves start requests until ctx is
// cancelled. A device failure clears the pending request and is returned
// wrapped in [pipeline.ErrDevice] so the supervisor restarts the worker.
func (w *Worker) Run(ctx context.Context, b *worker.Bundle) error {
	for {
		if err := b.Signals.AwaitStart(ctx); err != nil {
			return err
		}
		err := w.session(ctx, b)
		b.Signals.Acknowledge()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *Worker) session(ctx context.Context, b *worker.Bundle) (err error) {
	caseID := b.Case.ID()
	log := slog.With("worker", Name, "case", caseID)

	dev, err := w.source.Open(w.cfg.Device)
	if err != nil {
		return fmt.Errorf("capture: open device: %w: %w", pipeline.ErrDevice, err)
	}
	enh, err := w.newEnhancer()
	if err != nil {
		_ = dev.Stop()
		return fmt.Errorf("capture: create enhancer: %w", err)
	}
	defer enh.Close()
	sess, err := w.vad.NewSession(w.cfg.VAD)
	if err != nil {
		_ = dev.Stop()
		return fmt.Errorf("capture: create vad session: %w", err)
	}
	defer sess.Close()

	segOpts := []segmenter.Option{
		segmenter.WithSourceRate(w.cfg.Device.SampleRate),
		segmenter.WithMetrics(w.metrics),
	}
	spoolCtx, stopSpool := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSpool()

	// The group context is cancelled when a session goroutine fails, which
	// ends the session early.
	g, gctx := errgroup.WithContext(ctx)
	if w.cfg.Spool.Dir != "" {
		sp := spool.New(w.cfg.Spool, b.Case, spool.WithMetrics(w.metrics))
		segOpts = append(segOpts, segmenter.WithSink(sp))
		g.Go(func() (err error) {
			defer recoverCrash("spool", &err)
			return sp.Run(spoolCtx)
		})
	}
	seg := segmenter.New(w.cfg.Segmenter, enh, sess, b.Segments, segOpts...)

	h := newHandoff(w.cfg.WorkQueue, b.Preview, w.metrics)
	segDone := make(chan struct{})
	g.Go(func() (err error) {
		defer close(segDone)
		defer recoverCrash("segmenter", &err)
		// The segmenter drains the work queue after the device stops, so it
		// must not observe ctx cancellation directly.
		return seg.Run(context.WithoutCancel(ctx), h.work)
	})

	// The spool is stopped only after the segmenter has flushed into it.
	teardown := func() error {
		stopErr := dev.Stop()
		h.close()
		<-segDone
		stopSpool()
		runErr := g.Wait()
		if stopErr != nil {
			stopErr = fmt.Errorf("capture: stop device: %w: %w", pipeline.ErrDevice, stopErr)
		}
		return errors.Join(runErr, stopErr)
	}

	if err := dev.Start(h.deliver); err != nil {
		return errors.Join(
			fmt.Errorf("capture: start device: %w: %w", pipeline.ErrDevice, err),
			teardown(),
		)
	}
	log.Info("capture started", "sample_rate", w.cfg.Device.SampleRate, "block_size", w.cfg.Device.BlockSize)
	if w.metrics != nil {
		w.metrics.ActiveCaptures.Add(ctx, 1)
		defer w.metrics.ActiveCaptures.Add(context.WithoutCancel(ctx), -1)
	}

	switch err := b.Signals.AwaitStop(gctx); {
	case err == nil:
		log.Info("capture stop requested")
	case ctx.Err() != nil:
		log.Info("capture interrupted by shutdown")
	default:
		log.Error("capture session failed, tearing down")
	}
	if err := teardown(); err != nil {
		return err
	}
	log.Info("capture stopped")
	return nil
}

// recoverCrash converts a panic in a session goroutine into an error
// wrapping [pipeline.ErrWorkerCrash].
func recoverCrash(stage string, err *error) {
	if r := recover(); r != nil {
		slog.Error("capture stage panicked", "worker", Name, "stage", stage, "panic", r, "stack", string(debug.Stack()))
		*err = fmt.Errorf("capture: %s: %w: %v", stage, pipeline.ErrWorkerCrash, r)
	}
}

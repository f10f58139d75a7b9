// Package app wires the voxscribe subsystems into a running application.
//
// New builds the worker bundle, the speaker manager, both pipeline workers,
// the supervisor, the feed hub and the history pump from a loaded config and
// a set of already constructed providers. Run executes everything under one
// errgroup until its context is cancelled, and Shutdown releases stores and
// sinks in order.
//
// For testing, inject doubles through [Providers] and the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/capture"
	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/feed"
	"github.com/MrWong99/voxscribe/internal/health"
	"github.com/MrWong99/voxscribe/internal/history"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/segmenter"
	"github.com/MrWong99/voxscribe/internal/speaker"
	"github.com/MrWong99/voxscribe/internal/spool"
	"github.com/MrWong99/voxscribe/internal/supervisor"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/internal/worker"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/asr"
	captureprov "github.com/MrWong99/voxscribe/pkg/provider/capture"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
	"github.com/MrWong99/voxscribe/pkg/provider/voiceprint"
)

// Providers holds one value per backend slot. Populated by main via the
// config registry.
type Providers struct {
	Capture captureprov.Source

	// NewEnhancer builds a fresh enhancement engine per capture session.
	NewEnhancer capture.EnhancerFactory

	VAD vad.Engine

	// ASR is the recognizer, usually wrapped in a resilience.Recognizer.
	ASR asr.Recognizer

	// ASRName labels recognition metrics.
	ASRName string

	Voiceprint voiceprint.Model

	// Gallery is owned by the App once passed to New: it is closed by
	// Shutdown, or by New itself when New fails.
	Gallery speaker.Store
}

func (p *Providers) validate() error {
	var errs []error
	if p.Capture == nil {
		errs = append(errs, errors.New("capture source is nil"))
	}
	if p.NewEnhancer == nil {
		errs = append(errs, errors.New("enhancer factory is nil"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("vad engine is nil"))
	}
	if p.ASR == nil {
		errs = append(errs, errors.New("asr recognizer is nil"))
	}
	if p.Voiceprint == nil {
		errs = append(errs, errors.New("voiceprint model is nil"))
	}
	if p.Gallery == nil {
		errs = append(errs, errors.New("gallery store is nil"))
	}
	return errors.Join(errs...)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	configPath     string
	sinks          []history.Sink
	sinksInjected  bool

	sessionID  string
	bundle     *worker.Bundle
	speakers   *speaker.Manager
	filter     *transcribe.Filter
	supervisor *supervisor.Supervisor
	hub        *feed.Hub
	pump       *history.Pump
	health     *health.Handler
	watcher    *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records every subsystem's metrics to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the log level through lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath watches path and applies live-reloadable changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithSinks replaces the history sinks built from config.history.
func WithSinks(sinks ...history.Sink) Option {
	return func(a *App) {
		a.sinks = sinks
		a.sinksInjected = true
	}
}

// New creates an App from cfg and providers. The speaker gallery is loaded
// synchronously; a load failure is logged and the gallery starts empty.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		if providers.Gallery != nil {
			_ = providers.Gallery.Close()
		}
		return nil, fmt.Errorf("app: providers: %w", err)
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		sessionID: uuid.NewString(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.bundle = worker.NewBundle(worker.BundleConfig{
		PreviewQueue:   cfg.Capture.PreviewQueue,
		SegmentQueue:   cfg.Segmenter.SegmentQueue,
		UtteranceQueue: cfg.Transcribe.UtteranceQueue,
		CaseID:         cfg.Case.DefaultID,
	})

	if err := a.initSpeakers(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init speakers: %w", err)
	}
	a.initWorkers()
	if err := a.initHistory(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	a.health = health.New(
		health.Workers(a.supervisor.Status),
		health.GalleryLoaded(a.speakers.Loaded),
	)
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("app: config watcher: %w", err)
		}
		a.watcher = w
	}

	slog.Info("application initialised",
		"session_id", a.sessionID,
		"case", a.bundle.Case.ID(),
		"speakers", a.speakers.Len(),
		"history_sinks", len(a.sinks),
	)
	return a, nil
}

func (a *App) initSpeakers(ctx context.Context) error {
	sc := a.cfg.Speaker
	a.speakers = speaker.NewManager(speaker.Config{
		Threshold:    sc.Threshold,
		MinDuration:  time.Duration(sc.MinDurationMS) * time.Millisecond,
		MaxSpeakers:  sc.MaxSpeakers,
		Drift:        speaker.DriftPolicy(sc.DriftPolicy),
		SaveInterval: sc.SaveInterval,
	}, a.providers.Voiceprint, a.providers.Gallery, speaker.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.providers.Gallery.Close)

	if err := a.speakers.Load(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		slog.Warn("speaker gallery unavailable, starting empty", "err", err)
	}
	return nil
}

func (a *App) initWorkers() {
	cfg := a.cfg

	spoolCfg := spool.Config{
		Threshold: cfg.Spool.ThresholdSamples,
		Queue:     cfg.Spool.Queue,
	}
	if config.Enabled(cfg.Spool.Enabled) && cfg.Storage.Dir != "" {
		spoolCfg.Dir = cfg.Storage.Dir
	}

	cw := capture.New(capture.Config{
		Device: captureprov.Config{
			SampleRate: cfg.Capture.SampleRate,
			BlockSize:  cfg.Capture.BlockSize,
		},
		VAD: vad.Config{Threshold: cfg.VAD.Threshold},
		Segmenter: segmenter.MachineConfig{
			LowWatermark:      cfg.Segmenter.LowWatermark,
			HighWatermark:     cfg.Segmenter.HighWatermark,
			MaxSegmentSamples: audio.DurationSamples(time.Duration(cfg.Segmenter.MaxSegmentMS) * time.Millisecond),
		},
		WorkQueue: cfg.Capture.WorkQueue,
		Spool:     spoolCfg,
	}, a.providers.Capture, a.providers.NewEnhancer, a.providers.VAD, capture.WithMetrics(a.metrics))

	a.filter = transcribe.NewFilter(cfg.Transcribe.FillerTokens)
	tw := transcribe.New(a.providers.ASR, a.speakers, a.filter,
		transcribe.WithMetrics(a.metrics),
		transcribe.WithProviderName(a.providers.ASRName),
		transcribe.WithPartials(cfg.ASR.Partials),
	)

	a.supervisor = supervisor.New(supervisor.Config{
		PollInterval: cfg.Supervisor.PollInterval,
		JoinTimeout:  cfg.Supervisor.JoinTimeout,
		ErrorBackoff: cfg.Supervisor.ErrorBackoff,
	}, a.bundle, supervisor.WithMetrics(a.metrics))
	a.supervisor.Register(capture.Name, cw.Run)
	a.supervisor.Register(transcribe.Name, tw.Run)

	a.hub = feed.NewHub(
		feed.WithMetrics(a.metrics),
		feed.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
}

// initHistory opens the configured utterance sinks unless sinks were
// injected.
func (a *App) initHistory(ctx context.Context) error {
	if !a.sinksInjected {
		h := a.cfg.History
		if h.PostgresDSN != "" {
			s, err := history.OpenPostgres(ctx, h.PostgresDSN)
			if err != nil {
				return err
			}
			a.sinks = append(a.sinks, s)
		}
		if h.RedisURL != "" {
			s, err := history.OpenRedis(ctx, h.RedisURL, h.RedisStream)
			if err != nil {
				for _, s := range a.sinks {
					_ = s.Close()
				}
				return err
			}
			a.sinks = append(a.sinks, s)
		}
	}
	a.pump = history.NewPump(a.hub, a.sinks...)
	a.closers = append(a.closers, a.pump.Close)
	return nil
}

// Speakers returns the speaker manager.
func (a *App) Speakers() *speaker.Manager { return a.speakers }

// Bundle returns the worker bundle shared by the pipeline workers.
func (a *App) Bundle() *worker.Bundle { return a.bundle }

// SessionID identifies this process run in logs.
func (a *App) SessionID() string { return a.sessionID }

// Run starts the supervisor, the gallery saver, the feed pumps, the config
// watcher and, when server.listen_addr is set, the HTTP server. It blocks
// until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.supervisor.Run(ctx) })
	g.Go(func() error { return a.speakers.Run(ctx) })
	g.Go(func() error { return a.pump.Run(ctx, a.bundle.Utterances) })
	g.Go(func() error { return a.hub.RunPreview(ctx, a.bundle.Preview) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// applyConfig is the watcher callback. Only the live subset is applied;
// everything else is logged as requiring a restart.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		a.speakers.SetThreshold(d.NewThreshold)
		slog.Info("speaker threshold changed", "threshold", d.NewThreshold)
	}
	if d.FillerTokensChanged {
		a.filter.SetTokens(d.NewFillerTokens)
		slog.Info("filler tokens changed", "tokens", len(d.NewFillerTokens))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// LogLevel maps a config level to its slog equivalent. Unknown values map
// to info.
func LogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown releases sinks and stores. Call it after Run has returned so the
// final gallery save has completed. If ctx expires first the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs closers after a failed New.
func (a *App) close() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

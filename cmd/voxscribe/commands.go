package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxscribe/internal/app"
	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/speaker"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "voxscribe",
		Short:         "Real-time dictation with speaker attribution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newRunCmd(&configPath),
		newGalleryCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// ── run ───────────────────────────────────────────────────────────────────────

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the capture pipeline and control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if code := serve(cmd.Context(), *configPath, cmd.OutOrStdout()); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
}

// serve runs the application until SIGINT or SIGTERM and returns the exit
// code.
func serve(parent context.Context, configPath string, out io.Writer) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxscribe: %v\n", err)
		return 1
	}

	var level slog.LevelVar
	level.Set(app.LogLevel(cfg.Server.LogLevel))
	logger, logCloser := observe.NewLogger(observe.LogOptions{Level: &level, Dir: logDir(cfg)})
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("voxscribe starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"storage", cfg.Storage.Dir,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(out, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(tel.Handler),
		app.WithLogLevel(&level),
		app.WithConfigPath(configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		providers.Gallery = nil
		closeProviders(providers)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down", "session_id", application.SessionID())
	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	// The application owns and has closed the gallery store.
	providers.Gallery = nil
	closeProviders(providers)
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	return cfg, err
}

// logDir resolves server.log_dir: empty means <storage>/log, "-" disables
// file logging.
func logDir(cfg *config.Config) string {
	switch cfg.Server.LogDir {
	case "":
		return filepath.Join(cfg.Storage.Dir, "log")
	case "-":
		return ""
	default:
		return cfg.Server.LogDir
	}
}

// ── gallery ───────────────────────────────────────────────────────────────────

func newGalleryCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Inspect or reset the persisted speaker gallery",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "List known speakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGallery(cmd.Context(), *configPath, func(ctx context.Context, store speaker.Store) error {
				snap, err := store.Load(ctx)
				if err != nil {
					return err
				}
				return printGallery(cmd.OutOrStdout(), snap)
			})
		},
	}

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored speaker profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reset the gallery without --yes")
			}
			return withGallery(cmd.Context(), *configPath, func(ctx context.Context, store speaker.Store) error {
				if err := store.Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "speaker gallery reset")
				return nil
			})
		},
	}
	reset.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")

	cmd.AddCommand(show, reset)
	return cmd
}

// withGallery opens the configured gallery store, calls fn and closes it.
func withGallery(ctx context.Context, configPath string, fn func(context.Context, speaker.Store) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	logger, closer := observe.NewLogger(observe.LogOptions{Level: &level})
	defer closer.Close()
	slog.SetDefault(logger)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	store, err := reg.CreateGalleryStore(ctx, cfg.Speaker.Store, cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open gallery store %q: %w", cfg.Speaker.Store.Name, err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func printGallery(w io.Writer, snap speaker.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOCCURRENCES\tDIMENSIONS")
	for i, id := range snap.IDs {
		dims := 0
		if i < len(snap.Embeddings) {
			dims = len(snap.Embeddings[i])
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\n", id, snap.Freqs[id], dims)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d speakers, next id %d\n", snap.Len(), max(snap.NextID, 1))
	return err
}

// ── version ───────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voxscribe %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       voxscribe · startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Capture", cfg.Capture.Provider.Name, cfg.Capture.Provider.Model)
	printProvider(w, "Enhance", cfg.Enhance.Provider.Name, "")
	printProvider(w, "VAD", cfg.VAD.Provider.Name, cfg.VAD.Provider.Model)
	printProvider(w, "ASR", cfg.ASR.Provider.Name, cfg.ASR.Provider.Model)
	if n := len(cfg.ASR.Fallbacks); n > 0 {
		fmt.Fprintf(w, "║  %-12s    : %-19d ║\n", "ASR fallback", n)
	}
	printProvider(w, "Voiceprint", cfg.Speaker.Embedder.Name, cfg.Speaker.Embedder.Model)
	printProvider(w, "Gallery", cfg.Speaker.Store.Name, "")
	var sinks []string
	if cfg.History.PostgresDSN != "" {
		sinks = append(sinks, "postgres")
	}
	if cfg.History.RedisURL != "" {
		sinks = append(sinks, "redis")
	}
	printProvider(w, "History", strings.Join(sinks, "+"), "")
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Case", cfg.Case.DefaultID)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + filepath.Base(model)
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

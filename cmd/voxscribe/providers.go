package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MrWong99/voxscribe/internal/app"
	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/resilience"
	"github.com/MrWong99/voxscribe/internal/speaker"
	"github.com/MrWong99/voxscribe/internal/speaker/badgerstore"
	"github.com/MrWong99/voxscribe/internal/speaker/filestore"
	"github.com/MrWong99/voxscribe/internal/speaker/pgstore"
	"github.com/MrWong99/voxscribe/pkg/audio/fbank"
	"github.com/MrWong99/voxscribe/pkg/provider/asr"
	oaasr "github.com/MrWong99/voxscribe/pkg/provider/asr/openai"
	"github.com/MrWong99/voxscribe/pkg/provider/asr/whisper"
	"github.com/MrWong99/voxscribe/pkg/provider/capture"
	"github.com/MrWong99/voxscribe/pkg/provider/capture/portaudio"
	"github.com/MrWong99/voxscribe/pkg/provider/capture/wavfile"
	"github.com/MrWong99/voxscribe/pkg/provider/enhance"
	"github.com/MrWong99/voxscribe/pkg/provider/enhance/lite"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
	"github.com/MrWong99/voxscribe/pkg/provider/vad/energy"
	"github.com/MrWong99/voxscribe/pkg/provider/vad/silero"
	"github.com/MrWong99/voxscribe/pkg/provider/voiceprint"
	fbankvp "github.com/MrWong99/voxscribe/pkg/provider/voiceprint/fbank"
	onnxvp "github.com/MrWong99/voxscribe/pkg/provider/voiceprint/onnx"
)

// registerBuiltinProviders wires every built-in backend factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("portaudio", func(config.ProviderEntry) (capture.Source, error) {
		return portaudio.New()
	})
	// wavfile reads the replay file from Model.
	reg.RegisterCapture("wavfile", func(entry config.ProviderEntry) (capture.Source, error) {
		return wavfile.New(entry.Model,
			wavfile.WithRealtime(optBool(entry.Options, "realtime", true)),
			wavfile.WithLoop(optBool(entry.Options, "loop", false)),
		)
	})

	// ── Enhancement ───────────────────────────────────────────────────────────

	reg.RegisterEnhance("lite", func(_ config.ProviderEntry, cfg enhance.Config) (enhance.Engine, error) {
		return lite.New(cfg), nil
	})
	reg.RegisterEnhance("passthrough", func(_ config.ProviderEntry, cfg enhance.Config) (enhance.Engine, error) {
		return &enhance.Passthrough{FrameSamples: cfg.FrameSamples}, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if r := optFloat(entry.Options, "noise_ratio", 0); r > 0 {
			opts = append(opts, energy.WithNoiseRatio(r))
		}
		return energy.New(opts...), nil
	})
	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		return silero.New(entry.Model)
	})

	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})
	// whisper-native loads a GGML model file from Model.
	reg.RegisterASR("whisper-native", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(entry.Model, opts...)
	})
	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		var opts []oaasr.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaasr.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaasr.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oaasr.WithPrompt(prompt))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaasr.WithTimeout(d))
		}
		return oaasr.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Voiceprint ────────────────────────────────────────────────────────────

	reg.RegisterVoiceprint("fbank", func(entry config.ProviderEntry) (voiceprint.Model, error) {
		cfg := fbank.DefaultConfig()
		if n := optInt(entry.Options, "num_mels", 0); n > 0 {
			cfg.NumMels = n
		}
		return fbankvp.New(cfg), nil
	})
	reg.RegisterVoiceprint("onnx", func(entry config.ProviderEntry) (voiceprint.Model, error) {
		var opts []onnxvp.Option
		in, out := optString(entry.Options, "input_name"), optString(entry.Options, "output_name")
		if in != "" || out != "" {
			opts = append(opts, onnxvp.WithTensorNames(in, out))
		}
		return onnxvp.New(entry.Model, optInt(entry.Options, "dimensions", 192), opts...)
	})

	// ── Gallery store ─────────────────────────────────────────────────────────

	reg.RegisterGalleryStore("file", func(_ context.Context, _ config.ProviderEntry, dir string) (speaker.Store, error) {
		return filestore.New(filepath.Join(dir, "gallery")), nil
	})
	reg.RegisterGalleryStore("badger", func(_ context.Context, entry config.ProviderEntry, dir string) (speaker.Store, error) {
		return badgerstore.Open(badgerstore.Options{
			Dir:      filepath.Join(dir, "gallery.badger"),
			InMemory: optBool(entry.Options, "in_memory", false),
		})
	})
	// postgres takes its DSN from BaseURL.
	reg.RegisterGalleryStore("postgres", func(ctx context.Context, entry config.ProviderEntry, _ string) (speaker.Store, error) {
		return pgstore.Open(ctx, entry.BaseURL)
	})
	reg.RegisterGalleryStore("memory", func(context.Context, config.ProviderEntry, string) (speaker.Store, error) {
		return &speaker.MemoryStore{}, nil
	})
}

// buildProviders instantiates every backend named in cfg. On error the
// backends created so far are closed.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (_ *app.Providers, err error) {
	ps := &app.Providers{ASRName: cfg.ASR.Provider.Name}
	defer func() {
		if err != nil {
			closeProviders(ps)
		}
	}()

	if ps.Capture, err = reg.CreateCapture(cfg.Capture.Provider); err != nil {
		return nil, fmt.Errorf("create capture source %q: %w", cfg.Capture.Provider.Name, err)
	}
	logCreated("capture", cfg.Capture.Provider)

	enhCfg := enhance.Config{
		EchoCancel:    config.Enabled(cfg.Enhance.EchoCancel),
		NoiseSuppress: config.Enabled(cfg.Enhance.NoiseSuppress),
		GainControl:   config.Enabled(cfg.Enhance.GainControl),
	}
	// Build one engine now so a bad enhance section fails at startup.
	probe, err := reg.CreateEnhance(cfg.Enhance.Provider, enhCfg)
	if err != nil {
		return nil, fmt.Errorf("create enhancer %q: %w", cfg.Enhance.Provider.Name, err)
	}
	_ = probe.Close()
	ps.NewEnhancer = func() (enhance.Engine, error) {
		return reg.CreateEnhance(cfg.Enhance.Provider, enhCfg)
	}
	logCreated("enhance", cfg.Enhance.Provider)

	if ps.VAD, err = reg.CreateVAD(cfg.VAD.Provider); err != nil {
		return nil, fmt.Errorf("create vad %q: %w", cfg.VAD.Provider.Name, err)
	}
	logCreated("vad", cfg.VAD.Provider)

	rec, err := buildRecognizer(cfg.ASR, reg)
	if err != nil {
		return nil, err
	}
	ps.ASR = rec

	if ps.Voiceprint, err = reg.CreateVoiceprint(cfg.Speaker.Embedder); err != nil {
		return nil, fmt.Errorf("create voiceprint model %q: %w", cfg.Speaker.Embedder.Name, err)
	}
	logCreated("voiceprint", cfg.Speaker.Embedder)

	if ps.Gallery, err = reg.CreateGalleryStore(ctx, cfg.Speaker.Store, cfg.Storage.Dir); err != nil {
		return nil, fmt.Errorf("open gallery store %q: %w", cfg.Speaker.Store.Name, err)
	}
	logCreated("gallery", cfg.Speaker.Store)

	return ps, nil
}

// buildRecognizer creates the primary recognizer and its fallbacks behind
// per-backend circuit breakers.
func buildRecognizer(cfg config.ASRConfig, reg *config.Registry) (*resilience.Recognizer, error) {
	bc := resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Breaker.MaxFailures,
		ResetTimeout: cfg.Breaker.ResetTimeout,
		HalfOpenMax:  cfg.Breaker.HalfOpenMax,
		OnStateChange: func(name string, _, to resilience.State) {
			if to == resilience.StateOpen {
				slog.Warn("recognizer disabled until breaker resets", "backend", name)
			}
		},
	}

	primary, err := reg.CreateASR(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create asr %q: %w", cfg.Provider.Name, err)
	}
	logCreated("asr", cfg.Provider)
	rec := resilience.NewRecognizer(cfg.Provider.Name, primary, bc)

	seen := map[string]int{cfg.Provider.Name: 1}
	for _, entry := range cfg.Fallbacks {
		fb, err := reg.CreateASR(entry)
		if err != nil {
			_ = rec.Close()
			return nil, fmt.Errorf("create asr fallback %q: %w", entry.Name, err)
		}
		name := entry.Name
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s#%d", name, n+1)
		}
		seen[entry.Name]++
		rec.AddFallback(name, fb)
		slog.Info("provider created", "kind", "asr-fallback", "name", name, "model", entry.Model)
	}
	return rec, nil
}

func logCreated(kind string, entry config.ProviderEntry) {
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
}

// closeProviders releases every backend that holds resources.
func closeProviders(ps *app.Providers) {
	for _, v := range []any{ps.Capture, ps.VAD, ps.ASR, ps.Voiceprint, ps.Gallery} {
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
}

// ── Option helpers ────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optBool(opts map[string]any, key string, def bool) bool {
	if b, ok := opts[key].(bool); ok {
		return b
	}
	return def
}

func optInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func optFloat(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// optDuration accepts a Go duration string such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, _ := time.ParseDuration(optString(opts, key))
	return d
}

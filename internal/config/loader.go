package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known backend names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"capture":    {"portaudio", "wavfile"},
	"enhance":    {"lite", "passthrough"},
	"vad":        {"energy", "silero"},
	"asr":        {"whisper", "whisper-native", "openai"},
	"voiceprint": {"fbank", "onnx"},
	"gallery":    {"file", "badger", "postgres", "memory"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Storage.Dir, "data")
	setDefault(&cfg.Case.DefaultID, "default")

	setDefault(&cfg.Capture.Provider.Name, "portaudio")
	setDefault(&cfg.Capture.SampleRate, 16000)
	setDefault(&cfg.Capture.BlockSize, 1600)
	setDefault(&cfg.Capture.PreviewQueue, 64)
	setDefault(&cfg.Capture.WorkQueue, 200)

	setDefault(&cfg.Enhance.Provider.Name, "lite")
	setDefault(&cfg.VAD.Provider.Name, "energy")

	setDefault(&cfg.Segmenter.LowWatermark, 10)
	setDefault(&cfg.Segmenter.HighWatermark, 20)
	setDefault(&cfg.Segmenter.MaxSegmentMS, 1000)
	setDefault(&cfg.Segmenter.SegmentQueue, 100)

	setDefault(&cfg.Spool.ThresholdSamples, 480000)
	setDefault(&cfg.Spool.Queue, 300)

	setDefault(&cfg.ASR.Provider.Name, "whisper")
	setDefault(&cfg.ASR.Breaker.MaxFailures, 5)
	setDefault(&cfg.ASR.Breaker.ResetTimeout, 30*time.Second)
	setDefault(&cfg.ASR.Breaker.HalfOpenMax, 1)

	setDefault(&cfg.Speaker.Embedder.Name, "fbank")
	setDefault(&cfg.Speaker.Threshold, 0.5)
	setDefault(&cfg.Speaker.MinDurationMS, 1000)
	setDefault(&cfg.Speaker.MaxSpeakers, 30)
	setDefault(&cfg.Speaker.DriftPolicy, DriftRebuild)
	setDefault(&cfg.Speaker.SaveInterval, 10*time.Minute)
	setDefault(&cfg.Speaker.Store.Name, "file")

	setDefault(&cfg.Transcribe.UtteranceQueue, 100)

	setDefault(&cfg.Supervisor.PollInterval, time.Second)
	setDefault(&cfg.Supervisor.JoinTimeout, 5*time.Second)
	setDefault(&cfg.Supervisor.ErrorBackoff, 10*time.Second)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("capture", cfg.Capture.Provider.Name)
	validateProviderName("enhance", cfg.Enhance.Provider.Name)
	validateProviderName("vad", cfg.VAD.Provider.Name)
	validateProviderName("asr", cfg.ASR.Provider.Name)
	validateProviderName("voiceprint", cfg.Speaker.Embedder.Name)
	validateProviderName("gallery", cfg.Speaker.Store.Name)

	for name, v := range map[string]int{
		"capture.sample_rate":        cfg.Capture.SampleRate,
		"capture.block_size":         cfg.Capture.BlockSize,
		"capture.preview_queue":      cfg.Capture.PreviewQueue,
		"capture.work_queue":         cfg.Capture.WorkQueue,
		"segmenter.max_segment_ms":   cfg.Segmenter.MaxSegmentMS,
		"segmenter.segment_queue":    cfg.Segmenter.SegmentQueue,
		"spool.threshold_samples":    cfg.Spool.ThresholdSamples,
		"spool.queue":                cfg.Spool.Queue,
		"transcribe.utterance_queue": cfg.Transcribe.UtteranceQueue,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}

	seg := cfg.Segmenter
	if seg.LowWatermark < 1 || seg.HighWatermark <= seg.LowWatermark {
		errs = append(errs, fmt.Errorf("segmenter watermarks must satisfy 1 <= low (%d) < high (%d)", seg.LowWatermark, seg.HighWatermark))
	}

	sp := cfg.Speaker
	if sp.Threshold < -1 || sp.Threshold > 1 {
		errs = append(errs, fmt.Errorf("speaker.threshold %.3f is out of range [-1, 1]", sp.Threshold))
	}
	if sp.DriftPolicy != "" && !sp.DriftPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("speaker.drift_policy %q is invalid; valid values: rebuild, reject", sp.DriftPolicy))
	}
	if sp.MinDurationMS < 0 || sp.MaxSpeakers < 0 || sp.SaveInterval < 0 {
		errs = append(errs, errors.New("speaker durations and limits must not be negative"))
	}
	if sp.Store.Name == "postgres" && sp.Store.BaseURL == "" {
		errs = append(errs, errors.New("speaker.store.base_url (postgres dsn) is required for the postgres gallery store"))
	}
	if sp.Embedder.Name == "onnx" && sp.Embedder.Model == "" {
		errs = append(errs, errors.New("speaker.embedder.model is required for the onnx embedder"))
	}

	errs = append(errs, validateASR("asr.provider", cfg.ASR.Provider)...)
	for i, fb := range cfg.ASR.Fallbacks {
		validateProviderName("asr", fb.Name)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("asr.fallbacks[%d].name is required", i))
			continue
		}
		errs = append(errs, validateASR(fmt.Sprintf("asr.fallbacks[%d]", i), fb)...)
	}
	if cfg.VAD.Provider.Name == "silero" && cfg.VAD.Provider.Model == "" {
		errs = append(errs, errors.New("vad.provider.model is required for silero"))
	}
	if cfg.Capture.Provider.Name == "wavfile" && cfg.Capture.Provider.Model == "" {
		errs = append(errs, errors.New("capture.provider.model (wav path) is required for wavfile"))
	}

	sup := cfg.Supervisor
	if sup.PollInterval < 0 || sup.JoinTimeout < 0 || sup.ErrorBackoff < 0 {
		errs = append(errs, errors.New("supervisor durations must not be negative"))
	}

	return errors.Join(errs...)
}

func validateASR(path string, e ProviderEntry) []error {
	var errs []error
	switch e.Name {
	case "whisper":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for the whisper server backend", path))
		}
	case "whisper-native":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for whisper-native", path))
		}
	case "openai":
		if e.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
			slog.Warn("openai recognizer has no api_key and OPENAI_API_KEY is unset", "path", path)
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not in the
// [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

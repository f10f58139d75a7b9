// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for voxscribe.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DriftPolicy selects how the speaker gallery reacts to embeddings of a
// different dimensionality.
type DriftPolicy string

const (
	DriftRebuild DriftPolicy = "rebuild"
	DriftReject  DriftPolicy = "reject"
)

// IsValid reports whether p is a recognised policy.
func (p DriftPolicy) IsValid() bool {
	return p == DriftRebuild || p == DriftReject
}

// Config is the root configuration. It is typically loaded from a YAML file
// with [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Case       CaseConfig       `yaml:"case"`
	Capture    CaptureConfig    `yaml:"capture"`
	Enhance    EnhanceConfig    `yaml:"enhance"`
	VAD        VADConfig        `yaml:"vad"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Spool      SpoolConfig      `yaml:"spool"`
	ASR        ASRConfig        `yaml:"asr"`
	Speaker    SpeakerConfig    `yaml:"speaker"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	History    HistoryConfig    `yaml:"history"`
}

// ServerConfig holds the control API and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// LogDir holds the rotated log file. Empty means <storage.dir>/log;
	// "-" disables file logging.
	LogDir string `yaml:"log_dir"`

	// AllowedOrigins are host patterns allowed to open feed websockets from
	// another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StorageConfig locates on-disk artifacts: WAV spool files, the file and
// badger gallery stores and logs.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// CaseConfig holds the case id used until the UI sets one.
type CaseConfig struct {
	DefaultID string `yaml:"default_id"`
}

// ProviderEntry is the configuration block shared by all pluggable
// backends. Name selects the constructor in the [Registry].
type ProviderEntry struct {
	Name string `yaml:"name"`

	// APIKey authenticates hosted backends.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model name or a model file path.
	Model string `yaml:"model"`

	// Options holds backend-specific values.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig selects the input device.
type CaptureConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// SampleRate is the device rate; blocks are resampled to 16kHz.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the device block length in samples.
	BlockSize int `yaml:"block_size"`

	PreviewQueue int `yaml:"preview_queue"`
	WorkQueue    int `yaml:"work_queue"`
}

// EnhanceConfig selects the enhancement engine and its stages. Unset stages
// are enabled.
type EnhanceConfig struct {
	Provider      ProviderEntry `yaml:"provider"`
	EchoCancel    *bool         `yaml:"echo_cancel"`
	NoiseSuppress *bool         `yaml:"noise_suppress"`
	GainControl   *bool         `yaml:"gain_control"`
}

// VADConfig selects the voice activity detector.
type VADConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// Threshold is the engine-specific speech threshold; 0 keeps the engine
	// default.
	Threshold float64 `yaml:"threshold"`
}

// SegmenterConfig tunes the silence hysteresis.
type SegmenterConfig struct {
	LowWatermark  int `yaml:"low_watermark_frames"`
	HighWatermark int `yaml:"high_watermark_frames"`
	MaxSegmentMS  int `yaml:"max_segment_ms"`
	SegmentQueue  int `yaml:"segment_queue"`
}

// SpoolConfig controls the WAV recording spool.
type SpoolConfig struct {
	Enabled          *bool `yaml:"enabled"`
	ThresholdSamples int   `yaml:"threshold_samples"`
	Queue            int   `yaml:"queue"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ASRConfig selects the recognizer.
type ASRConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the provider fails or its breaker
	// is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Breaker BreakerConfig `yaml:"breaker"`

	// Partials also sends non-final segments to the recognizer.
	Partials bool `yaml:"partials"`
}

// SpeakerConfig configures re-identification and gallery persistence.
type SpeakerConfig struct {
	Embedder      ProviderEntry `yaml:"embedder"`
	Threshold     float64       `yaml:"threshold"`
	MinDurationMS int           `yaml:"min_duration_ms"`
	MaxSpeakers   int           `yaml:"max_speakers"`
	DriftPolicy   DriftPolicy   `yaml:"drift_policy"`
	SaveInterval  time.Duration `yaml:"save_interval"`

	// Store selects the gallery store: file, badger, postgres or memory.
	Store ProviderEntry `yaml:"store"`
}

// TranscribeConfig configures the transcription worker.
type TranscribeConfig struct {
	UtteranceQueue int `yaml:"utterance_queue"`

	// FillerTokens replaces the built-in backchannel vocabulary when set.
	FillerTokens []string `yaml:"filler_tokens"`
}

// SupervisorConfig tunes worker supervision.
type SupervisorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
}

// HistoryConfig enables durable utterance sinks. Empty values disable them.
type HistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url"`
	RedisStream string `yaml:"redis_stream"`
}

// Enabled returns *b, or true when b is nil.
func Enabled(b *bool) bool { return b == nil || *b }

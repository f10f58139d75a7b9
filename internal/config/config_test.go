package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/speaker"
	"github.com/MrWong99/voxscribe/pkg/provider/asr"
	asrmock "github.com/MrWong99/voxscribe/pkg/provider/asr/mock"
	"github.com/MrWong99/voxscribe/pkg/provider/capture"
	capturemock "github.com/MrWong99/voxscribe/pkg/provider/capture/mock"
	"github.com/MrWong99/voxscribe/pkg/provider/enhance"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
	"github.com/MrWong99/voxscribe/pkg/provider/voiceprint"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_dir: /var/log/voxscribe
storage:
  dir: /srv/voxscribe
case:
  default_id: intake
capture:
  provider:
    name: wavfile
    model: testdata/session.wav
    options:
      realtime: true
  sample_rate: 48000
  block_size: 4800
enhance:
  provider:
    name: lite
  echo_cancel: false
vad:
  provider:
    name: energy
  threshold: 2.5
segmenter:
  low_watermark_frames: 8
  high_watermark_frames: 30
  max_segment_ms: 2000
spool:
  enabled: false
asr:
  provider:
    name: openai
    api_key: sk-test
    model: whisper-1
  breaker:
    max_failures: 3
    reset_timeout: 1m
  partials: true
speaker:
  embedder:
    name: fbank
  threshold: 0.42
  min_duration_ms: 800
  drift_policy: reject
  save_interval: 30s
  store:
    name: badger
transcribe:
  filler_tokens: [uh, um]
supervisor:
  poll_interval: 500ms
history:
  redis_url: redis://localhost:6379/0
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Capture.Provider.Name != "wavfile" || cfg.Capture.SampleRate != 48000 || cfg.Capture.Provider.Options["realtime"] != true {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if config.Enabled(cfg.Enhance.EchoCancel) || !config.Enabled(cfg.Enhance.NoiseSuppress) {
		t.Errorf("enhance stages = %+v", cfg.Enhance)
	}
	if cfg.Segmenter.LowWatermark != 8 || cfg.Segmenter.HighWatermark != 30 || cfg.Segmenter.MaxSegmentMS != 2000 {
		t.Errorf("segmenter = %+v", cfg.Segmenter)
	}
	if config.Enabled(cfg.Spool.Enabled) {
		t.Error("spool.enabled: want false")
	}
	if cfg.ASR.Breaker.ResetTimeout != time.Minute || cfg.ASR.Breaker.MaxFailures != 3 || !cfg.ASR.Partials {
		t.Errorf("asr = %+v", cfg.ASR)
	}
	if cfg.Speaker.Threshold != 0.42 || cfg.Speaker.DriftPolicy != config.DriftReject || cfg.Speaker.SaveInterval != 30*time.Second {
		t.Errorf("speaker = %+v", cfg.Speaker)
	}
	if len(cfg.Transcribe.FillerTokens) != 2 {
		t.Errorf("filler_tokens = %v", cfg.Transcribe.FillerTokens)
	}
	if cfg.Supervisor.PollInterval != 500*time.Millisecond || cfg.Supervisor.JoinTimeout != 5*time.Second {
		t.Errorf("supervisor = %+v", cfg.Supervisor)
	}
	if cfg.History.RedisURL == "" {
		t.Error("history.redis_url not loaded")
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(watcherValidYAML))
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, ":8080"},
		{"storage.dir", cfg.Storage.Dir, "data"},
		{"case.default_id", cfg.Case.DefaultID, "default"},
		{"capture.provider", cfg.Capture.Provider.Name, "portaudio"},
		{"capture.block_size", cfg.Capture.BlockSize, 1600},
		{"capture.work_queue", cfg.Capture.WorkQueue, 200},
		{"vad.provider", cfg.VAD.Provider.Name, "energy"},
		{"segmenter.low", cfg.Segmenter.LowWatermark, 10},
		{"segmenter.max_segment_ms", cfg.Segmenter.MaxSegmentMS, 1000},
		{"spool.threshold", cfg.Spool.ThresholdSamples, 480000},
		{"spool.queue", cfg.Spool.Queue, 300},
		{"speaker.embedder", cfg.Speaker.Embedder.Name, "fbank"},
		{"speaker.min_duration_ms", cfg.Speaker.MinDurationMS, 1000},
		{"speaker.max_speakers", cfg.Speaker.MaxSpeakers, 30},
		{"speaker.save_interval", cfg.Speaker.SaveInterval, 10 * time.Minute},
		{"speaker.store", cfg.Speaker.Store.Name, "file"},
		{"transcribe.utterance_queue", cfg.Transcribe.UtteranceQueue, 100},
		{"supervisor.error_backoff", cfg.Supervisor.ErrorBackoff, 10 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if !config.Enabled(cfg.Spool.Enabled) {
		t.Error("spool should default to enabled")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen: x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}
	ctx := context.Background()

	_, err1 := r.CreateCapture(entry)
	_, err2 := r.CreateEnhance(entry, enhance.Config{})
	_, err3 := r.CreateVAD(entry)
	_, err4 := r.CreateASR(entry)
	_, err5 := r.CreateVoiceprint(entry)
	_, err6 := r.CreateGalleryStore(ctx, entry, t.TempDir())
	for i, err := range []error{err1, err2, err3, err4, err5, err6} {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("kind %d: err = %v, want ErrProviderNotRegistered", i, err)
		}
	}
	if !strings.Contains(err4.Error(), `asr/"nope"`) {
		t.Errorf("error should name kind and provider: %v", err4)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	rec := &asrmock.Recognizer{}
	src := &capturemock.Source{}
	var gotDir string
	var gotEnhance enhance.Config

	r.RegisterASR("fake", func(e config.ProviderEntry) (asr.Recognizer, error) { return rec, nil })
	r.RegisterCapture("fake", func(e config.ProviderEntry) (capture.Source, error) { return src, nil })
	r.RegisterEnhance("fake", func(e config.ProviderEntry, c enhance.Config) (enhance.Engine, error) {
		gotEnhance = c
		return &enhance.Passthrough{}, nil
	})
	r.RegisterGalleryStore("fake", func(_ context.Context, e config.ProviderEntry, dir string) (speaker.Store, error) {
		gotDir = dir
		return &speaker.MemoryStore{}, nil
	})

	entry := config.ProviderEntry{Name: "fake"}
	if got, err := r.CreateASR(entry); err != nil || got != rec {
		t.Errorf("CreateASR = %v, %v", got, err)
	}
	if got, err := r.CreateCapture(entry); err != nil || got != src {
		t.Errorf("CreateCapture = %v, %v", got, err)
	}
	if _, err := r.CreateEnhance(entry, enhance.Config{NoiseSuppress: true}); err != nil || !gotEnhance.NoiseSuppress {
		t.Errorf("CreateEnhance err = %v, cfg = %+v", err, gotEnhance)
	}
	if _, err := r.CreateGalleryStore(context.Background(), entry, "/data"); err != nil || gotDir != "/data" {
		t.Errorf("CreateGalleryStore err = %v, dir = %q", err, gotDir)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("boom")
	r.RegisterVAD("bad", func(config.ProviderEntry) (vad.Engine, error) { return nil, boom })
	r.RegisterVoiceprint("bad", func(config.ProviderEntry) (voiceprint.Model, error) { return nil, boom })

	if _, err := r.CreateVAD(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("CreateVAD err = %v", err)
	}
	if _, err := r.CreateVoiceprint(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("CreateVoiceprint err = %v", err)
	}
}

// Package spool mirrors accepted speech to dated WAV files on disk.
//
// Flushed segments are appended to an in-memory buffer; once it holds
// [DefaultThreshold] samples (30s) it is written as one artifact under
// <dir>/wav/<case>/<case>_<YYYYmmdd_HHMMSS>.wav, named after the case active
// at write time.
package spool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/pkg/audio"
)

const (
	// DefaultThreshold is 30 seconds of audio.
	DefaultThreshold = 30 * audio.SampleRate

	// DefaultQueue is the inbound queue size in segments.
	DefaultQueue = 300

	timeLayout = "20060102_150405"
)

// CaseSource supplies the active case identifier.
type CaseSource interface {
	ID() string
}

// Config configures a [Spool].
type Config struct {
	// Dir is the storage root; files go under Dir/wav.
	Dir string

	// Threshold is the buffered sample count that triggers a write.
	Threshold int

	// Queue is the inbound queue capacity.
	Queue int
}

// Option configures a [Spool].
type Option func(*Spool)

// WithClock overrides time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(s *Spool) { s.now = now }
}

// WithMetrics records written files and drops to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Spool) { s.metrics = m }
}

// Spool buffers audio and writes WAV artifacts. [Spool.Append] may be called
// from any goroutine; [Spool.Run] must run in exactly one.
type Spool struct {
	cfg     Config
	cases   CaseSource
	in      chan []int16
	buf     []int16
	now     func() time.Time
	metrics *observe.Metrics
}

// New creates a spool writing under cfg.Dir.
func New(cfg Config, cases CaseSource, opts ...Option) *Spool {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}
	s := &Spool{
		cfg:   cfg,
		cases: cases,
		in:    make(chan []int16, cfg.Queue),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append queues an owned copy of samples. It never blocks: when the queue is
// full the samples are dropped and false is returned.
func (s *Spool) Append(samples []int16) bool {
	if len(samples) == 0 {
		return true
	}
	select {
	case s.in <- audio.Clone(samples):
		return true
	default:
		slog.Warn("spool queue full, dropping audio", "samples", len(samples), "err", pipeline.ErrChannelSaturated)
		if s.metrics != nil {
			s.metrics.RecordDrop(context.Background(), "spool")
		}
		return false
	}
}

// Run consumes queued audio until ctx is cancelled, writing a file each time
// the threshold is reached. Remaining audio is written on return.
func (s *Spool) Run(ctx context.Context) error {
	for {
		select {
		case samples := <-s.in:
			s.add(samples)
		case <-ctx.Done():
			for {
				select {
				case samples := <-s.in:
					s.add(samples)
				default:
					if len(s.buf) > 0 {
						s.write(s.buf)
						s.buf = nil
					}
					return nil
				}
			}
		}
	}
}

func (s *Spool) add(samples []int16) {
	s.buf = append(s.buf, samples...)
	for len(s.buf) >= s.cfg.Threshold {
		s.write(s.buf[:s.cfg.Threshold])
		s.buf = append(s.buf[:0:0], s.buf[s.cfg.Threshold:]...)
	}
}

func (s *Spool) write(samples []int16) {
	caseID := SanitizeCaseID(s.cases.ID())
	path, err := WriteFile(s.cfg.Dir, caseID, s.now(), samples)
	if err != nil {
		slog.Error("spool write failed", "case", caseID, "err", err)
		return
	}
	slog.Info("spooled audio", "path", path, "seconds", audio.SamplesDuration(len(samples)).Seconds())
	if s.metrics != nil {
		s.metrics.SpoolFiles.Add(context.Background(), 1)
	}
}

// WriteFile writes samples as a WAV artifact for caseID stamped with at and
// returns its path. An existing file of the same name gets a numeric suffix.
func WriteFile(dir, caseID string, at time.Time, samples []int16) (string, error) {
	caseDir := filepath.Join(dir, "wav", caseID)
	if err := os.MkdirAll(caseDir, 0o755); err != nil {
		return "", fmt.Errorf("spool: create %s: %w: %w", caseDir, pipeline.ErrPersistence, err)
	}
	base := caseID + "_" + at.Format(timeLayout)
	path := filepath.Join(caseDir, base+".wav")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(caseDir, fmt.Sprintf("%s_%d.wav", base, i))
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, audio.EncodeWAV(samples, audio.SampleRate), 0o644); err != nil {
		return "", fmt.Errorf("spool: write %s: %w: %w", tmp, pipeline.ErrPersistence, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("spool: rename %s: %w: %w", path, pipeline.ErrPersistence, err)
	}
	return path, nil
}

// SanitizeCaseID maps id onto a safe single path element.
func SanitizeCaseID(id string) string {
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	id = strings.Trim(id, ".")
	if id == "" {
		return "default"
	}
	return id
}

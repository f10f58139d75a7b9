// Package worker runs the pipeline workers as supervised goroutines.
//
// A worker is an [Entry] function started against a [Bundle]. The bundle is
// created once at startup and handed unchanged to every restart, so channels
// and the control handshake outlive individual worker instances.
package worker

import (
	"context"

	"github.com/MrWong99/voxscribe/internal/control"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/pkg/audio"
)

// Entry is a worker main function. It runs until ctx is cancelled or a fatal
// error occurs.
type Entry func(ctx context.Context, b *Bundle) error

// Bundle carries the shared state every worker is started with.
type Bundle struct {
	// Signals is the capture start/stop handshake.
	Signals *control.Signals

	// Case supplies the active case identifier.
	Case *control.CaseSource

	// Preview receives a copy of every raw capture block. Lossy.
	Preview chan audio.Block

	// Segments carries segmenter output to the transcription worker.
	Segments chan audio.Segment

	// Utterances carries transcription output to the feed pump.
	Utterances chan pipeline.Utterance
}

// BundleConfig sizes the bundle's channels.
type BundleConfig struct {
	PreviewQueue   int
	SegmentQueue   int
	UtteranceQueue int
	CaseID         string
}

// NewBundle creates a Bundle with fresh signals and channels sized by cfg.
// Zero sizes default to 64 preview blocks, 100 segments and 100 utterances.
func NewBundle(cfg BundleConfig) *Bundle {
	if cfg.PreviewQueue <= 0 {
		cfg.PreviewQueue = 64
	}
	if cfg.SegmentQueue <= 0 {
		cfg.SegmentQueue = 100
	}
	if cfg.UtteranceQueue <= 0 {
		cfg.UtteranceQueue = 100
	}
	return &Bundle{
		Signals:    control.NewSignals(),
		Case:       control.NewCaseSource(cfg.CaseID),
		Preview:    make(chan audio.Block, cfg.PreviewQueue),
		Segments:   make(chan audio.Segment, cfg.SegmentQueue),
		Utterances: make(chan pipeline.Utterance, cfg.UtteranceQueue),
	}
}

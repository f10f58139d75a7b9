package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/pkg/audio"
)

// handoff is the device callback. It copies each block into the lossy
// preview channel and the bounded work queue without ever blocking the
// device thread.
type handoff struct {
	preview chan<- audio.Block
	metrics *observe.Metrics

	mu     sync.Mutex
	work   chan audio.Block
	closed bool
	drops  int
}

func newHandoff(queue int, preview chan<- audio.Block, m *observe.Metrics) *handoff {
	return &handoff{
		preview: preview,
		metrics: m,
		work:    make(chan audio.Block, queue),
	}
}

// deliver is passed to capture.Device.Start. Panics are recovered so a bad
// block never kills the device stream.
func (h *handoff) deliver(b audio.Block) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("capture callback panicked", "panic", r)
		}
	}()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	if h.preview != nil {
		select {
		case h.preview <- audio.Block{Samples: audio.Clone(b.Samples), CapturedAt: b.CapturedAt}:
		default:
			if h.metrics != nil {
				h.metrics.RecordDrop(context.Background(), "preview")
			}
		}
	}

	select {
	case h.work <- audio.Block{Samples: audio.Clone(b.Samples), CapturedAt: b.CapturedAt}:
	default:
		h.drops++
		slog.Warn("capture work queue full, dropping block", "dropped", h.drops, "err", pipeline.ErrChannelSaturated)
		if h.metrics != nil {
			h.metrics.RecordDrop(context.Background(), "work")
		}
	}
}

// close stops delivery and closes the work queue so its consumer drains and
// returns. Safe to call more than once.
func (h *handoff) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.work)
}

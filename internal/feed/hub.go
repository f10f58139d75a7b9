// Package feed streams live pipeline output to websocket clients.
//
// Two feeds exist. The preview feed carries every capture block as binary
// little-endian 16-bit PCM so a UI can draw a level meter or waveform. The
// utterance feed carries each recognised utterance as one JSON text message.
//
// Broadcasting never blocks: each client has a bounded send queue and a
// client that falls behind loses messages.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/pkg/audio"
)

// Kind names a feed.
type Kind string

const (
	KindPreview    Kind = "preview"
	KindUtterances Kind = "utterances"
)

const (
	defaultClientQueue = 32
	writeTimeout       = 5 * time.Second
)

type message struct {
	typ  websocket.MessageType
	data []byte
}

type client struct {
	kind Kind
	send chan message
}

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics counts connected clients and dropped messages.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithClientQueue sets the per-client send queue length. Default: 32.
func WithClientQueue(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queue = n
		}
	}
}

// WithOriginPatterns allows cross-origin websocket upgrades from hosts
// matching the given patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub fans messages out to websocket clients. It is safe for concurrent use.
type Hub struct {
	metrics *observe.Metrics
	queue   int
	origins []string

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub returns an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		queue:   defaultClientQueue,
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Clients returns the number of connected clients of kind k.
func (h *Hub) Clients(k Kind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.kind == k {
			n++
		}
	}
	return n
}

// PublishPreview sends block to every preview client.
func (h *Hub) PublishPreview(ctx context.Context, block audio.Block) {
	h.broadcast(ctx, KindPreview, message{typ: websocket.MessageBinary, data: audio.SamplesToPCM(block.Samples)})
}

// PublishUtterance sends u as JSON to every utterance client.
func (h *Hub) PublishUtterance(ctx context.Context, u pipeline.Utterance) {
	data, err := json.Marshal(u)
	if err != nil {
		slog.Warn("feed: encode utterance", "err", err)
		return
	}
	h.broadcast(ctx, KindUtterances, message{typ: websocket.MessageText, data: data})
}

// RunPreview publishes blocks until ctx is cancelled or blocks is closed.
func (h *Hub) RunPreview(ctx context.Context, blocks <-chan audio.Block) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-blocks:
			if !ok {
				return nil
			}
			h.PublishPreview(ctx, b)
		}
	}
}

func (h *Hub) broadcast(ctx context.Context, k Kind, msg message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.kind != k {
			continue
		}
		select {
		case c.send <- msg:
		default:
			if h.metrics != nil {
				h.metrics.RecordDrop(ctx, "feed."+string(k))
			}
		}
	}
}

// Handler returns an http.Handler that upgrades requests to websocket
// clients of kind k. Clients are write-only; anything they send is ignored.
func (h *Hub) Handler(k Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
		if err != nil {
			slog.Debug("feed: websocket accept failed", "feed", k, "err", err)
			return
		}
		defer conn.CloseNow()

		c := h.add(r.Context(), k)
		defer h.remove(context.WithoutCancel(r.Context()), c)

		ctx := conn.CloseRead(r.Context())
		slog.Debug("feed client connected", "feed", k, "remote", r.RemoteAddr)
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case msg := <-c.send:
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, msg.typ, msg.data)
				cancel()
				if err != nil {
					slog.Debug("feed client write failed", "feed", k, "err", err)
					return
				}
			}
		}
	})
}

func (h *Hub) add(ctx context.Context, k Kind) *client {
	c := &client{kind: k, send: make(chan message, h.queue)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.FeedClients.Add(ctx, 1, metric.WithAttributes(observe.Attr("feed", string(k))))
	}
	return c
}

func (h *Hub) remove(ctx context.Context, c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.FeedClients.Add(ctx, -1, metric.WithAttributes(observe.Attr("feed", string(c.kind))))
	}
}

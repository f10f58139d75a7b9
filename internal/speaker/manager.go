// Package speaker re-identifies speakers across utterances.
//
// The [Manager] keeps a gallery of speaker embeddings and matches each new
// utterance against it by cosine similarity with a linear scan. Unmatched
// voices are added under a fresh sequential id. The gallery is loaded once at
// startup and saved periodically in the background through a [Store].
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/voiceprint"
)

// DriftPolicy decides what happens when an embedding's dimensionality
// differs from the gallery's.
type DriftPolicy string

const (
	// DriftRebuild discards the gallery and restarts it from the new vector.
	DriftRebuild DriftPolicy = "rebuild"

	// DriftReject keeps the gallery and reports the speaker as unknown.
	DriftReject DriftPolicy = "reject"
)

// Lookup outcomes recorded in metrics.
const (
	resultMatch   = "match"
	resultNew     = "new"
	resultInherit = "inherit"
	resultUnknown = "unknown"
)

// Config configures a [Manager].
type Config struct {
	// Threshold is the cosine similarity a match must exceed. Default: 0.5.
	Threshold float64

	// MinDuration is the shortest span that is embedded. Shorter spans
	// inherit the previous speaker. Default: 1s.
	MinDuration time.Duration

	// MaxSpeakers, when positive, logs a warning once the gallery grows past
	// it. It is not enforced.
	MaxSpeakers int

	// Drift is the dimensionality drift policy. Default: DriftRebuild.
	Drift DriftPolicy

	// SaveInterval is the background save period. Default: 10m.
	SaveInterval time.Duration
}

// WithDefaults returns a copy of c with zero fields defaulted.
func (c Config) WithDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.MinDuration <= 0 {
		c.MinDuration = time.Second
	}
	if c.Drift == "" {
		c.Drift = DriftRebuild
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 10 * time.Minute
	}
	return c
}

// Profile describes one known speaker.
type Profile struct {
	ID          string `json:"id"`
	Occurrences int    `json:"occurrences"`
	Dimensions  int    `json:"dimensions"`
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics records lookups and gallery size to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// Manager is the speaker re-identification manager. All methods are safe for
// concurrent use.
type Manager struct {
	cfg     Config
	model   voiceprint.Model
	store   Store
	metrics *observe.Metrics

	threshold atomic.Uint64
	loaded    atomic.Bool

	mu           sync.Mutex
	ids          []string
	embs         [][]float32
	freqs        map[string]int
	next         int
	last         string
	dirty        bool
	resetPending bool
	warnedMax    bool

	// saveMu serialises store writes.
	saveMu sync.Mutex
}

// NewManager creates a Manager with an empty gallery. Call [Manager.Load]
// before use to restore the persisted gallery.
func NewManager(cfg Config, model voiceprint.Model, store Store, opts ...Option) *Manager {
	cfg = cfg.WithDefaults()
	m := &Manager{
		cfg:   cfg,
		model: model,
		store: store,
		freqs: make(map[string]int),
		next:  1,
		last:  pipeline.UnknownSpeaker,
	}
	m.threshold.Store(math.Float64bits(cfg.Threshold))
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold returns the current match threshold.
func (m *Manager) Threshold() float64 {
	return math.Float64frombits(m.threshold.Load())
}

// SetThreshold changes the match threshold.
func (m *Manager) SetThreshold(t float64) {
	m.threshold.Store(math.Float64bits(t))
}

// Loaded reports whether [Manager.Load] has completed.
func (m *Manager) Loaded() bool { return m.loaded.Load() }

// Load restores the persisted gallery. A missing gallery starts empty. An
// unreadable or inconsistent one also starts empty and the error is returned
// wrapped in [pipeline.ErrPersistence]; the manager stays usable.
func (m *Manager) Load(ctx context.Context) error {
	defer m.loaded.Store(true)
	snap, err := m.store.Load(ctx)
	if err == nil {
		err = snap.Validate()
	}
	if err != nil {
		m.mu.Lock()
		m.next = max(m.next, snap.nextFree())
		next := m.next
		m.mu.Unlock()
		slog.Warn("speaker gallery unreadable, starting empty", "err", err, "next_id", next)
		return fmt.Errorf("speaker: load gallery: %w: %w", pipeline.ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = snap.IDs
	m.embs = snap.Embeddings
	m.freqs = snap.Freqs
	if m.freqs == nil {
		m.freqs = make(map[string]int)
	}
	for _, id := range m.ids {
		if m.freqs[id] <= 0 {
			m.freqs[id] = 1
		}
	}
	m.next = snap.nextFree()
	m.gaugeLocked(ctx, int64(len(m.ids)))
	slog.Info("speaker gallery loaded", "speakers", len(m.ids), "dimensions", snap.Dimensions(), "next_id", m.next)
	return nil
}

// Extract computes the embedding of samples.
func (m *Manager) Extract(ctx context.Context, samples []int16) ([]float32, error) {
	var hist metric.Float64Histogram
	if m.metrics != nil {
		hist = m.metrics.EmbeddingDuration
	}
	ctx, done := observe.Stage(ctx, "speaker.extract", hist)
	vec, err := m.model.Embed(ctx, samples)
	if err == nil && len(vec) == 0 {
		err = errors.New("empty embedding")
	}
	done(err)
	if err != nil {
		return nil, fmt.Errorf("speaker: extract: %w: %w", pipeline.ErrEmbedding, err)
	}
	return vec, nil
}

// Match returns the id of the first gallery entry whose cosine similarity to
// vec is the highest and strictly above the threshold.
func (m *Manager) Match(vec []float32) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchLocked(vec)
}

func (m *Manager) matchLocked(vec []float32) (string, bool) {
	best, bestSim := -1, m.Threshold()
	for i, e := range m.embs {
		if len(e) != len(vec) {
			continue
		}
		if sim := Cosine(e, vec); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return "", false
	}
	return m.ids[best], true
}

// GetOrAdd returns the speaker id for samples, adding a new speaker when no
// gallery entry matches. Spans shorter than the minimum duration are not
// embedded and inherit the previous speaker. Extraction failures return
// [pipeline.UnknownSpeaker] and do not change the previous speaker.
func (m *Manager) GetOrAdd(ctx context.Context, samples []int16) string {
	if audio.SamplesDuration(len(samples)) < m.cfg.MinDuration {
		m.mu.Lock()
		id := m.last
		m.mu.Unlock()
		m.record(ctx, resultInherit)
		return id
	}

	vec, err := m.Extract(ctx, samples)
	if err != nil {
		slog.Warn("speaker embedding failed", "samples", len(samples), "err", err)
		m.record(ctx, resultUnknown)
		return pipeline.UnknownSpeaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.embs) > 0 && len(vec) != len(m.embs[0]) {
		if m.cfg.Drift == DriftReject {
			slog.Warn("embedding dimensionality differs from gallery, rejecting",
				"gallery_dims", len(m.embs[0]), "dims", len(vec))
			m.record(ctx, resultUnknown)
			return pipeline.UnknownSpeaker
		}
		slog.Warn("embedding dimensionality differs from gallery, rebuilding",
			"gallery_dims", len(m.embs[0]), "dims", len(vec), "discarded", len(m.ids))
		m.gaugeLocked(ctx, -int64(len(m.ids)))
		m.ids, m.embs = nil, nil
		m.freqs = make(map[string]int)
		m.resetPending = true
		if m.metrics != nil {
			m.metrics.GalleryRebuilds.Add(ctx, 1)
		}
	}

	id, ok := m.matchLocked(vec)
	if ok {
		m.freqs[id]++
		m.record(ctx, resultMatch)
	} else {
		id = strconv.Itoa(m.next)
		m.next++
		m.ids = append(m.ids, id)
		m.embs = append(m.embs, vec)
		m.freqs[id] = 1
		m.gaugeLocked(ctx, 1)
		m.record(ctx, resultNew)
		slog.Info("new speaker", "id", id, "speakers", len(m.ids))
		if m.cfg.MaxSpeakers > 0 && len(m.ids) > m.cfg.MaxSpeakers && !m.warnedMax {
			m.warnedMax = true
			slog.Warn("speaker gallery exceeds configured maximum", "speakers", len(m.ids), "max", m.cfg.MaxSpeakers)
		}
	}
	m.last = id
	m.dirty = true
	return id
}

// Save writes the gallery if it changed since the last save. The gallery is
// copied under the lock and written outside it.
func (m *Manager) Save(ctx context.Context) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	if !m.dirty && !m.resetPending {
		m.mu.Unlock()
		return nil
	}
	snap := m.snapshotLocked()
	reset := m.resetPending
	m.dirty, m.resetPending = false, false
	m.mu.Unlock()

	var err error
	if reset {
		err = m.store.Reset(ctx)
	}
	if err == nil {
		err = m.store.Save(ctx, snap)
	}
	if err != nil {
		m.mu.Lock()
		m.dirty = true
		m.resetPending = m.resetPending || reset
		m.mu.Unlock()
		return fmt.Errorf("speaker: save gallery: %w: %w", pipeline.ErrPersistence, err)
	}
	slog.Debug("speaker gallery saved", "speakers", snap.Len())
	return nil
}

// Run saves the gallery every save interval until ctx is cancelled, then
// saves once more.
func (m *Manager) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.SaveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := m.Save(sctx); err != nil {
				slog.Error("final gallery save failed", "err", err)
				return err
			}
			return nil
		case <-t.C:
			if err := m.Save(ctx); err != nil {
				slog.Error("periodic gallery save failed", "err", err)
			}
		}
	}
}

// Reset empties the gallery and clears the store. Issued ids are not reused.
func (m *Manager) Reset(ctx context.Context) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	m.gaugeLocked(ctx, -int64(len(m.ids)))
	m.ids, m.embs = nil, nil
	m.freqs = make(map[string]int)
	m.last = pipeline.UnknownSpeaker
	m.dirty, m.resetPending = false, false
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.store.Reset(ctx); err != nil {
		return fmt.Errorf("speaker: reset gallery: %w: %w", pipeline.ErrPersistence, err)
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("speaker: reset gallery: %w: %w", pipeline.ErrPersistence, err)
	}
	return nil
}

// Snapshot returns a deep copy of the gallery.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Profiles lists known speakers in insertion order.
func (m *Manager) Profiles() []Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Profile, len(m.ids))
	for i, id := range m.ids {
		out[i] = Profile{ID: id, Occurrences: m.freqs[id], Dimensions: len(m.embs[i])}
	}
	return out
}

// Len returns the number of known speakers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{IDs: m.ids, Embeddings: m.embs, Freqs: m.freqs, NextID: m.next}.Clone()
}

func (m *Manager) record(ctx context.Context, result string) {
	if m.metrics != nil {
		m.metrics.RecordSpeakerLookup(ctx, result)
	}
}

func (m *Manager) gaugeLocked(ctx context.Context, delta int64) {
	if m.metrics != nil && delta != 0 {
		m.metrics.GallerySize.Add(ctx, delta)
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector. a and b must have equal length.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

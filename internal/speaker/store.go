package speaker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
)

// ErrCorrupt is returned by stores whose persisted gallery cannot be decoded
// or is internally inconsistent.
var ErrCorrupt = errors.New("speaker: corrupt gallery")

// Snapshot is a point-in-time copy of a gallery: the ordered id list, the
// embedding matrix in the same order and the occurrence counts.
type Snapshot struct {
	IDs        []string
	Embeddings [][]float32
	Freqs      map[string]int

	// NextID is the next id to mint. It survives restarts so ids are never
	// reused, even after a rebuild.
	NextID int
}

// Len returns the number of speakers.
func (s Snapshot) Len() int { return len(s.IDs) }

// Dimensions returns the embedding length, or 0 for an empty gallery.
func (s Snapshot) Dimensions() int {
	if len(s.Embeddings) == 0 {
		return 0
	}
	return len(s.Embeddings[0])
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		IDs:        slices.Clone(s.IDs),
		Embeddings: make([][]float32, len(s.Embeddings)),
		Freqs:      maps.Clone(s.Freqs),
		NextID:     s.NextID,
	}
	for i, e := range s.Embeddings {
		out.Embeddings[i] = slices.Clone(e)
	}
	if out.Freqs == nil {
		out.Freqs = make(map[string]int)
	}
	return out
}

// Validate checks that ids and embeddings line up and share one dimension.
func (s Snapshot) Validate() error {
	if len(s.IDs) != len(s.Embeddings) {
		return fmt.Errorf("%w: %d ids but %d embeddings", ErrCorrupt, len(s.IDs), len(s.Embeddings))
	}
	seen := make(map[string]bool, len(s.IDs))
	for i, id := range s.IDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate id %q", ErrCorrupt, id)
		}
		seen[id] = true
		if len(s.Embeddings[i]) == 0 || len(s.Embeddings[i]) != s.Dimensions() {
			return fmt.Errorf("%w: embedding %d has %d dimensions, want %d", ErrCorrupt, i, len(s.Embeddings[i]), s.Dimensions())
		}
	}
	return nil
}

// nextFree returns the smallest id greater than every numeric id in s and
// not below s.NextID. Ids only present in Freqs count too.
func (s Snapshot) nextFree() int {
	next := max(s.NextID, 1)
	bump := func(id string) {
		if n, err := strconv.Atoi(id); err == nil && n >= next {
			next = n + 1
		}
	}
	for _, id := range s.IDs {
		bump(id)
	}
	for id := range s.Freqs {
		bump(id)
	}
	return next
}

// Store persists galleries. Load on an empty or partially written store
// returns an empty snapshot and no error. Load on a corrupt store returns
// [ErrCorrupt] together with whatever ids and id counter it could still
// decode, so issued ids are never minted again.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Reset(ctx context.Context) error
	Close() error
}

// MemoryStore keeps the gallery in memory. It is used when persistence is
// disabled and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
}

var _ Store = (*MemoryStore)(nil)

// Load returns the last saved snapshot.
func (m *MemoryStore) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return Snapshot{Freqs: map[string]int{}}, nil
	}
	return m.snap.Clone(), nil
}

// Save stores a copy of s.
func (m *MemoryStore) Save(_ context.Context, s Snapshot) error {
	c := s.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &c
	m.saves++
	return nil
}

// Reset forgets the saved snapshot.
func (m *MemoryStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// SaveCount returns the number of Save calls.
func (m *MemoryStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

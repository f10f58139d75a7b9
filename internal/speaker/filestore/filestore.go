// Package filestore persists a speaker gallery as three files in one
// directory: the embedding matrix (embeddings.msgpack), the ordered id list
// with the id counter (mapping.json) and the occurrence counts (freqs.json).
//
// Each file is written to a temporary name and renamed into place. A missing
// file on load means the gallery was never saved, or only partly saved, and
// yields an empty gallery.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/voxscribe/internal/speaker"
)

// File names inside the store directory.
const (
	EmbeddingsFile = "embeddings.msgpack"
	MappingFile    = "mapping.json"
	FreqsFile      = "freqs.json"
)

type mapping struct {
	IDs    []string `json:"ids"`
	NextID int      `json:"next_id"`
}

// Store is a directory-backed [speaker.Store].
type Store struct {
	dir string
}

var _ speaker.Store = (*Store)(nil)

// New returns a Store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Load reads the gallery.
func (s *Store) Load(ctx context.Context) (speaker.Snapshot, error) {
	empty := speaker.Snapshot{Freqs: map[string]int{}}
	if err := ctx.Err(); err != nil {
		return empty, err
	}

	embRaw, err1 := os.ReadFile(s.path(EmbeddingsFile))
	mapRaw, err2 := os.ReadFile(s.path(MappingFile))
	freqRaw, err3 := os.ReadFile(s.path(FreqsFile))
	for _, err := range []error{err1, err2, err3} {
		if errors.Is(err, fs.ErrNotExist) {
			return empty, nil
		}
		if err != nil {
			return empty, fmt.Errorf("filestore: read: %w", err)
		}
	}

	// The mapping and counts are decoded first: they still bound the issued
	// ids when the embedding matrix is unreadable.
	var m mapping
	if err := json.Unmarshal(mapRaw, &m); err != nil {
		partial := empty
		_ = json.Unmarshal(freqRaw, &partial.Freqs)
		return partial, fmt.Errorf("%w: %s: %v", speaker.ErrCorrupt, MappingFile, err)
	}
	snap := speaker.Snapshot{IDs: m.IDs, NextID: m.NextID}
	if err := json.Unmarshal(freqRaw, &snap.Freqs); err != nil {
		snap.Freqs = map[string]int{}
		return snap, fmt.Errorf("%w: %s: %v", speaker.ErrCorrupt, FreqsFile, err)
	}
	if snap.Freqs == nil {
		snap.Freqs = map[string]int{}
	}
	if err := msgpack.Unmarshal(embRaw, &snap.Embeddings); err != nil {
		return snap, fmt.Errorf("%w: %s: %v", speaker.ErrCorrupt, EmbeddingsFile, err)
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}

// Save writes all three files. The mapping is written last so a crash part
// way through leaves either the old gallery or a mismatched one that Load
// rejects.
func (s *Store) Save(ctx context.Context, snap speaker.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create dir: %w", err)
	}

	emb, err := msgpack.Marshal(snap.Embeddings)
	if err != nil {
		return fmt.Errorf("filestore: encode embeddings: %w", err)
	}
	freqs := snap.Freqs
	if freqs == nil {
		freqs = map[string]int{}
	}
	fr, err := json.Marshal(freqs)
	if err != nil {
		return fmt.Errorf("filestore: encode freqs: %w", err)
	}
	ids := snap.IDs
	if ids == nil {
		ids = []string{}
	}
	mp, err := json.MarshalIndent(mapping{IDs: ids, NextID: snap.NextID}, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode mapping: %w", err)
	}

	for _, f := range []struct {
		name string
		data []byte
	}{{EmbeddingsFile, emb}, {FreqsFile, fr}, {MappingFile, mp}} {
		if err := writeAtomic(s.path(f.name), f.data); err != nil {
			return fmt.Errorf("filestore: write %s: %w", f.name, err)
		}
	}
	return nil
}

// Reset removes the gallery files.
func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	for _, name := range []string{MappingFile, EmbeddingsFile, FreqsFile} {
		if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("filestore: reset: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

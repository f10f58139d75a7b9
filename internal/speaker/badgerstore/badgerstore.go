// Package badgerstore persists a speaker gallery in an embedded BadgerDB.
//
// The gallery lives under three keys written in one transaction, so a save
// is all-or-nothing. Values are msgpack encoded.
package badgerstore

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/voxscribe/internal/speaker"
)

var (
	keyEmbeddings = []byte("gallery/embeddings")
	keyIDs        = []byte("gallery/ids")
	keyFreqs      = []byte("gallery/freqs")
)

type idRecord struct {
	IDs    []string `msgpack:"ids"`
	NextID int      `msgpack:"next_id"`
}

// Options configures Open.
type Options struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps the database in memory only.
	InMemory bool
}

// Store is a BadgerDB-backed [speaker.Store].
type Store struct {
	db *badger.DB
}

var _ speaker.Store = (*Store)(nil)

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerstore: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(silentLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", opts.Dir, err)
	}
	return &Store{db: db}, nil
}

// Load reads the gallery. Missing keys yield an empty gallery.
func (s *Store) Load(context.Context) (speaker.Snapshot, error) {
	empty := speaker.Snapshot{Freqs: map[string]int{}}
	var emb, ids, freqs []byte
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if emb, err = get(txn, keyEmbeddings); err != nil {
			return err
		}
		if ids, err = get(txn, keyIDs); err != nil {
			return err
		}
		freqs, err = get(txn, keyFreqs)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return empty, nil
	}
	if err != nil {
		return empty, fmt.Errorf("badgerstore: load: %w", err)
	}

	var rec idRecord
	if err := msgpack.Unmarshal(ids, &rec); err != nil {
		partial := empty
		_ = msgpack.Unmarshal(freqs, &partial.Freqs)
		return partial, fmt.Errorf("%w: ids: %v", speaker.ErrCorrupt, err)
	}
	snap := speaker.Snapshot{IDs: rec.IDs, NextID: rec.NextID}
	if err := msgpack.Unmarshal(freqs, &snap.Freqs); err != nil {
		snap.Freqs = map[string]int{}
		return snap, fmt.Errorf("%w: freqs: %v", speaker.ErrCorrupt, err)
	}
	if snap.Freqs == nil {
		snap.Freqs = map[string]int{}
	}
	if err := msgpack.Unmarshal(emb, &snap.Embeddings); err != nil {
		return snap, fmt.Errorf("%w: embeddings: %v", speaker.ErrCorrupt, err)
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}

// Save writes the gallery in one transaction.
func (s *Store) Save(_ context.Context, snap speaker.Snapshot) error {
	emb, err := msgpack.Marshal(snap.Embeddings)
	if err != nil {
		return fmt.Errorf("badgerstore: encode embeddings: %w", err)
	}
	ids, err := msgpack.Marshal(idRecord{IDs: snap.IDs, NextID: snap.NextID})
	if err != nil {
		return fmt.Errorf("badgerstore: encode ids: %w", err)
	}
	freqs, err := msgpack.Marshal(snap.Freqs)
	if err != nil {
		return fmt.Errorf("badgerstore: encode freqs: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyEmbeddings, emb); err != nil {
			return err
		}
		if err := txn.Set(keyIDs, ids); err != nil {
			return err
		}
		return txn.Set(keyFreqs, freqs)
	})
	if err != nil {
		return fmt.Errorf("badgerstore: save: %w", err)
	}
	return nil
}

// Reset deletes the gallery keys.
func (s *Store) Reset(context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{keyEmbeddings, keyIDs, keyFreqs} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badgerstore: reset: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func get(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// silentLogger drops badger's internal logging.
type silentLogger struct{}

func (silentLogger) Errorf(string, ...any)   {}
func (silentLogger) Warningf(string, ...any) {}
func (silentLogger) Infof(string, ...any)    {}
func (silentLogger) Debugf(string, ...any)   {}

var _ badger.Logger = silentLogger{}

// Package pgstore persists a speaker gallery in PostgreSQL using the pgvector
// extension for the embedding column.
//
// The embedding column is an unconstrained vector so a gallery rebuilt at a
// new dimensionality fits the same table. Save replaces the whole gallery in
// one transaction.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxscribe/internal/speaker"
)

const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS speaker_profiles (
    id         TEXT         PRIMARY KEY,
    ordinal    INT          NOT NULL,
    embedding  vector       NOT NULL,
    freq       INT          NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_speaker_profiles_ordinal ON speaker_profiles (ordinal);

CREATE TABLE IF NOT EXISTS speaker_gallery (
    singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    next_id   INT     NOT NULL
);
`

// Migrate creates the gallery tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed [speaker.Store].
type Store struct {
	pool  *pgxpool.Pool
	owned bool
}

var _ speaker.Store = (*Store)(nil)

// Open connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, owned: true}, nil
}

// New wraps an existing pool. The pool must have pgvector types registered
// and the schema migrated. Close does not close a borrowed pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Load reads the gallery in ordinal order.
func (s *Store) Load(ctx context.Context) (speaker.Snapshot, error) {
	empty := speaker.Snapshot{Freqs: map[string]int{}}
	snap := speaker.Snapshot{Freqs: map[string]int{}}

	err := s.pool.QueryRow(ctx, `SELECT next_id FROM speaker_gallery`).Scan(&snap.NextID)
	if errors.Is(err, pgx.ErrNoRows) {
		return empty, nil
	}
	if err != nil {
		return empty, fmt.Errorf("pgstore: load counter: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT id, embedding, freq FROM speaker_profiles ORDER BY ordinal`)
	if err != nil {
		return empty, fmt.Errorf("pgstore: load profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   string
			vec  pgvector.Vector
			freq int
		)
		if err := rows.Scan(&id, &vec, &freq); err != nil {
			return empty, fmt.Errorf("pgstore: scan profile: %w", err)
		}
		snap.IDs = append(snap.IDs, id)
		snap.Embeddings = append(snap.Embeddings, vec.Slice())
		snap.Freqs[id] = freq
	}
	if err := rows.Err(); err != nil {
		return empty, fmt.Errorf("pgstore: iterate profiles: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return empty, err
	}
	return snap, nil
}

// Save replaces the stored gallery with snap.
func (s *Store) Save(ctx context.Context, snap speaker.Snapshot) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM speaker_profiles`); err != nil {
			return fmt.Errorf("pgstore: clear profiles: %w", err)
		}
		batch := &pgx.Batch{}
		for i, id := range snap.IDs {
			freq := max(snap.Freqs[id], 1)
			batch.Queue(`INSERT INTO speaker_profiles (id, ordinal, embedding, freq) VALUES ($1, $2, $3, $4)`,
				id, i, pgvector.NewVector(snap.Embeddings[i]), freq)
		}
		batch.Queue(`INSERT INTO speaker_gallery (singleton, next_id) VALUES (TRUE, $1)
			ON CONFLICT (singleton) DO UPDATE SET next_id = EXCLUDED.next_id`, snap.NextID)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("pgstore: write gallery: %w", err)
		}
		return nil
	})
}

// Reset deletes the stored gallery.
func (s *Store) Reset(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM speaker_profiles`); err != nil {
			return fmt.Errorf("pgstore: reset profiles: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM speaker_gallery`); err != nil {
			return fmt.Errorf("pgstore: reset counter: %w", err)
		}
		return nil
	})
}

// Close closes the pool if the Store opened it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxscribe/internal/pipeline"
)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id          TEXT         PRIMARY KEY,
    case_id     TEXT         NOT NULL,
    speaker_id  TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    spoken_at   TIMESTAMPTZ  NOT NULL,
    duration_ns BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_utterances_case_spoken ON utterances (case_id, spoken_at);
`

// Execer is the subset of a pgx pool the postgres sink needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends utterances to the utterances table.
type PostgresSink struct {
	db    Execer
	close func()
}

var _ Sink = (*PostgresSink)(nil)

// OpenPostgres connects to dsn and creates the utterances table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	s := NewPostgresSink(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.close = pool.Close
	return s, nil
}

// NewPostgresSink wraps db. Close does not close db.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate creates the utterances table if needed.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, ddlUtterances); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Write inserts u. Re-delivery of the same id is ignored.
func (s *PostgresSink) Write(ctx context.Context, u pipeline.Utterance) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO utterances (id, case_id, speaker_id, text, spoken_at, duration_ns)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		u.ID, u.CaseID, u.Speaker, u.Text, u.Timestamp, int64(u.Duration))
	if err != nil {
		return fmt.Errorf("history: insert utterance: %w: %w", pipeline.ErrPersistence, err)
	}
	return nil
}

// Close releases the pool when the sink opened it.
func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/voxscribe/internal/pipeline"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "voxscribe:utterances"

// StreamAdder is the subset of a redis client the stream sink needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends utterances to a redis stream.
type RedisSink struct {
	client StreamAdder
	stream string
	maxLen int64
	close  func() error
}

var _ Sink = (*RedisSink)(nil)

// OpenRedis connects to the redis server at url (redis://host:port/db).
func OpenRedis(ctx context.Context, url, stream string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("history: parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("history: redis ping: %w", err)
	}
	s := NewRedisSink(c, stream)
	s.close = c.Close
	return s, nil
}

// NewRedisSink wraps client. An empty stream uses [DefaultStream]. The
// stream is trimmed to roughly 100000 entries.
func NewRedisSink(client StreamAdder, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: 100000}
}

// Stream returns the stream key.
func (s *RedisSink) Stream() string { return s.stream }

// Write adds u to the stream.
func (s *RedisSink) Write(ctx context.Context, u pipeline.Utterance) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":        u.ID,
			"case_id":   u.CaseID,
			"speaker":   u.Speaker,
			"text":      u.Text,
			"timestamp": u.Timestamp.UTC().Format(time.RFC3339Nano),
			"duration":  u.Duration.Milliseconds(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("history: xadd: %w: %w", pipeline.ErrPersistence, err)
	}
	return nil
}

// Close closes the client when the sink opened it.
func (s *RedisSink) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

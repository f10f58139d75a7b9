package history_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/voxscribe/internal/history"
	"github.com/MrWong99/voxscribe/internal/pipeline"
)

type recordingSink struct {
	mu     sync.Mutex
	got    []pipeline.Utterance
	err    error
	closed bool
}

func (r *recordingSink) Write(_ context.Context, u pipeline.Utterance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, u)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func (r *recordingSink) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, u := range r.got {
		out = append(out, u.Text)
	}
	return out
}

type recordingPublisher struct{ recordingSink }

func (p *recordingPublisher) PublishUtterance(ctx context.Context, u pipeline.Utterance) {
	_ = p.Write(ctx, u)
}

func TestPump_DeliversInOrder(t *testing.T) {
	t.Parallel()
	pub := &recordingPublisher{}
	failing := &recordingSink{err: errors.New("down")}
	ok := &recordingSink{}
	p := history.NewPump(pub, failing, ok)

	ch := make(chan pipeline.Utterance, 3)
	for _, s := range []string{"one", "two", "three"} {
		ch <- pipeline.Utterance{Text: s}
	}
	close(ch)
	if err := p.Run(context.Background(), ch); err != nil {
		t.Fatal(err)
	}

	want := "one two three"
	for name, got := range map[string][]string{"publisher": pub.texts(), "failing": failing.texts(), "ok": ok.texts()} {
		if strings.Join(got, " ") != want {
			t.Errorf("%s got %v", name, got)
		}
	}
	if err := p.Close(); err != nil || !ok.closed || !failing.closed {
		t.Errorf("Close = %v", err)
	}
}

func TestPump_DrainsOnCancel(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	p := history.NewPump(nil, sink)

	ch := make(chan pipeline.Utterance, 2)
	ch <- pipeline.Utterance{Text: "a"}
	ch <- pipeline.Utterance{Text: "b"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, ch) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if got := sink.texts(); len(got) != 2 {
		t.Errorf("delivered %v, want both queued utterances", got)
	}
}

type fakeExec struct {
	sql  []string
	args [][]any
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPostgresSink(t *testing.T) {
	t.Parallel()
	db := &fakeExec{}
	s := history.NewPostgresSink(db)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	u := pipeline.Utterance{ID: "id-1", Speaker: "3", Text: "hi", CaseID: "case", Duration: 2 * time.Second}
	if err := s.Write(ctx, u); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(db.sql[0], "CREATE TABLE IF NOT EXISTS utterances") {
		t.Errorf("migrate sql = %q", db.sql[0])
	}
	args := db.args[1]
	if args[0] != "id-1" || args[1] != "case" || args[2] != "3" || args[3] != "hi" || args[5] != int64(2*time.Second) {
		t.Errorf("insert args = %v", args)
	}

	db.err = errors.New("conn refused")
	if err := s.Write(ctx, u); !errors.Is(err, pipeline.ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("1-0")
	}
	return cmd
}

func TestRedisSink(t *testing.T) {
	t.Parallel()
	client := &fakeStream{}
	s := history.NewRedisSink(client, "")
	ctx := context.Background()

	if s.Stream() != history.DefaultStream {
		t.Errorf("Stream = %q", s.Stream())
	}
	u := pipeline.Utterance{ID: "x", Speaker: "1", Text: "hello", CaseID: "c"}
	if err := s.Write(ctx, u); err != nil {
		t.Fatal(err)
	}
	a := client.args[0]
	vals := a.Values.(map[string]any)
	if a.Stream != history.DefaultStream || vals["text"] != "hello" || vals["speaker"] != "1" {
		t.Errorf("XAdd args = %+v", a)
	}

	client.err = errors.New("READONLY")
	if err := s.Write(ctx, u); !errors.Is(err, pipeline.ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

func TestPump_DoesNotLogText(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ch := make(chan pipeline.Utterance, 1)
	ch <- pipeline.Utterance{ID: "u1", Speaker: "1", Text: "patient reports chest pain"}
	close(ch)
	if err := history.NewPump(nil, &recordingSink{}).Run(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "chest pain") {
		t.Errorf("utterance text leaked into logs: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "id=u1") {
		t.Errorf("delivery not logged: %s", buf.String())
	}
}

package feed_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxscribe/internal/feed"
	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/pkg/audio"
)

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// waitClients polls until the hub has n clients of kind k.
func waitClients(t *testing.T, h *feed.Hub, k feed.Kind, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients(k) != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients(%s) = %d, want %d", k, h.Clients(k), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUtteranceFeed(t *testing.T) {
	t.Parallel()
	h := feed.NewHub()
	srv := httptest.NewServer(h.Handler(feed.KindUtterances))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)
	waitClients(t, h, feed.KindUtterances, 1)

	want := pipeline.Utterance{ID: "u1", Speaker: "2", Text: "hello there", CaseID: "c"}
	h.PublishUtterance(ctx, want)
	h.PublishPreview(ctx, audio.Block{Samples: []int16{1, 2}})

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageText {
		t.Errorf("type = %v, want text", typ)
	}
	var got pipeline.Utterance
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != want.ID || got.Speaker != want.Speaker || got.Text != want.Text {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPreviewFeed(t *testing.T) {
	t.Parallel()
	h := feed.NewHub()
	srv := httptest.NewServer(h.Handler(feed.KindPreview))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)
	waitClients(t, h, feed.KindPreview, 1)

	blocks := make(chan audio.Block, 1)
	blocks <- audio.Block{Samples: []int16{1, -1, 300}}
	close(blocks)
	if err := h.RunPreview(ctx, blocks); err != nil {
		t.Fatal(err)
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageBinary {
		t.Errorf("type = %v, want binary", typ)
	}
	got := audio.PCMToSamples(data)
	if len(got) != 3 || got[0] != 1 || got[1] != -1 || got[2] != 300 {
		t.Errorf("samples = %v", got)
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	t.Parallel()
	h := feed.NewHub()
	srv := httptest.NewServer(h.Handler(feed.KindUtterances))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)
	waitClients(t, h, feed.KindUtterances, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitClients(t, h, feed.KindUtterances, 0)
}

func TestPublishWithoutClients(t *testing.T) {
	t.Parallel()
	h := feed.NewHub(feed.WithClientQueue(1))
	h.PublishUtterance(context.Background(), pipeline.Utterance{Text: "x"})
	h.PublishPreview(context.Background(), audio.Block{})
}

package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxscribe/internal/pipeline"
	"github.com/MrWong99/voxscribe/internal/spool"
	"github.com/MrWong99/voxscribe/internal/supervisor"
	"github.com/MrWong99/voxscribe/internal/worker"
	"github.com/MrWong99/voxscribe/pkg/audio"
	capmock "github.com/MrWong99/voxscribe/pkg/provider/capture/mock"
	"github.com/MrWong99/voxscribe/pkg/provider/enhance"
	vadmock "github.com/MrWong99/voxscribe/pkg/provider/vad/mock"
)

func passthrough() (enhance.Engine, error) { return &enhance.Passthrough{}, nil }

func speechOnNonZero() *vadmock.Engine {
	return &vadmock.Engine{Session: &vadmock.Session{SpeechFunc: func(f []int16) bool { return f[0] != 0 }}}
}

func block(v int16) []int16 {
	b := make([]int16, 1600)
	for i := range b {
		b[i] = v
	}
	return b
}

type harness struct {
	src    *capmock.Source
	bundle *worker.Bundle
	cancel context.CancelFunc
	done   chan error
}

func startWorker(t *testing.T, cfg Config, src *capmock.Source) *harness {
	t.Helper()
	b := worker.NewBundle(worker.BundleConfig{PreviewQueue: 4})
	w := New(cfg, src, passthrough, speechOnNonZero())
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{src: src, bundle: b, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- w.Run(ctx, b) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("worker did not exit")
		}
	})
	return h
}

func waitDevice(t *testing.T, opened <-chan *capmock.Device) *capmock.Device {
	t.Helper()
	select {
	case d := <-opened:
		select {
		case <-d.Started():
		case <-time.After(2 * time.Second):
			t.Fatal("device not started")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("device not opened")
	}
	return nil
}

func waitCleared(t *testing.T, b *worker.Bundle) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if start, stop := b.Signals.State(); !start && !stop {
			return
		}
		select {
		case <-deadline:
			t.Fatal("signals were not acknowledged")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWorker_SessionProducesSegments(t *testing.T) {
	src := &capmock.Source{}
	opened := src.Opened()
	h := startWorker(t, Config{}, src)

	h.bundle.Signals.RequestStart()
	dev := waitDevice(t, opened)

	for range 5 {
		dev.Emit(block(1000)) // 50 speech frames
	}
	for range 3 {
		dev.Emit(block(0)) // 30 silence frames
	}

	var got []audio.Segment
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case s := <-h.bundle.Segments:
			got = append(got, s)
		case <-deadline:
			t.Fatalf("got %d segments, want 2", len(got))
		}
	}
	if got[0].Final || len(got[0].Samples) != 8000 {
		t.Errorf("first segment final=%v samples=%d, want non-final 8000", got[0].Final, len(got[0].Samples))
	}
	if !got[1].Final {
		t.Error("second segment is not final")
	}

	h.bundle.Signals.RequestStop()
	waitCleared(t, h.bundle)
	if dev.Stops() == 0 {
		t.Error("device was not stopped")
	}

	// The worker returns to waiting and serves the next start.
	h.bundle.Signals.RequestStart()
	waitDevice(t, opened)
	if src.OpenCount() != 2 {
		t.Errorf("devices opened = %d, want 2", src.OpenCount())
	}
}

func TestWorker_StopClosesOpenUtterance(t *testing.T) {
	src := &capmock.Source{}
	opened := src.Opened()
	h := startWorker(t, Config{}, src)

	h.bundle.Signals.RequestStart()
	dev := waitDevice(t, opened)
	dev.Emit(block(500))
	dev.Emit(block(500))
	h.bundle.Signals.RequestStop()

	select {
	case s := <-h.bundle.Segments:
		if !s.Final || len(s.Samples) != 3200 {
			t.Errorf("segment final=%v samples=%d, want final 3200", s.Final, len(s.Samples))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no final segment after stop")
	}
}

func TestWorker_OpenFailureIsDeviceError(t *testing.T) {
	src := &capmock.Source{OpenErr: errors.New("no microphone")}
	b := worker.NewBundle(worker.BundleConfig{})
	w := New(Config{}, src, passthrough, speechOnNonZero())

	b.Signals.RequestStart()
	err := w.Run(context.Background(), b)
	if !errors.Is(err, pipeline.ErrDevice) {
		t.Fatalf("Run = %v, want ErrDevice", err)
	}
	if start, stop := b.Signals.State(); start || stop {
		t.Error("signals not cleared after device failure")
	}
}

func TestWorker_StartFailureIsDeviceError(t *testing.T) {
	src := &capmock.Source{StartErr: errors.New("busy")}
	b := worker.NewBundle(worker.BundleConfig{})
	w := New(Config{}, src, passthrough, speechOnNonZero())

	b.Signals.RequestStart()
	if err := w.Run(context.Background(), b); !errors.Is(err, pipeline.ErrDevice) {
		t.Fatalf("Run = %v, want ErrDevice", err)
	}
}

func TestWorker_PreviewGetsCopies(t *testing.T) {
	src := &capmock.Source{}
	opened := src.Opened()
	h := startWorker(t, Config{}, src)

	h.bundle.Signals.RequestStart()
	dev := waitDevice(t, opened)

	buf := block(7)
	dev.Emit(buf)
	buf[0] = -1

	select {
	case p := <-h.bundle.Preview:
		if p.Samples[0] != 7 {
			t.Errorf("preview sample = %d, want 7", p.Samples[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no preview block")
	}

	// Overfilling the lossy preview never blocks the device.
	done := make(chan struct{})
	go func() {
		for range 20 {
			dev.Emit(block(0))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("device callback blocked on a full preview channel")
	}
}

func TestWorker_SpoolsOnStop(t *testing.T) {
	dir := t.TempDir()
	src := &capmock.Source{}
	opened := src.Opened()
	h := startWorker(t, Config{Spool: spool.Config{Dir: dir}}, src)
	h.bundle.Case.Set("c9")

	h.bundle.Signals.RequestStart()
	dev := waitDevice(t, opened)
	dev.Emit(block(300))
	h.bundle.Signals.RequestStop()
	waitCleared(t, h.bundle)

	files, err := filepath.Glob(filepath.Join(dir, "wav", "c9", "c9_*.wav"))
	if err != nil || len(files) != 1 {
		t.Fatalf("spool files = %v (err %v), want 1", files, err)
	}
	info, err := os.Stat(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(44 + 1600*2); info.Size() != want {
		t.Errorf("file size = %d, want %d", info.Size(), want)
	}
}

func TestHandoff_DropsWhenFull(t *testing.T) {
	t.Parallel()
	h := newHandoff(1, nil, nil)
	for range 3 {
		h.deliver(audio.Block{Samples: []int16{1, 2}})
	}
	if len(h.work) != 1 {
		t.Errorf("queued = %d, want 1", len(h.work))
	}
	if h.drops != 2 {
		t.Errorf("drops = %d, want 2", h.drops)
	}

	h.close()
	h.close()
	h.deliver(audio.Block{Samples: []int16{3}})
	if n := len(h.work); n != 1 {
		t.Errorf("queued after close = %d, want 1", n)
	}
}

func TestWorker_SegmenterPanicIsWorkerCrash(t *testing.T) {
	src := &capmock.Source{}
	opened := src.Opened()
	b := worker.NewBundle(worker.BundleConfig{PreviewQueue: 4})
	panicky := &vadmock.Engine{Session: &vadmock.Session{SpeechFunc: func([]int16) bool { panic("vad boom") }}}
	w := New(Config{}, src, passthrough, panicky)

	h := worker.Start(context.Background(), Name, w.Run, b)
	t.Cleanup(func() { _ = h.Terminate(2 * time.Second) })

	b.Signals.RequestStart()
	dev := waitDevice(t, opened)
	dev.Emit(block(1000))

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker kept running after the segmenter panicked")
	}
	if err := h.Err(); !errors.Is(err, pipeline.ErrWorkerCrash) {
		t.Errorf("worker err = %v, want ErrWorkerCrash", err)
	}
	if dev.Stops() == 0 {
		t.Error("device was not stopped")
	}
	if start, stop := b.Signals.State(); start || stop {
		t.Error("signals not cleared after crash")
	}
}

func TestWorker_EnhancerPanicRestartedBySupervisor(t *testing.T) {
	src := &capmock.Source{}
	opened := src.Opened()
	b := worker.NewBundle(worker.BundleConfig{PreviewQueue: 4})

	var sessions atomic.Int32
	newEnhancer := func() (enhance.Engine, error) {
		if sessions.Add(1) == 1 {
			return panickingEnhancer{}, nil
		}
		return &enhance.Passthrough{}, nil
	}
	w := New(Config{}, src, newEnhancer, speechOnNonZero())

	sup := supervisor.New(supervisor.Config{PollInterval: 10 * time.Millisecond, JoinTimeout: time.Second}, b)
	sup.Register(Name, w.Run)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sup.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	b.Signals.RequestStart()
	dev := waitDevice(t, opened)
	dev.Emit(block(1000))
	waitCleared(t, b)

	// The restarted worker serves the next start normally.
	b.Signals.RequestStart()
	dev = waitDevice(t, opened)
	for range 5 {
		dev.Emit(block(1000))
	}
	for range 3 {
		dev.Emit(block(0))
	}
	select {
	case s := <-b.Segments:
		if len(s.Samples) == 0 {
			t.Error("empty segment after restart")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no segment from the restarted worker")
	}
	if got := sessions.Load(); got != 2 {
		t.Errorf("enhancer sessions = %d, want 2", got)
	}
}

type panickingEnhancer struct{}

func (panickingEnhancer) Process(_, _ []int16) []int16 { panic("enhancer boom") }

func (panickingEnhancer) Close() error { return nil }

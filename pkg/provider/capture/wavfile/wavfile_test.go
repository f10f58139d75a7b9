package wavfile_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/capture"
	"github.com/MrWong99/voxscribe/pkg/provider/capture/wavfile"
)

func writeWAV(t *testing.T, samples []int16, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(samples, rate), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDevice_DeliversAllBlocks(t *testing.T) {
	t.Parallel()
	samples := make([]int16, 4000)
	for i := range samples {
		samples[i] = int16(i)
	}
	src, err := wavfile.New(writeWAV(t, samples, 16000), wavfile.WithRealtime(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dev, err := src.Open(capture.Config{BlockSize: 1600})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var (
		mu     sync.Mutex
		blocks [][]int16
	)
	if err := dev.Start(func(b audio.Block) {
		mu.Lock()
		blocks = append(blocks, audio.Clone(b.Samples))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-dev.(*wavfile.Device).Done():
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not finish")
	}
	_ = dev.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	for i, b := range blocks {
		if len(b) != 1600 {
			t.Errorf("block %d: len = %d, want 1600", i, len(b))
		}
	}
	if blocks[1][0] != 1600 {
		t.Errorf("block 1 starts at %d, want 1600", blocks[1][0])
	}
	// The last block is zero-padded past end of file.
	if blocks[2][799] != 3999 || blocks[2][800] != 0 {
		t.Errorf("tail block not padded: [799]=%d [800]=%d", blocks[2][799], blocks[2][800])
	}
}

func TestDevice_StopHaltsRealtimePlayback(t *testing.T) {
	t.Parallel()
	src, _ := wavfile.New(writeWAV(t, make([]int16, 16000*60), 16000))
	dev, err := src.Open(capture.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := dev.Start(func(audio.Block) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := dev.Start(func(audio.Block) {}); err != capture.ErrAlreadyStarted {
		t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
	}

	stopped := make(chan struct{})
	go func() {
		_ = dev.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	if err := dev.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()
	src, _ := wavfile.New(filepath.Join(t.TempDir(), "missing.wav"))
	if _, err := src.Open(capture.Config{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package audio_test

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

func TestPCMRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.PCMToSamples(audio.SamplesToPCM(in))
	if !slices.Equal(got, in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
}

func TestPCMToSamples_OddByteIgnored(t *testing.T) {
	if got := audio.PCMToSamples([]byte{1, 0, 7}); len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestDownmix(t *testing.T) {
	got := audio.Downmix([]int16{100, 200, -100, -200, 32767, 32767}, 2)
	want := []int16{150, -150, 32767}
	if !slices.Equal(got, want) {
		t.Errorf("Downmix = %v, want %v", got, want)
	}
}

func TestResampleMono(t *testing.T) {
	t.Run("same rate returns input", func(t *testing.T) {
		in := []int16{1, 2, 3}
		if got := audio.ResampleMono(in, 16000, 16000); &got[0] != &in[0] {
			t.Error("expected the input slice back")
		}
	})
	t.Run("downsample halves length", func(t *testing.T) {
		in := make([]int16, 480)
		if got := audio.ResampleMono(in, 48000, 16000); len(got) != 160 {
			t.Errorf("len = %d, want 160", len(got))
		}
	})
	t.Run("upsample interpolates", func(t *testing.T) {
		got := audio.ResampleMono([]int16{0, 100}, 8000, 16000)
		want := []int16{0, 50, 100, 100}
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}

func TestFitFrame(t *testing.T) {
	if got := audio.FitFrame([]int16{1, 2}, 4); !slices.Equal(got, []int16{1, 2, 0, 0}) {
		t.Errorf("pad: got %v", got)
	}
	if got := audio.FitFrame([]int16{1, 2, 3, 4, 5}, 3); !slices.Equal(got, []int16{1, 2, 3}) {
		t.Errorf("truncate: got %v", got)
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	if got := audio.RMS([]int16{100, -100, 100, -100}); got != 100 {
		t.Errorf("RMS = %v, want 100", got)
	}
}

func TestClamp16(t *testing.T) {
	if audio.Clamp16(1e6) != 32767 || audio.Clamp16(-1e6) != -32768 || audio.Clamp16(12.9) != 12 {
		t.Error("Clamp16 did not saturate")
	}
}

func TestDurations(t *testing.T) {
	if d := audio.SamplesDuration(16000); d.Seconds() != 1 {
		t.Errorf("SamplesDuration(16000) = %v", d)
	}
	if n := audio.DurationSamples(audio.FrameDuration); n != audio.FrameSamples {
		t.Errorf("DurationSamples(10ms) = %d, want %d", n, audio.FrameSamples)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := []int16{0, 500, -500, 32767, -32768}
	got, info, err := audio.DecodeWAV(bytes.NewReader(audio.EncodeWAV(in, 16000)))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("info = %+v", info)
	}
	if !slices.Equal(got, in) {
		t.Errorf("samples = %v, want %v", got, in)
	}
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	_, _, err := audio.DecodeWAV(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00JUNKxxxx")))
	if !errors.Is(err, audio.ErrUnsupportedWAV) {
		t.Errorf("err = %v, want ErrUnsupportedWAV", err)
	}
}

func TestFramer(t *testing.T) {
	f := audio.NewFramer(4)
	var frames []audio.Frame
	emit := func(fr audio.Frame) { frames = append(frames, fr) }

	f.Push([]int16{1, 2, 3, 4, 5, 6}, emit)
	if len(frames) != 1 || f.Pending() != 2 {
		t.Fatalf("after first push: %d frames, %d pending", len(frames), f.Pending())
	}
	f.Push([]int16{7, 8, 9, 10}, emit)
	if len(frames) != 2 {
		t.Fatalf("after second push: %d frames", len(frames))
	}
	if !slices.Equal(frames[1].Samples, []int16{5, 6, 7, 8}) {
		t.Errorf("carried frame = %v", frames[1].Samples)
	}
	if frames[0].Seq != 0 || frames[1].Seq != 1 {
		t.Errorf("seq = %d,%d", frames[0].Seq, frames[1].Seq)
	}

	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("Pending after Reset = %d", f.Pending())
	}
}

func TestClone_OwnsMemory(t *testing.T) {
	in := []int16{1, 2, 3}
	out := audio.Clone(in)
	in[0] = 99
	if out[0] != 1 {
		t.Error("Clone shares memory with its input")
	}
	if audio.Clone(nil) != nil {
		t.Error("Clone(nil) should be nil")
	}
}

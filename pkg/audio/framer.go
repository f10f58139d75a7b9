package audio

// Framer re-chunks arbitrarily sized capture blocks into fixed [Frame]s,
// carrying any remainder over to the next call. A Framer is owned by a single
// goroutine.
type Framer struct {
	size  int
	carry []int16
	seq   uint64
}

// NewFramer returns a Framer producing frames of size samples. A non-positive
// size defaults to [FrameSamples].
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSamples
	}
	return &Framer{size: size}
}

// Push appends block to the carried remainder and calls emit for every
// complete frame, in order. Each emitted frame owns its samples.
func (f *Framer) Push(block []int16, emit func(Frame)) {
	buf := append(f.carry, block...)
	off := 0
	for ; off+f.size <= len(buf); off += f.size {
		emit(Frame{Samples: Clone(buf[off : off+f.size]), Seq: f.seq})
		f.seq++
	}
	f.carry = append(f.carry[:0:0], buf[off:]...)
}

// Pending reports how many samples are waiting for the next frame.
func (f *Framer) Pending() int { return len(f.carry) }

// Reset drops the carried remainder and restarts frame numbering.
func (f *Framer) Reset() {
	f.carry = nil
	f.seq = 0
}

package framesource

import "sync"

// frameBuffer holds the most recent frame written by the reader goroutine.
// Writes never block; a frame not yet taken is overwritten and counted as
// dropped.
type frameBuffer struct {
	mu      sync.Mutex
	latest  []byte
	spare   []byte
	seq     uint64
	taken   uint64
	dropped uint64
	notify  chan struct{}
}

func newFrameBuffer(frameSize int) *frameBuffer {
	return &frameBuffer{
		latest: make([]byte, frameSize),
		spare:  make([]byte, frameSize),
		notify: make(chan struct{}, 1),
	}
}

// writeBuffer returns the buffer the next frame should be read into. Only
// the single writer may call it, and must follow up with commit.
func (b *frameBuffer) writeBuffer() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spare
}

// commit publishes the buffer obtained from writeBuffer.
func (b *frameBuffer) commit() {
	b.mu.Lock()
	if b.seq > b.taken {
		b.dropped++
	}
	b.latest, b.spare = b.spare, b.latest
	b.seq++
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// take copies the latest frame into dst if one arrived since the last take.
func (b *frameBuffer) take(dst []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq == b.taken {
		return false
	}
	copy(dst, b.latest)
	b.taken = b.seq
	return true
}

func (b *frameBuffer) stats() (frames, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq, b.dropped
}

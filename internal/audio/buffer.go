package audio

import (
	"io"
	"sync"
)

// Buffer is a byte queue between a producer that must never block (a device
// callback or a pump goroutine) and a reader. When limit is set the oldest
// whole frames are dropped on overflow.
type Buffer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	data      []byte
	closed    bool
	limit     int
	frameSize int
	dropped   int
}

// NewBuffer creates a Buffer. limit <= 0 means unbounded.
func NewBuffer(limit, frameSize int) *Buffer {
	if frameSize <= 0 {
		frameSize = 2
	}
	b := &Buffer{limit: limit, frameSize: frameSize}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, io.ErrClosedPipe
	}

	b.data = append(b.data, p...)
	if b.limit > 0 && len(b.data) > b.limit {
		over := len(b.data) - b.limit
		if rem := over % b.frameSize; rem != 0 {
			over += b.frameSize - rem
		}
		if over > len(b.data) {
			over = len(b.data)
		}
		n := copy(b.data, b.data[over:])
		b.data = b.data[:n]
		b.dropped += over
	}
	b.cond.Broadcast()
	return len(p), nil
}

// Read blocks until data is available. After Close the remaining bytes are
// drained and then io.EOF is returned.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}

	n := copy(p, b.data)
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
	return n, nil
}

// ReadAvailable copies as many whole frames as are buffered into p without
// blocking.
func (b *Buffer) ReadAvailable(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(p), len(b.data))
	n -= n % b.frameSize
	copy(p, b.data[:n])
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
	return n
}

// Closed reports whether Close was called
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Dropped returns the number of bytes discarded on overflow
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
	return nil
}

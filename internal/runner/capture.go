package runner

import (
	"fmt"
	"sync"
)

// DefaultMaxOutputBytes bounds each captured stream.
const DefaultMaxOutputBytes = 200 * 1024

// CaptureBuffer is a bounded output sink. Once the limit is reached a
// truncation marker is appended and every later write becomes a no-op,
// so runaway output cannot exhaust memory.
type CaptureBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

// NewCaptureBuffer creates a buffer bounded at max bytes. Non-positive
// max falls back to DefaultMaxOutputBytes.
func NewCaptureBuffer(max int) *CaptureBuffer {
	if max <= 0 {
		max = DefaultMaxOutputBytes
	}
	return &CaptureBuffer{max: max}
}

// Write implements io.Writer. It always reports the full input length
// as written so producers keep running after truncation.
func (b *CaptureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return len(p), nil
	}

	available := b.max - len(b.buf)
	if len(p) > available {
		b.buf = append(b.buf, p[:available]...)
		b.buf = append(b.buf, fmt.Sprintf("\n[OUTPUT TRUNCATED at %d bytes]\n", b.max)...)
		b.truncated = true
		return len(p), nil
	}

	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the captured content, including the truncation marker
// when the limit was hit.
func (b *CaptureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Truncated reports whether the buffer hit its limit.
func (b *CaptureBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

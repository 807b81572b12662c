package runner

import (
	"bytes"
	"strings"
	"testing"
)

func TestCaptureBufferUnderLimit(t *testing.T) {
	b := NewCaptureBuffer(1024)
	n, err := b.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if b.String() != "hello" {
		t.Errorf("String() = %q", b.String())
	}
	if b.Truncated() {
		t.Error("buffer reports truncation under limit")
	}
}

func TestCaptureBufferTruncation(t *testing.T) {
	const limit = 200 * 1024
	b := NewCaptureBuffer(limit)

	// 250 KiB into a 200 KiB buffer.
	payload := bytes.Repeat([]byte("x"), 250*1024)
	if n, err := b.Write(payload); err != nil || n != len(payload) {
		t.Fatalf("Write = (%d, %v)", n, err)
	}

	out := b.String()
	if !b.Truncated() {
		t.Fatal("buffer not marked truncated")
	}
	marker := "[OUTPUT TRUNCATED at 204800 bytes]"
	if !strings.Contains(out, marker) {
		t.Errorf("output missing truncation marker %q", marker)
	}
	content := out[:strings.Index(out, "\n"+marker)]
	if len(content) != limit {
		t.Errorf("content length = %d, want exactly %d", len(content), limit)
	}

	// Writes after truncation must change nothing past the marker.
	before := b.String()
	if n, err := b.Write([]byte("more output")); err != nil || n != len("more output") {
		t.Fatalf("post-truncation Write = (%d, %v)", n, err)
	}
	if b.String() != before {
		t.Error("post-truncation write modified the buffer")
	}
}

func TestCaptureBufferExactFit(t *testing.T) {
	b := NewCaptureBuffer(8)
	b.Write([]byte("12345678"))
	if b.Truncated() {
		t.Error("exact-fit write marked truncated")
	}
	b.Write([]byte("9"))
	if !b.Truncated() {
		t.Error("overflow write not marked truncated")
	}
}

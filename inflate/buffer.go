package inflate

import "fmt"

// Buffer is a fixed-capacity scratch buffer. It is allocated once and reused
// for every segment; it never grows.
type Buffer struct {
	buf []byte
	n   int
}

// NewBuffer allocates a buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Cap returns the fixed capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int {
	return b.n
}

// Bytes returns the held bytes. The slice is only valid until the next Reset
// or Write.
func (b *Buffer) Bytes() []byte {
	return b.buf[:b.n]
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.n = 0
}

// Write appends p, failing with a *CapacityError instead of growing.
func (b *Buffer) Write(p []byte) (int, error) {
	free := len(b.buf) - b.n
	if len(p) > free {
		n := copy(b.buf[b.n:], p[:free])
		b.n += n
		return n, &CapacityError{Capacity: len(b.buf), Need: b.n + len(p) - n}
	}

	n := copy(b.buf[b.n:], p)
	b.n += n
	return n, nil
}

// CapacityError indicates that data would not fit into a Buffer.
type CapacityError struct {
	Capacity int
	Need     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("scratch buffer overflow: need at least %d bytes, capacity is %d", e.Need, e.Capacity)
}

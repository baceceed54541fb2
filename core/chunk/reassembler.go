package chunk

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange = errors.New("chunk out of range")
	ErrIncomplete = errors.New("upload incomplete")
)

// Reassembler collects uploaded chunks into a fixed-capacity buffer, the way
// the device writes each received chunk to its app slot.
type Reassembler struct {
	buf      []byte
	received []bool
	count    int
	end      int
}

// NewReassembler creates a reassembler for images of at most capacity bytes.
func NewReassembler(capacity int) *Reassembler {
	return &Reassembler{
		buf:      make([]byte, capacity),
		received: make([]bool, capacity),
	}
}

// Write stores data at offset. Rewriting a range is allowed; the last write
// wins.
func (r *Reassembler) Write(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > len(r.buf) {
		return fmt.Errorf("%w: %d bytes at offset %d, capacity %d", ErrOutOfRange, len(data), offset, len(r.buf))
	}

	copy(r.buf[offset:], data)
	for i := offset; i < offset+len(data); i++ {
		if !r.received[i] {
			r.received[i] = true
			r.count++
		}
	}
	if end := offset + len(data); end > r.end {
		r.end = end
	}
	return nil
}

// Received returns the number of distinct bytes written.
func (r *Reassembler) Received() int {
	return r.count
}

// Len returns the end of the furthest write.
func (r *Reassembler) Len() int {
	return r.end
}

// Capacity returns the maximum image size.
func (r *Reassembler) Capacity() int {
	return len(r.buf)
}

// Complete reports whether every byte up to n has been written.
func (r *Reassembler) Complete(n int) bool {
	if n < 0 || n > len(r.buf) {
		return false
	}
	for i := 0; i < n; i++ {
		if !r.received[i] {
			return false
		}
	}
	return true
}

// Bytes returns a copy of the first n bytes, failing if any are missing.
func (r *Reassembler) Bytes(n int) ([]byte, error) {
	if n < 0 || n > len(r.buf) {
		return nil, fmt.Errorf("%w: %d bytes requested, capacity %d", ErrOutOfRange, n, len(r.buf))
	}
	if !r.Complete(n) {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, r.count, n)
	}
	return append([]byte(nil), r.buf[:n]...), nil
}

// Reset discards everything received.
func (r *Reassembler) Reset() {
	clear(r.buf)
	clear(r.received)
	r.count = 0
	r.end = 0
}

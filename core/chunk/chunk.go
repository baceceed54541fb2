// Package chunk splits microapp payloads into fixed-size transfer units and
// reports per-chunk checksums, mirroring how the device reassembles an
// upload.
//
// Per-chunk checksums are diagnostic only. The device verifies the
// whole-payload checksum stored in the image header.
package chunk

import (
	"errors"
	"fmt"

	"github.com/kabili207/microapp-go/core/checksum"
)

// ErrInvalidArgument is returned for a chunk size that is not positive.
var ErrInvalidArgument = errors.New("invalid argument")

// Chunk is a fixed-size window into a payload. Data is always exactly the
// chunk size long; bytes past Len are zero padding.
type Chunk struct {
	Index  int
	Offset int
	Len    int
	Data   []byte
}

// Bytes returns the meaningful (unpadded) part of the chunk.
func (c Chunk) Bytes() []byte {
	return c.Data[:c.Len]
}

// ChecksumBuffer returns the buffer a chunk checksum is computed over: Data,
// plus one zero byte when the chunk size is odd. The pad byte is added to
// every chunk, not only the last.
func (c Chunk) ChecksumBuffer() []byte {
	if len(c.Data)%2 == 0 {
		return c.Data
	}
	buf := make([]byte, len(c.Data)+1)
	copy(buf, c.Data)
	return buf
}

// Count returns the number of chunks needed for n bytes: ceil(n/size).
func Count(n, size int) int {
	if size <= 0 || n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Split divides payload into chunks of size bytes. An empty payload yields
// no chunks. The final chunk is zero-filled past the end of the payload.
func Split(payload []byte, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidArgument, size)
	}

	n := Count(len(payload), size)
	chunks := make([]Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := i * size
		stop := start + size
		if stop > len(payload) {
			stop = len(payload)
		}

		data := make([]byte, size)
		copy(data, payload[start:stop])
		chunks = append(chunks, Chunk{
			Index:  i,
			Offset: start,
			Len:    stop - start,
			Data:   data,
		})
	}
	return chunks, nil
}

// Sum is the checksum of one chunk.
type Sum struct {
	Index int    `json:"index" yaml:"index"`
	Value uint16 `json:"value" yaml:"value"`
}

// Checksums computes fn over every chunk's checksum buffer, in chunk order.
func Checksums(chunks []Chunk, fn checksum.Func) []Sum {
	sums := make([]Sum, len(chunks))
	for i, c := range chunks {
		sums[i] = Sum{Index: c.Index, Value: fn(c.ChecksumBuffer())}
	}
	return sums
}

// Whole computes the authoritative checksum over the entire payload,
// independent of any chunking.
func Whole(payload []byte, fn checksum.Func) uint16 {
	return fn(payload)
}

// Join concatenates the meaningful bytes of chunks.
func Join(chunks []Chunk) []byte {
	total := 0
	for _, c := range chunks {
		total += c.Len
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Bytes()...)
	}
	return out
}

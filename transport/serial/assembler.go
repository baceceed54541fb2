package serial

import (
	"errors"

	"github.com/kabili207/microapp-go/core/codec"
)

// Stats counts what the frame assembler has seen on the line.
type Stats struct {
	Frames       int // frames delivered
	BadFrames    int // frames dropped for a CRC or length error
	SkippedBytes int // bytes discarded while hunting for the magic
}

// assembler turns a byte stream from the bridge into frame payloads. Bytes
// are buffered until a whole frame is present; anything that cannot start a
// frame is skipped up to the next magic.
type assembler struct {
	buf   []byte
	emit  func(payload []byte)
	stats Stats
}

func newAssembler(emit func(payload []byte)) *assembler {
	return &assembler{emit: emit}
}

// Write appends data read from the port and delivers every complete frame.
func (a *assembler) Write(data []byte) {
	a.buf = append(a.buf, data...)

	for len(a.buf) >= codec.MinFrameSize {
		payload, rest, err := codec.DecodeFrame(a.buf)
		switch {
		case err == nil:
			a.buf = rest
			a.stats.Frames++
			if a.emit != nil {
				a.emit(append([]byte(nil), payload...))
			}
		case errors.Is(err, codec.ErrIncompleteFrame):
			a.compact()
			return
		default:
			if !errors.Is(err, codec.ErrInvalidMagic) {
				a.stats.BadFrames++
			}
			a.resync()
		}
	}
	a.align()
	a.compact()
}

// resync drops the byte at the head of the buffer and realigns on the next
// magic.
func (a *assembler) resync() {
	a.stats.SkippedBytes++
	a.buf = a.buf[1:]
	a.align()
}

// align discards bytes that cannot begin a frame. A trailing magic high byte
// is kept; the next read may complete it.
func (a *assembler) align() {
	idx := codec.FindMagic(a.buf)
	switch {
	case idx == 0:
		return
	case idx > 0:
		a.stats.SkippedBytes += idx
		a.buf = a.buf[idx:]
		return
	}
	keep := 0
	if n := len(a.buf); n > 0 && a.buf[n-1] == byte(codec.FrameMagic>>8) {
		keep = 1
	}
	drop := len(a.buf) - keep
	a.stats.SkippedBytes += drop
	a.buf = a.buf[drop:]
}

// compact moves buffered bytes to a fresh slice so the read buffer does not
// grow without bound across many frames.
func (a *assembler) compact() {
	if cap(a.buf) > 4*codec.MaxFramePayload && len(a.buf) < cap(a.buf)/4 {
		a.buf = append([]byte(nil), a.buf...)
	}
}

// Buffered returns the bytes held back waiting for the rest of a frame.
func (a *assembler) Buffered() []byte {
	return a.buf
}

// Reset drops any partial frame.
func (a *assembler) Reset() {
	a.buf = nil
}

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kabili207/microapp-go/core/checksum"
)

const (
	// FrameMagic is the magic number that starts every bridge frame.
	FrameMagic uint16 = 0xC05E
	// MaxFramePayload is the largest payload a frame can carry.
	MaxFramePayload = 256
	// FrameHeaderSize is the size of the frame header (magic 2 + length 2).
	FrameHeaderSize = 4
	// FrameChecksumSize is the size of the CRC at the end of a frame.
	FrameChecksumSize = 2
	// MinFrameSize is the minimum valid frame size (header + checksum).
	MinFrameSize = FrameHeaderSize + FrameChecksumSize
)

var (
	ErrFrameTooShort    = errors.New("frame too short")
	ErrInvalidMagic     = errors.New("invalid frame magic")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrIncompleteFrame  = errors.New("incomplete frame")
)

// DecodeFrame decodes one bridge frame from the front of data.
// Returns the payload, any remaining bytes after the frame, and an error if
// decoding failed. On error the input is returned unchanged as remaining.
//
// Frame format: [0xC05E (2 BE)][length (2 BE)][payload][CRC-16/CCITT (2 BE)]
func DecodeFrame(data []byte) ([]byte, []byte, error) {
	if len(data) < MinFrameSize {
		return nil, data, ErrFrameTooShort
	}

	magic := binary.BigEndian.Uint16(data[0:2])
	if magic != FrameMagic {
		return nil, data, ErrInvalidMagic
	}

	payloadLen := int(binary.BigEndian.Uint16(data[2:4]))
	if payloadLen > MaxFramePayload {
		return nil, data, ErrPayloadTooLarge
	}

	totalFrameSize := FrameHeaderSize + payloadLen + FrameChecksumSize
	if len(data) < totalFrameSize {
		return nil, data, ErrIncompleteFrame
	}

	payload := data[FrameHeaderSize : FrameHeaderSize+payloadLen]

	checksumOffset := FrameHeaderSize + payloadLen
	received := binary.BigEndian.Uint16(data[checksumOffset : checksumOffset+2])
	if computed := checksum.CRC16CCITT(payload); computed != received {
		return nil, data, fmt.Errorf("%w: expected %04x, got %04x", ErrChecksumMismatch, computed, received)
	}

	out := make([]byte, payloadLen)
	copy(out, payload)

	return out, data[totalFrameSize:], nil
}

// EncodeFrame wraps payload in a bridge frame.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFramePayload {
		return nil, ErrPayloadTooLarge
	}

	frame := make([]byte, FrameHeaderSize+len(payload)+FrameChecksumSize)
	binary.BigEndian.PutUint16(frame[0:2], FrameMagic)
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[FrameHeaderSize:], payload)

	checksumOffset := FrameHeaderSize + len(payload)
	binary.BigEndian.PutUint16(frame[checksumOffset:], checksum.CRC16CCITT(payload))

	return frame, nil
}

// FindMagic returns the index of the first frame magic in data, or -1.
func FindMagic(data []byte) int {
	hi, lo := byte(FrameMagic>>8), byte(FrameMagic&0xFF)
	for i := 0; i+1 < len(data); i++ {
		if data[i] == hi && data[i+1] == lo {
			return i
		}
	}
	return -1
}

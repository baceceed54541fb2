// Package checksum implements the two checksum engines used by microapp
// images: CRC-16/CCITT and Fletcher-32 truncated to 16 bits.
//
// Both must agree bit for bit with the device firmware, which verifies the
// header and payload checksums before it will enable an app.
package checksum

import (
	"errors"
	"fmt"
	"strings"
)

// Func computes a 16-bit checksum over a byte sequence.
type Func func(data []byte) uint16

// Algorithm selects a checksum engine. The zero value is not a valid
// algorithm; callers must choose one explicitly.
type Algorithm int

const (
	AlgorithmUnknown Algorithm = iota
	AlgorithmCRC16CCITT
	AlgorithmFletcher32
)

// ErrUnknownAlgorithm is returned for unset or unrecognised algorithms.
var ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")

func (a Algorithm) String() string {
	switch a {
	case AlgorithmCRC16CCITT:
		return "crc16-ccitt"
	case AlgorithmFletcher32:
		return "fletcher32"
	default:
		return "unknown"
	}
}

// Valid reports whether a names a known engine.
func (a Algorithm) Valid() bool {
	return a == AlgorithmCRC16CCITT || a == AlgorithmFletcher32
}

// Func returns the 16-bit checksum function for the algorithm.
func (a Algorithm) Func() (Func, error) {
	switch a {
	case AlgorithmCRC16CCITT:
		return CRC16CCITT, nil
	case AlgorithmFletcher32:
		return Fletcher32Low, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, int(a))
	}
}

// ParseAlgorithm parses an algorithm name as produced by String.
// A few common spellings are accepted as well.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crc16-ccitt", "crc16ccitt", "crc16", "crc":
		return AlgorithmCRC16CCITT, nil
	case "fletcher32", "fletcher-32", "fletcher":
		return AlgorithmFletcher32, nil
	default:
		return AlgorithmUnknown, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

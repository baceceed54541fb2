package header

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader  = errors.New("malformed header")
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrSizeOverflow     = errors.New("image too large for header size field")
	ErrManifestOnly     = errors.New("variant is manifest only")
)

// MalformedHeaderError is returned when fewer bytes are available than the
// variant's fixed header length.
type MalformedHeaderError struct {
	Variant string
	Got     int
	Want    int
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed %s header: got %d bytes, need %d", e.Variant, e.Got, e.Want)
}

func (e *MalformedHeaderError) Unwrap() error { return ErrMalformedHeader }

// SizeMismatchError is returned by strict decoding when the declared size
// disagrees with the number of bytes actually present.
type SizeMismatchError struct {
	Declared int
	Actual   int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: header declares %d bytes, image has %d", e.Declared, e.Actual)
}

func (e *SizeMismatchError) Unwrap() error { return ErrSizeMismatch }

// ChecksumMismatchError describes one checksum field that failed validation.
// It is produced by Validation.Err, never returned by the codec itself.
type ChecksumMismatchError struct {
	Field    string
	Stored   uint16
	Computed uint16
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: stored 0x%04X, computed 0x%04X", e.Field, e.Stored, e.Computed)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

package header

import (
	"errors"
	"fmt"

	"github.com/kabili207/microapp-go/core/checksum"
)

// Codec binds a header variant to a checksum engine.
type Codec struct {
	variant *Variant
	alg     checksum.Algorithm
	sum     checksum.Func
}

// NewCodec creates a codec for variant v using alg. The algorithm must be
// given explicitly and must be one the variant permits.
func NewCodec(v *Variant, alg checksum.Algorithm) (*Codec, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: variant is required", ErrInvalidArgument)
	}
	fn, err := alg.Func()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !v.Supports(alg) {
		return nil, fmt.Errorf("%w: %s headers do not use %s", ErrInvalidArgument, v.Name, alg)
	}
	return &Codec{variant: v, alg: alg, sum: fn}, nil
}

// Variant returns the codec's header layout.
func (c *Codec) Variant() *Variant { return c.variant }

// Algorithm returns the codec's checksum engine.
func (c *Codec) Algorithm() checksum.Algorithm { return c.alg }

// Sum returns the codec's checksum function.
func (c *Codec) Sum() checksum.Func { return c.sum }

// HeaderSize is the fixed encoded header length.
func (c *Codec) HeaderSize() int { return c.variant.Size }

// Encode serializes h.
func (c *Codec) Encode(h *Header) []byte { return c.variant.Encode(h) }

// Decode parses a header from the front of data and returns the payload.
func (c *Codec) Decode(data []byte) (*Header, []byte, error) { return c.variant.Decode(data) }

// ApplyChecksums fills in both checksum fields of h for payload.
func (c *Codec) ApplyChecksums(h *Header, payload []byte) {
	ApplyChecksums(c.variant, h, payload, c.sum)
}

// Validate checks both checksum fields of h against payload.
func (c *Codec) Validate(h *Header, payload []byte) Validation {
	return Validate(c.variant, h, payload, c.sum)
}

// ApplyChecksums sets h.Checksum to fn(payload), then computes the header
// self-checksum: the header is encoded with ChecksumHeader forced to 0 and
// fn of those bytes becomes the new ChecksumHeader. The order matters: the
// device repeats exactly this procedure to verify the header.
func ApplyChecksums(v *Variant, h *Header, payload []byte, fn checksum.Func) {
	h.Checksum = fn(payload)
	h.ChecksumHeader = 0
	h.ChecksumHeader = fn(v.Encode(h))
}

// HeaderChecksum computes the self-checksum of h without modifying it.
func HeaderChecksum(v *Variant, h *Header, fn checksum.Func) uint16 {
	c := h.Clone()
	c.ChecksumHeader = 0
	return fn(v.Encode(c))
}

// Validation is the result of checking a header against its payload.
type Validation struct {
	PayloadOK bool
	HeaderOK  bool

	StoredChecksum         uint16
	ComputedChecksum       uint16
	StoredHeaderChecksum   uint16
	ComputedHeaderChecksum uint16
}

// OK reports whether both checksums match.
func (r Validation) OK() bool {
	return r.PayloadOK && r.HeaderOK
}

// Err returns the mismatches as *ChecksumMismatchError values, joined, or
// nil when both checksums match.
func (r Validation) Err() error {
	var errs []error
	if !r.PayloadOK {
		errs = append(errs, &ChecksumMismatchError{
			Field:    "checksum",
			Stored:   r.StoredChecksum,
			Computed: r.ComputedChecksum,
		})
	}
	if !r.HeaderOK {
		errs = append(errs, &ChecksumMismatchError{
			Field:    "checksumHeader",
			Stored:   r.StoredHeaderChecksum,
			Computed: r.ComputedHeaderChecksum,
		})
	}
	return errors.Join(errs...)
}

// Validate recomputes both checksums on a copy of h and compares them to
// the stored values. The header checksum is computed over h's fields as
// stored, so a corrupted checksum field is caught by both checks.
func Validate(v *Variant, h *Header, payload []byte, fn checksum.Func) Validation {
	computed := fn(payload)
	computedHeader := HeaderChecksum(v, h, fn)
	return Validation{
		PayloadOK:              computed == h.Checksum,
		HeaderOK:               computedHeader == h.ChecksumHeader,
		StoredChecksum:         h.Checksum,
		ComputedChecksum:       computed,
		StoredHeaderChecksum:   h.ChecksumHeader,
		ComputedHeaderChecksum: computedHeader,
	}
}

package header

import (
	"fmt"
	"math"
)

// Image is a microapp binary: a header followed by the payload.
type Image struct {
	Header  *Header
	Payload []byte

	codec *Codec
}

// ParseImage decodes an image. In strict mode the declared size must match
// len(data).
func ParseImage(c *Codec, data []byte, strict bool) (*Image, error) {
	h, payload, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	if strict && int(h.Size) != len(data) {
		return nil, &SizeMismatchError{Declared: int(h.Size), Actual: len(data)}
	}
	return &Image{Header: h, Payload: payload, codec: c}, nil
}

// PrepareOptions controls which header fields Prepare overrides.
type PrepareOptions struct {
	// BuildVersion, if set, replaces the app build version.
	BuildVersion *uint32
	// SDKVersion, if set, replaces the SDK major and minor version.
	SDKVersion *[2]uint8
}

// Prepare takes a linked image whose first bytes are a placeholder header,
// fills in the derived fields and recomputes both checksums.
//
// The start field becomes the header size for relative layouts and is left
// untouched for absolute ones. Size becomes len(data).
func Prepare(c *Codec, data []byte, opts PrepareOptions) (*Image, error) {
	if len(data) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrSizeOverflow, len(data))
	}

	h, payload, err := c.Decode(data)
	if err != nil {
		return nil, err
	}

	if c.variant.Start == StartRelative {
		h.Start = uint32(c.variant.Size)
	}
	h.Size = uint16(len(data))
	if opts.BuildVersion != nil {
		h.AppBuildVersion = *opts.BuildVersion
	}
	if opts.SDKVersion != nil {
		h.SDKVersionMajor = opts.SDKVersion[0]
		h.SDKVersionMinor = opts.SDKVersion[1]
	}

	c.ApplyChecksums(h, payload)

	return &Image{
		Header:  h,
		Payload: append([]byte(nil), payload...),
		codec:   c,
	}, nil
}

// Synthesize returns an image with an all-zero header and no payload, for
// test builds where no linked binary exists yet.
func Synthesize(c *Codec) *Image {
	return &Image{
		Header: &Header{Extension: make([]byte, c.variant.ExtensionSize())},
		codec:  c,
	}
}

// Codec returns the codec the image was built with.
func (im *Image) Codec() *Codec { return im.codec }

// Bytes returns the encoded header followed by the payload.
func (im *Image) Bytes() []byte {
	hdr := im.codec.Encode(im.Header)
	out := make([]byte, 0, len(hdr)+len(im.Payload))
	out = append(out, hdr...)
	return append(out, im.Payload...)
}

// Packed returns Bytes for variants that are written as a packed binary
// header, and ErrManifestOnly otherwise.
func (im *Image) Packed() ([]byte, error) {
	if im.codec.variant.ManifestOnly {
		return nil, fmt.Errorf("%w: %s", ErrManifestOnly, im.codec.variant.Name)
	}
	return im.Bytes(), nil
}

// Validate checks the image's checksums.
func (im *Image) Validate() Validation {
	return im.codec.Validate(im.Header, im.Payload)
}

// SizeOK reports whether the declared size matches the image length.
func (im *Image) SizeOK() bool {
	return int(im.Header.Size) == im.codec.HeaderSize()+len(im.Payload)
}

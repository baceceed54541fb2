// Package header implements the microapp binary header: a fixed-size,
// little-endian record prepended to every microapp image. It carries the
// entry point, the SDK version, the image size, a payload checksum and a
// self-checksum of the header itself.
//
// Three incompatible layouts exist (V1, V2, V3). Each is a named Variant and
// the codec is driven by the variant's field table.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Header is the decoded form of a microapp binary header. It is a value
// object; it has no identity beyond the bytes it encodes to.
type Header struct {
	// Start is the entry point: an absolute address for V1, a byte offset
	// into the image for V2 and V3.
	Start uint32

	SDKVersionMajor uint8
	SDKVersionMinor uint8

	// Size is the total image size, header included.
	Size uint16

	// Checksum covers only the payload bytes after the header.
	Checksum uint16

	// ChecksumHeader covers the encoded header with this field set to 0.
	ChecksumHeader uint16

	AppBuildVersion uint32

	// Extension is the reserved region. It is written as zero unless set
	// and is preserved as-is on decode.
	Extension []byte
}

// Clone returns a deep copy of the header.
func (h *Header) Clone() *Header {
	c := *h
	if h.Extension != nil {
		c.Extension = append([]byte(nil), h.Extension...)
	}
	return &c
}

// Equal reports whether two headers encode to the same bytes under v.
func (h *Header) Equal(v *Variant, other *Header) bool {
	return bytes.Equal(v.Encode(h), v.Encode(other))
}

// HasReservedData reports whether any byte of the extension region is nonzero.
func (h *Header) HasReservedData() bool {
	for _, b := range h.Extension {
		if b != 0 {
			return true
		}
	}
	return false
}

// ReservedWord returns reserved field i of layout v, little-endian.
func (h *Header) ReservedWord(v *Variant, i int) uint32 {
	fields := v.ReservedFields()
	if i < 0 || i >= len(fields) {
		return 0
	}
	f := fields[i]
	buf := make([]byte, f.Width)
	if f.ExtOffset < len(h.Extension) {
		copy(buf, h.Extension[f.ExtOffset:])
	}
	return getUint(buf)
}

// SetReservedWord sets reserved field i of layout v.
func (h *Header) SetReservedWord(v *Variant, i int, value uint32) error {
	fields := v.ReservedFields()
	if i < 0 || i >= len(fields) {
		return fmt.Errorf("%w: %s has no reserved field %d", ErrInvalidArgument, v.Name, i)
	}
	f := fields[i]
	if f.Width < 4 && value >= 1<<(8*f.Width) {
		return fmt.Errorf("%w: value %d does not fit in %s", ErrInvalidArgument, value, f.Name)
	}
	if n := v.ExtensionSize(); len(h.Extension) < n {
		ext := make([]byte, n)
		copy(ext, h.Extension)
		h.Extension = ext
	}
	putUint(h.Extension[f.ExtOffset:f.ExtOffset+f.Width], value)
	return nil
}

func (h *Header) String() string {
	return fmt.Sprintf("Header(start=%d, sdkVersion=%d.%d, size=%d, checksum=0x%04X, "+
		"checksumHeader=0x%04X, appBuildVersion=%d, reserved=%x)",
		h.Start, h.SDKVersionMajor, h.SDKVersionMinor, h.Size, h.Checksum,
		h.ChecksumHeader, h.AppBuildVersion, h.Extension)
}

func (h *Header) value(kind FieldKind) uint32 {
	switch kind {
	case FieldStart:
		return h.Start
	case FieldSDKVersionMajor:
		return uint32(h.SDKVersionMajor)
	case FieldSDKVersionMinor:
		return uint32(h.SDKVersionMinor)
	case FieldSize:
		return uint32(h.Size)
	case FieldChecksum:
		return uint32(h.Checksum)
	case FieldChecksumHeader:
		return uint32(h.ChecksumHeader)
	case FieldAppBuildVersion:
		return h.AppBuildVersion
	}
	return 0
}

func (h *Header) setValue(kind FieldKind, val uint32) {
	switch kind {
	case FieldStart:
		h.Start = val
	case FieldSDKVersionMajor:
		h.SDKVersionMajor = uint8(val)
	case FieldSDKVersionMinor:
		h.SDKVersionMinor = uint8(val)
	case FieldSize:
		h.Size = uint16(val)
	case FieldChecksum:
		h.Checksum = uint16(val)
	case FieldChecksumHeader:
		h.ChecksumHeader = uint16(val)
	case FieldAppBuildVersion:
		h.AppBuildVersion = val
	}
}

// Check reports whether h can be encoded under v without truncation.
func (v *Variant) Check(h *Header) error {
	if h.Start > v.MaxStart() {
		return fmt.Errorf("%w: start %d exceeds %s maximum %d", ErrInvalidArgument, h.Start, v.Name, v.MaxStart())
	}
	if len(h.Extension) > v.ExtensionSize() {
		return fmt.Errorf("%w: extension is %d bytes, %s holds %d",
			ErrInvalidArgument, len(h.Extension), v.Name, v.ExtensionSize())
	}
	return nil
}

// Encode serializes h in v's field order. The result is always v.Size bytes.
// Values wider than their field are truncated; use Check first when that
// matters. Missing extension bytes are written as zero.
func (v *Variant) Encode(h *Header) []byte {
	buf := make([]byte, v.Size)
	for _, f := range v.Fields {
		dst := buf[f.Offset : f.Offset+f.Width]
		if f.Kind == FieldReserved {
			if f.ExtOffset < len(h.Extension) {
				copy(dst, h.Extension[f.ExtOffset:])
			}
			continue
		}
		putUint(dst, h.value(f.Kind))
	}
	return buf
}

// Decode parses the first v.Size bytes of data and returns the header and
// the remaining bytes (the payload).
func (v *Variant) Decode(data []byte) (*Header, []byte, error) {
	if len(data) < v.Size {
		return nil, nil, &MalformedHeaderError{Variant: v.Name, Got: len(data), Want: v.Size}
	}

	h := &Header{Extension: make([]byte, v.ExtensionSize())}
	for _, f := range v.Fields {
		src := data[f.Offset : f.Offset+f.Width]
		if f.Kind == FieldReserved {
			copy(h.Extension[f.ExtOffset:], src)
			continue
		}
		h.setValue(f.Kind, getUint(src))
	}

	return h, data[v.Size:], nil
}

func putUint(dst []byte, val uint32) {
	switch len(dst) {
	case 1:
		dst[0] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(dst, val)
	}
}

func getUint(src []byte) uint32 {
	switch len(src) {
	case 1:
		return uint32(src[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(src))
	case 4:
		return binary.LittleEndian.Uint32(src)
	}
	return 0
}

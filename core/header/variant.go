package header

import (
	"fmt"
	"strings"

	"github.com/kabili207/microapp-go/core/checksum"
)

// FieldKind identifies the semantic content of a header field.
type FieldKind int

const (
	FieldStart FieldKind = iota
	FieldSDKVersionMajor
	FieldSDKVersionMinor
	FieldSize
	FieldChecksum
	FieldChecksumHeader
	FieldAppBuildVersion
	FieldReserved
)

func (k FieldKind) String() string {
	switch k {
	case FieldStart:
		return "start"
	case FieldSDKVersionMajor:
		return "sdkVersionMajor"
	case FieldSDKVersionMinor:
		return "sdkVersionMinor"
	case FieldSize:
		return "size"
	case FieldChecksum:
		return "checksum"
	case FieldChecksumHeader:
		return "checksumHeader"
	case FieldAppBuildVersion:
		return "appBuildVersion"
	case FieldReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// Field is one entry of a variant's wire layout. Reserved fields are stored
// in the header's extension region starting at ExtOffset.
type Field struct {
	Kind      FieldKind
	Name      string
	Offset    int
	Width     int
	ExtOffset int
	// Key is the manifest key for this field, or empty if not emitted.
	Key string
}

// StartMode says how the start field is interpreted.
type StartMode int

const (
	// StartAbsolute is an absolute address of the first function to call.
	StartAbsolute StartMode = iota
	// StartRelative is a byte offset from the start of the image.
	StartRelative
)

// Variant is a named, fixed header layout. The three variants are mutually
// incompatible at the byte level and are never mixed.
type Variant struct {
	Name    string
	Version int
	Size    int
	Start   StartMode
	Fields  []Field
	// Algorithms lists the checksum engines this layout may be used with.
	Algorithms []checksum.Algorithm
	// ManifestOnly variants are never emitted as a packed binary header;
	// their layout only feeds the header self-checksum.
	ManifestOnly bool
}

// V1 is the earliest layout: absolute start address first, one reserved word.
// It matches microapp_binary_header_t as first linked into .firmware_header.
var V1 = &Variant{
	Name:    "v1",
	Version: 1,
	Size:    20,
	Start:   StartAbsolute,
	Fields: []Field{
		{Kind: FieldStart, Name: "startAddress", Offset: 0, Width: 4, Key: "START_ADDRESS"},
		{Kind: FieldSDKVersionMajor, Name: "sdkVersionMajor", Offset: 4, Width: 1},
		{Kind: FieldSDKVersionMinor, Name: "sdkVersionMinor", Offset: 5, Width: 1},
		{Kind: FieldSize, Name: "size", Offset: 6, Width: 2, Key: "APP_BINARY_SIZE"},
		{Kind: FieldChecksum, Name: "checksum", Offset: 8, Width: 2, Key: "CHECKSUM"},
		{Kind: FieldChecksumHeader, Name: "checksumHeader", Offset: 10, Width: 2, Key: "CHECKSUM_HEADER"},
		{Kind: FieldAppBuildVersion, Name: "appBuildVersion", Offset: 12, Width: 4, Key: "APP_BUILD_VERSION"},
		{Kind: FieldReserved, Name: "reserved", Offset: 16, Width: 4, ExtOffset: 0, Key: "HEADER_RESERVED"},
	},
	Algorithms: []checksum.Algorithm{checksum.AlgorithmCRC16CCITT},
}

// V2 is the canonical layout: start offset moved behind the build version,
// two reserved fields.
var V2 = &Variant{
	Name:    "v2",
	Version: 2,
	Size:    20,
	Start:   StartRelative,
	Fields: []Field{
		{Kind: FieldSDKVersionMajor, Name: "sdkVersionMajor", Offset: 0, Width: 1},
		{Kind: FieldSDKVersionMinor, Name: "sdkVersionMinor", Offset: 1, Width: 1},
		{Kind: FieldSize, Name: "size", Offset: 2, Width: 2, Key: "APP_BINARY_SIZE"},
		{Kind: FieldChecksum, Name: "checksum", Offset: 4, Width: 2, Key: "CHECKSUM"},
		{Kind: FieldChecksumHeader, Name: "checksumHeader", Offset: 6, Width: 2, Key: "CHECKSUM_HEADER"},
		{Kind: FieldAppBuildVersion, Name: "appBuildVersion", Offset: 8, Width: 4, Key: "APP_BUILD_VERSION"},
		{Kind: FieldStart, Name: "startOffset", Offset: 12, Width: 2, Key: "START_OFFSET"},
		{Kind: FieldReserved, Name: "reserved", Offset: 14, Width: 2, ExtOffset: 0, Key: "HEADER_RESERVED"},
		{Kind: FieldReserved, Name: "reserved2", Offset: 16, Width: 4, ExtOffset: 2, Key: "HEADER_RESERVED2"},
	},
	Algorithms: []checksum.Algorithm{checksum.AlgorithmCRC16CCITT},
}

// V3 is the standalone make-helper format: a 16 byte header region in V1
// order without a reserved word, reported as text fields only. The checksum
// engine is a required choice.
var V3 = &Variant{
	Name:    "v3",
	Version: 3,
	Size:    16,
	Start:   StartRelative,
	Fields: []Field{
		{Kind: FieldStart, Name: "startOffset", Offset: 0, Width: 4, Key: "START_OFFSET"},
		{Kind: FieldSDKVersionMajor, Name: "sdkVersionMajor", Offset: 4, Width: 1},
		{Kind: FieldSDKVersionMinor, Name: "sdkVersionMinor", Offset: 5, Width: 1},
		{Kind: FieldSize, Name: "size", Offset: 6, Width: 2, Key: "APP_BINARY_SIZE"},
		{Kind: FieldChecksum, Name: "checksum", Offset: 8, Width: 2, Key: "CHECKSUM"},
		{Kind: FieldChecksumHeader, Name: "checksumHeader", Offset: 10, Width: 2, Key: "CHECKSUM_HEADER"},
		{Kind: FieldAppBuildVersion, Name: "appBuildVersion", Offset: 12, Width: 4, Key: "APP_BUILD_VERSION"},
	},
	Algorithms:   []checksum.Algorithm{checksum.AlgorithmCRC16CCITT, checksum.AlgorithmFletcher32},
	ManifestOnly: true,
}

// Variants lists all known layouts, oldest first.
var Variants = []*Variant{V1, V2, V3}

// VariantByName looks up a variant by name ("v1", "v2", "v3").
func VariantByName(name string) (*Variant, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, v := range Variants {
		if v.Name == n {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown header variant %q", ErrInvalidArgument, name)
}

func (v *Variant) String() string {
	return v.Name
}

// Supports reports whether alg may be used with this layout.
func (v *Variant) Supports(alg checksum.Algorithm) bool {
	for _, a := range v.Algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// ExtensionSize is the length of the reserved extension region.
func (v *Variant) ExtensionSize() int {
	n := 0
	for _, f := range v.Fields {
		if f.Kind == FieldReserved && f.ExtOffset+f.Width > n {
			n = f.ExtOffset + f.Width
		}
	}
	return n
}

// Field returns the first field of the given kind.
func (v *Variant) Field(kind FieldKind) (Field, bool) {
	for _, f := range v.Fields {
		if f.Kind == kind {
			return f, true
		}
	}
	return Field{}, false
}

// ReservedFields returns the reserved fields in layout order.
func (v *Variant) ReservedFields() []Field {
	var out []Field
	for _, f := range v.Fields {
		if f.Kind == FieldReserved {
			out = append(out, f)
		}
	}
	return out
}

// MaxStart is the largest start value the layout can hold.
func (v *Variant) MaxStart() uint32 {
	f, ok := v.Field(FieldStart)
	if !ok || f.Width >= 4 {
		return 0xFFFFFFFF
	}
	return 1<<(8*f.Width) - 1
}

package header

import (
	"bytes"
	"errors"
	"testing"
)

func TestVariantLayouts(t *testing.T) {
	tests := []struct {
		variant  *Variant
		size     int
		ext      int
		reserved int
	}{
		{V1, 20, 4, 1},
		{V2, 20, 6, 2},
		{V3, 16, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.variant.Name, func(t *testing.T) {
			v := tt.variant
			if v.Size != tt.size {
				t.Errorf("Size = %d, want %d", v.Size, tt.size)
			}
			if v.ExtensionSize() != tt.ext {
				t.Errorf("ExtensionSize = %d, want %d", v.ExtensionSize(), tt.ext)
			}
			if len(v.ReservedFields()) != tt.reserved {
				t.Errorf("reserved fields = %d, want %d", len(v.ReservedFields()), tt.reserved)
			}

			// Fields must tile the header exactly, in order.
			offset := 0
			for _, f := range v.Fields {
				if f.Offset != offset {
					t.Errorf("field %s at offset %d, want %d", f.Name, f.Offset, offset)
				}
				if f.Width != 1 && f.Width != 2 && f.Width != 4 {
					t.Errorf("field %s has width %d", f.Name, f.Width)
				}
				offset += f.Width
			}
			if offset != v.Size {
				t.Errorf("fields cover %d bytes, header is %d", offset, v.Size)
			}
		})
	}
}

func TestVariantByName(t *testing.T) {
	for _, name := range []string{"v1", "V2", " v3 "} {
		if _, err := VariantByName(name); err != nil {
			t.Errorf("VariantByName(%q): %v", name, err)
		}
	}
	if _, err := VariantByName("v4"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for v4, got %v", err)
	}
}

func TestEncodeV2(t *testing.T) {
	h := &Header{
		Start:           20,
		SDKVersionMajor: 1,
		SDKVersionMinor: 2,
		Size:            0x1234,
		Checksum:        0xABCD,
		ChecksumHeader:  0x0102,
		AppBuildVersion: 0x01020304,
	}

	expected := []byte{
		0x01, 0x02, // sdk version
		0x34, 0x12, // size
		0xCD, 0xAB, // checksum
		0x02, 0x01, // checksumHeader
		0x04, 0x03, 0x02, 0x01, // appBuildVersion
		0x14, 0x00, // startOffset
		0x00, 0x00, // reserved
		0x00, 0x00, 0x00, 0x00, // reserved2
	}

	got := V2.Encode(h)
	if !bytes.Equal(got, expected) {
		t.Errorf("Encode() = % X\nwant       % X", got, expected)
	}
}

func TestEncodeV1(t *testing.T) {
	h := &Header{
		Start:           0x00041000,
		SDKVersionMajor: 0,
		SDKVersionMinor: 1,
		Size:            0x0200,
		Checksum:        0x1111,
		ChecksumHeader:  0x2222,
		AppBuildVersion: 7,
		Extension:       []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	expected := []byte{
		0x00, 0x10, 0x04, 0x00, // startAddress
		0x00, 0x01, // sdk version
		0x00, 0x02, // size
		0x11, 0x11, // checksum
		0x22, 0x22, // checksumHeader
		0x07, 0x00, 0x00, 0x00, // appBuildVersion
		0xDE, 0xAD, 0xBE, 0xEF, // reserved
	}

	got := V1.Encode(h)
	if !bytes.Equal(got, expected) {
		t.Errorf("Encode() = % X\nwant       % X", got, expected)
	}
}

func TestRoundTrip(t *testing.T) {
	headers := map[*Variant]*Header{
		V1: {
			Start: 0x00071000, SDKVersionMajor: 1, SDKVersionMinor: 0, Size: 512,
			Checksum: 0xBEEF, ChecksumHeader: 0xCAFE, AppBuildVersion: 987654321,
			Extension: []byte{1, 2, 3, 4},
		},
		V2: {
			Start: 20, SDKVersionMajor: 0, SDKVersionMinor: 3, Size: 4096,
			Checksum: 0x1234, ChecksumHeader: 0x5678, AppBuildVersion: 42,
			Extension: []byte{0, 0, 9, 8, 7, 6},
		},
		V3: {
			Start: 16, SDKVersionMajor: 2, SDKVersionMinor: 1, Size: 100,
			Checksum: 0xFFFF, ChecksumHeader: 0x0001, AppBuildVersion: 1,
			Extension: []byte{},
		},
	}

	for v, h := range headers {
		t.Run(v.Name, func(t *testing.T) {
			encoded := v.Encode(h)
			if len(encoded) != v.Size {
				t.Fatalf("encoded length = %d, want %d", len(encoded), v.Size)
			}

			decoded, rest, err := v.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(rest) != 0 {
				t.Errorf("expected no payload, got %d bytes", len(rest))
			}
			if decoded.Start != h.Start || decoded.Size != h.Size ||
				decoded.SDKVersionMajor != h.SDKVersionMajor || decoded.SDKVersionMinor != h.SDKVersionMinor ||
				decoded.Checksum != h.Checksum || decoded.ChecksumHeader != h.ChecksumHeader ||
				decoded.AppBuildVersion != h.AppBuildVersion {
				t.Errorf("decoded %v, want %v", decoded, h)
			}
			if !bytes.Equal(decoded.Extension, h.Extension) {
				t.Errorf("extension = %x, want %x", decoded.Extension, h.Extension)
			}
		})
	}
}

func TestDecode_ReturnsPayload(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	data := append(V2.Encode(&Header{Size: 23}), payload...)

	h, rest, err := V2.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if h.Size != 23 {
		t.Errorf("Size = %d, want 23", h.Size)
	}
	if !bytes.Equal(rest, payload) {
		t.Errorf("payload = % X, want % X", rest, payload)
	}
}

func TestDecode_TooShort(t *testing.T) {
	for _, v := range Variants {
		t.Run(v.Name, func(t *testing.T) {
			_, _, err := v.Decode(make([]byte, v.Size-1))
			if !errors.Is(err, ErrMalformedHeader) {
				t.Fatalf("expected ErrMalformedHeader, got %v", err)
			}
			var mhe *MalformedHeaderError
			if !errors.As(err, &mhe) {
				t.Fatalf("expected *MalformedHeaderError, got %T", err)
			}
			if mhe.Got != v.Size-1 || mhe.Want != v.Size {
				t.Errorf("got/want = %d/%d", mhe.Got, mhe.Want)
			}
		})
	}
}

func TestDecode_SurfacesReservedData(t *testing.T) {
	encoded := V2.Encode(&Header{})
	encoded[14] = 0x01 // reserved
	encoded[19] = 0x80 // top byte of reserved2

	h, _, err := V2.Decode(encoded)
	if err != nil {
		t.Fatalf("nonzero reserved bytes must not be rejected: %v", err)
	}
	if !h.HasReservedData() {
		t.Error("expected HasReservedData")
	}
	if got := h.ReservedWord(V2, 0); got != 1 {
		t.Errorf("reserved = %d, want 1", got)
	}
	if got := h.ReservedWord(V2, 1); got != 0x80000000 {
		t.Errorf("reserved2 = 0x%08X, want 0x80000000", got)
	}

	// Re-encoding preserves them.
	if !bytes.Equal(V2.Encode(h), encoded) {
		t.Error("re-encoding changed reserved bytes")
	}
}

func TestSetReservedWord(t *testing.T) {
	h := &Header{}
	if err := h.SetReservedWord(V2, 1, 0x01020304); err != nil {
		t.Fatalf("SetReservedWord: %v", err)
	}
	if len(h.Extension) != V2.ExtensionSize() {
		t.Fatalf("extension length = %d", len(h.Extension))
	}
	if h.ReservedWord(V2, 1) != 0x01020304 {
		t.Errorf("reserved2 = 0x%08X", h.ReservedWord(V2, 1))
	}
	if h.ReservedWord(V2, 0) != 0 {
		t.Errorf("reserved = %d, want 0", h.ReservedWord(V2, 0))
	}

	if err := h.SetReservedWord(V2, 0, 0x10000); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected overflow error for 16-bit reserved, got %v", err)
	}
	if err := h.SetReservedWord(V3, 0, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected error for v3 which has no reserved field, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	if err := V2.Check(&Header{Start: 0xFFFF}); err != nil {
		t.Errorf("0xFFFF should fit a v2 start offset: %v", err)
	}
	if err := V2.Check(&Header{Start: 0x10000}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if err := V1.Check(&Header{Start: 0xFFFFFFFF}); err != nil {
		t.Errorf("v1 start is 32 bits: %v", err)
	}
	if err := V1.Check(&Header{Extension: make([]byte, 5)}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected error for oversized extension, got %v", err)
	}
}

func TestClone(t *testing.T) {
	h := &Header{Size: 10, Extension: []byte{1, 2}}
	c := h.Clone()
	c.Extension[0] = 9
	c.Size = 11
	if h.Extension[0] != 1 || h.Size != 10 {
		t.Error("Clone shares state with the original")
	}
}

package header

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kabili207/microapp-go/core/checksum"
)

func linkedImage(v *Variant, payload []byte) []byte {
	// A freshly linked binary carries a placeholder header.
	return append(make([]byte, v.Size), payload...)
}

func TestPrepare(t *testing.T) {
	c := mustCodec(t, V2, checksum.AlgorithmCRC16CCITT)
	payload := testPayload(100)
	data := linkedImage(V2, payload)

	build := uint32(987654321)
	im, err := Prepare(c, data, PrepareOptions{BuildVersion: &build})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	h := im.Header
	if h.Start != 20 {
		t.Errorf("Start = %d, want header size 20", h.Start)
	}
	if h.Size != 120 {
		t.Errorf("Size = %d, want 120", h.Size)
	}
	if h.AppBuildVersion != build {
		t.Errorf("AppBuildVersion = %d, want %d", h.AppBuildVersion, build)
	}
	if h.Checksum != checksum.CRC16CCITT(payload) {
		t.Errorf("Checksum = 0x%04X, want 0x%04X", h.Checksum, checksum.CRC16CCITT(payload))
	}
	if !im.Validate().OK() {
		t.Errorf("prepared image does not validate: %v", im.Validate().Err())
	}
	if !im.SizeOK() {
		t.Error("SizeOK false")
	}

	out := im.Bytes()
	if len(out) != len(data) {
		t.Fatalf("Bytes() length = %d, want %d", len(out), len(data))
	}
	if !bytes.Equal(out[V2.Size:], payload) {
		t.Error("payload changed")
	}

	reparsed, err := ParseImage(c, out, true)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if !reparsed.Validate().OK() {
		t.Error("reparsed image does not validate")
	}
}

func TestPrepare_KeepsPlaceholderFields(t *testing.T) {
	c := mustCodec(t, V2, checksum.AlgorithmCRC16CCITT)
	placeholder := &Header{SDKVersionMajor: 1, SDKVersionMinor: 4, AppBuildVersion: 55}
	data := append(V2.Encode(placeholder), testPayload(8)...)

	im, err := Prepare(c, data, PrepareOptions{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if im.Header.SDKVersionMajor != 1 || im.Header.SDKVersionMinor != 4 {
		t.Errorf("SDK version = %d.%d, want 1.4", im.Header.SDKVersionMajor, im.Header.SDKVersionMinor)
	}
	if im.Header.AppBuildVersion != 55 {
		t.Errorf("AppBuildVersion = %d, want 55", im.Header.AppBuildVersion)
	}

	sdk := [2]uint8{2, 0}
	im, err = Prepare(c, data, PrepareOptions{SDKVersion: &sdk})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if im.Header.SDKVersionMajor != 2 || im.Header.SDKVersionMinor != 0 {
		t.Errorf("SDK version = %d.%d, want 2.0", im.Header.SDKVersionMajor, im.Header.SDKVersionMinor)
	}
}

func TestPrepare_AbsoluteStartUntouched(t *testing.T) {
	c := mustCodec(t, V1, checksum.AlgorithmCRC16CCITT)
	data := append(V1.Encode(&Header{Start: 0x00071000}), testPayload(4)...)

	im, err := Prepare(c, data, PrepareOptions{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if im.Header.Start != 0x00071000 {
		t.Errorf("Start = 0x%X, want the linked address", im.Header.Start)
	}
}

func TestPrepare_Errors(t *testing.T) {
	c := mustCodec(t, V2, checksum.AlgorithmCRC16CCITT)

	if _, err := Prepare(c, make([]byte, 10), PrepareOptions{}); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("expected ErrMalformedHeader, got %v", err)
	}
	if _, err := Prepare(c, make([]byte, 0x10000), PrepareOptions{}); !errors.Is(err, ErrSizeOverflow) {
		t.Errorf("expected ErrSizeOverflow, got %v", err)
	}
}

func TestParseImage_Strict(t *testing.T) {
	c := mustCodec(t, V2, checksum.AlgorithmCRC16CCITT)
	data := append(V2.Encode(&Header{Size: 25}), testPayload(4)...)

	if _, err := ParseImage(c, data, false); err != nil {
		t.Errorf("lenient parse failed: %v", err)
	}

	_, err := ParseImage(c, data, true)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	var sme *SizeMismatchError
	if !errors.As(err, &sme) || sme.Declared != 25 || sme.Actual != 24 {
		t.Errorf("unexpected error detail: %+v", sme)
	}
}

func TestSynthesize(t *testing.T) {
	c := mustCodec(t, V2, checksum.AlgorithmCRC16CCITT)
	im := Synthesize(c)

	if !bytes.Equal(im.Bytes(), make([]byte, V2.Size)) {
		t.Errorf("synthesized header should be all zero, got % X", im.Bytes())
	}
	if im.Codec() != c {
		t.Error("Codec() mismatch")
	}
}

func TestPacked(t *testing.T) {
	for _, v := range []*Variant{V1, V2} {
		c := mustCodec(t, v, checksum.AlgorithmCRC16CCITT)
		im, err := Prepare(c, linkedImage(v, testPayload(8)), PrepareOptions{})
		if err != nil {
			t.Fatalf("%s: Prepare: %v", v, err)
		}
		b, err := im.Packed()
		if err != nil {
			t.Fatalf("%s: Packed: %v", v, err)
		}
		if !bytes.Equal(b, im.Bytes()) {
			t.Errorf("%s: Packed differs from Bytes", v)
		}
	}

	c := mustCodec(t, V3, checksum.AlgorithmFletcher32)
	im, err := Prepare(c, linkedImage(V3, testPayload(8)), PrepareOptions{})
	if err != nil {
		t.Fatalf("v3: Prepare: %v", err)
	}
	if _, err := im.Packed(); !errors.Is(err, ErrManifestOnly) {
		t.Errorf("v3: Packed error = %v, want ErrManifestOnly", err)
	}
}

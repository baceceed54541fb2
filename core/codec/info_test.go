package codec

import (
	"errors"
	"reflect"
	"testing"
)

func TestInfoRoundTrip(t *testing.T) {
	in := &Info{
		ProtocolVersion: 1,
		SDKVersionMajor: 0,
		SDKVersionMinor: 1,
		MaxApps:         2,
		MaxAppSize:      8192,
		MaxChunkSize:    192,
		MaxRAMUsage:     4096,
		Apps: []AppStatus{
			{BuildVersion: 0x01020304, SDKVersionMajor: 0, SDKVersionMinor: 1, Checksum: 0x1234, ChecksumHeader: 0xABCD, Flags: AppFlagHasData | AppFlagChecksumOK},
			{},
		},
	}

	data := in.WriteTo()
	if len(data) != InfoHeaderSize+2*AppStatusSize {
		t.Fatalf("WriteTo() length = %d", len(data))
	}
	// MaxAppSize 8192 little-endian
	if data[4] != 0x00 || data[5] != 0x20 {
		t.Errorf("MaxAppSize bytes = %02X %02X, want 00 20", data[4], data[5])
	}

	var got Info
	if err := got.ReadFrom(data); err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if !reflect.DeepEqual(&got, in) {
		t.Errorf("ReadFrom() = %+v, want %+v", got, in)
	}
	if !got.Apps[0].HasFlag(AppFlagChecksumOK) || got.Apps[0].HasFlag(AppFlagEnabled) {
		t.Errorf("flags = %08b", got.Apps[0].Flags)
	}
}

func TestInfoReadFromErrors(t *testing.T) {
	var in Info
	if err := in.ReadFrom(make([]byte, InfoHeaderSize-1)); !errors.Is(err, ErrInfoTooShort) {
		t.Errorf("short header: error = %v", err)
	}
	if err := in.ReadFrom(make([]byte, InfoHeaderSize+AppStatusSize-1)); !errors.Is(err, ErrInfoTooShort) {
		t.Errorf("partial slot: error = %v", err)
	}
	if err := in.ReadFrom(make([]byte, InfoHeaderSize)); err != nil || len(in.Apps) != 0 {
		t.Errorf("no slots: error = %v, apps = %d", err, len(in.Apps))
	}
}

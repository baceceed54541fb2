package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// InfoHeaderSize is the fixed part of an info body.
	InfoHeaderSize = 10
	// AppStatusSize is the size of one slot status record.
	AppStatusSize = 11

	// App status flags
	AppFlagHasData    = 0x01
	AppFlagChecksumOK = 0x02
	AppFlagEnabled    = 0x04
	AppFlagBooted     = 0x08
)

var ErrInfoTooShort = errors.New("info payload too short")

// AppStatus is the per-slot state reported by GetInfo.
type AppStatus struct {
	BuildVersion    uint32
	SDKVersionMajor uint8
	SDKVersionMinor uint8
	Checksum        uint16
	ChecksumHeader  uint16
	Flags           uint8
}

// HasFlag reports whether all bits of f are set.
func (s AppStatus) HasFlag(f uint8) bool {
	return s.Flags&f == f
}

// Info is the body of a GetInfo response.
type Info struct {
	ProtocolVersion uint8
	SDKVersionMajor uint8
	SDKVersionMinor uint8
	MaxApps         uint8
	MaxAppSize      uint16
	MaxChunkSize    uint16
	MaxRAMUsage     uint16
	Apps            []AppStatus
}

// WriteTo encodes the info body. Multi-byte fields are little-endian.
func (in *Info) WriteTo() []byte {
	data := make([]byte, InfoHeaderSize+AppStatusSize*len(in.Apps))
	data[0] = in.ProtocolVersion
	data[1] = in.SDKVersionMajor
	data[2] = in.SDKVersionMinor
	data[3] = in.MaxApps
	binary.LittleEndian.PutUint16(data[4:6], in.MaxAppSize)
	binary.LittleEndian.PutUint16(data[6:8], in.MaxChunkSize)
	binary.LittleEndian.PutUint16(data[8:10], in.MaxRAMUsage)

	i := InfoHeaderSize
	for _, app := range in.Apps {
		binary.LittleEndian.PutUint32(data[i:], app.BuildVersion)
		data[i+4] = app.SDKVersionMajor
		data[i+5] = app.SDKVersionMinor
		binary.LittleEndian.PutUint16(data[i+6:], app.Checksum)
		binary.LittleEndian.PutUint16(data[i+8:], app.ChecksumHeader)
		data[i+10] = app.Flags
		i += AppStatusSize
	}
	return data
}

// ReadFrom decodes an info body. Trailing bytes that do not form a complete
// slot record are rejected.
func (in *Info) ReadFrom(data []byte) error {
	if len(data) < InfoHeaderSize {
		return ErrInfoTooShort
	}
	in.ProtocolVersion = data[0]
	in.SDKVersionMajor = data[1]
	in.SDKVersionMinor = data[2]
	in.MaxApps = data[3]
	in.MaxAppSize = binary.LittleEndian.Uint16(data[4:6])
	in.MaxChunkSize = binary.LittleEndian.Uint16(data[6:8])
	in.MaxRAMUsage = binary.LittleEndian.Uint16(data[8:10])

	rest := data[InfoHeaderSize:]
	if len(rest)%AppStatusSize != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInfoTooShort, len(rest)%AppStatusSize)
	}

	in.Apps = make([]AppStatus, 0, len(rest)/AppStatusSize)
	for i := 0; i < len(rest); i += AppStatusSize {
		in.Apps = append(in.Apps, AppStatus{
			BuildVersion:    binary.LittleEndian.Uint32(rest[i:]),
			SDKVersionMajor: rest[i+4],
			SDKVersionMinor: rest[i+5],
			Checksum:        binary.LittleEndian.Uint16(rest[i+6:]),
			ChecksumHeader:  binary.LittleEndian.Uint16(rest[i+8:]),
			Flags:           rest[i+10],
		})
	}
	return nil
}

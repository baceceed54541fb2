// Package microapp orchestrates putting a microapp image onto a device.
//
// The device itself is reached through the Device interface; device/bridge
// provides an implementation over a transport. The Uploader runs an explicit
// ordered plan of named steps against a Device and makes sure the
// connection is closed again however the plan ends.
package microapp

import "context"

// Device is the collaborator that talks to the microapp service on a device.
// Each call completes or fails before the next one is issued.
type Device interface {
	Connect(ctx context.Context, address string) error
	GetMicroappInfo(ctx context.Context) (*Info, error)
	RemoveMicroapp(ctx context.Context, index uint8) error
	// UploadMicroapp writes data into slot index in chunks of at most
	// chunkSize bytes.
	UploadMicroapp(ctx context.Context, data []byte, index uint8, chunkSize int) error
	ValidateMicroapp(ctx context.Context, index uint8) error
	EnableMicroapp(ctx context.Context, index uint8) error
	DisableMicroapp(ctx context.Context, index uint8) error
	Disconnect(ctx context.Context) error
}

// ChunkReporter is implemented by devices that can report upload progress.
// The callback receives the number of bytes acknowledged so far and the
// total.
type ChunkReporter interface {
	SetChunkCallback(fn func(sent, total int))
}

// Info describes the device's microapp capabilities and slot state.
type Info struct {
	ProtocolVersion uint8
	SDKVersionMajor uint8
	SDKVersionMinor uint8
	MaxApps         int
	MaxAppSize      int
	MaxChunkSize    int
	MaxRAMUsage     int
	Apps            []AppStatus
}

// AppStatus is the state of one app slot.
type AppStatus struct {
	BuildVersion    uint32
	SDKVersionMajor uint8
	SDKVersionMinor uint8
	Checksum        uint16
	ChecksumHeader  uint16
	HasData         bool
	ChecksumOK      bool
	Enabled         bool
	Booted          bool
}

// Slot returns the status of slot index, or the zero status if the device
// did not report it.
func (in *Info) Slot(index uint8) AppStatus {
	if int(index) < len(in.Apps) {
		return in.Apps[index]
	}
	return AppStatus{}
}

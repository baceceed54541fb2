package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kabili207/microapp-go/core/checksum"
	"github.com/kabili207/microapp-go/core/chunk"
	"github.com/kabili207/microapp-go/core/codec"
	"github.com/kabili207/microapp-go/core/header"
	"github.com/kabili207/microapp-go/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Simulator)(nil)

// Simulator defaults, matching a typical device.
const (
	DefaultSimMaxApps      = 1
	DefaultSimMaxAppSize   = 8192
	DefaultSimMaxChunkSize = 192
	DefaultSimMaxRAMUsage  = 4096
)

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	MaxApps      int
	MaxAppSize   int
	MaxChunkSize int
	MaxRAMUsage  int

	ProtocolVersion uint8
	SDKVersionMajor uint8
	SDKVersionMinor uint8

	// Codec validates uploaded images. Defaults to the V2 layout with
	// CRC-16/CCITT.
	Codec *header.Codec

	// Drop, if set, is consulted for every command; returning true
	// discards the response so the client has to resend.
	Drop func(cmd *codec.Command) bool

	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// SlotState is the simulated state of one app slot.
type SlotState struct {
	HasData    bool
	ChecksumOK bool
	Enabled    bool
	Booted     bool
	Header     *header.Header
}

type simSlot struct {
	SlotState
	asm *chunk.Reassembler
}

// Simulator is an in-memory bridge and device. It implements
// transport.Transport: commands passed to SendFrame are executed at once and
// the framed response is delivered to the frame handler before SendFrame
// returns.
type Simulator struct {
	cfg SimulatorConfig
	log *slog.Logger

	mu           sync.Mutex
	started      bool
	connected    bool
	address      codec.MAC
	slots        []*simSlot
	commands     []uint8
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler
}

// NewSimulator creates a simulator with the given configuration.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.MaxApps <= 0 {
		cfg.MaxApps = DefaultSimMaxApps
	}
	if cfg.MaxAppSize <= 0 {
		cfg.MaxAppSize = DefaultSimMaxAppSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultSimMaxChunkSize
	}
	if cfg.MaxRAMUsage <= 0 {
		cfg.MaxRAMUsage = DefaultSimMaxRAMUsage
	}
	if cfg.MaxApps > 255 || cfg.MaxAppSize > 0xFFFF || cfg.MaxChunkSize > 0xFFFF || cfg.MaxRAMUsage > 0xFFFF {
		return nil, fmt.Errorf("simulator limits out of range: %+v", cfg)
	}
	if cfg.Codec == nil {
		c, err := header.NewCodec(header.V2, checksum.AlgorithmCRC16CCITT)
		if err != nil {
			return nil, err
		}
		cfg.Codec = c
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	slots := make([]*simSlot, cfg.MaxApps)
	for i := range slots {
		slots[i] = &simSlot{asm: chunk.NewReassembler(cfg.MaxAppSize)}
	}

	return &Simulator{
		cfg:   cfg,
		log:   cfg.Logger.WithGroup("sim"),
		slots: slots,
	}, nil
}

// Start marks the link as up.
func (s *Simulator) Start(_ context.Context) error {
	s.mu.Lock()
	s.started = true
	handler := s.stateHandler
	s.mu.Unlock()

	if handler != nil {
		handler(s, transport.EventConnected)
	}
	return nil
}

// Stop marks the link as down. Slot contents survive.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	s.started = false
	s.connected = false
	handler := s.stateHandler
	s.mu.Unlock()

	if handler != nil {
		handler(s, transport.EventDisconnected)
	}
	return nil
}

// IsConnected returns true between Start and Stop.
func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// SetFrameHandler sets the callback for responses.
func (s *Simulator) SetFrameHandler(fn transport.FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameHandler = fn
}

// SetStateHandler sets the callback for link state changes.
func (s *Simulator) SetStateHandler(fn transport.StateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateHandler = fn
}

// SendFrame executes one command and delivers its response.
func (s *Simulator) SendFrame(payload []byte) error {
	if !s.IsConnected() {
		return transport.ErrNotConnected
	}

	var cmd codec.Command
	if err := cmd.ReadFrom(payload); err != nil {
		s.log.Debug("ignoring malformed command", "error", err)
		return nil
	}

	resp := s.execute(&cmd)
	if s.cfg.Drop != nil && s.cfg.Drop(&cmd) {
		s.log.Debug("dropping response", "cmd", codec.CommandName(cmd.Type), "seq", cmd.Seq)
		return nil
	}

	// Round-trip through the wire framing.
	frame, err := codec.EncodeFrame(resp.WriteTo())
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	out, _, err := codec.DecodeFrame(frame)
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	s.mu.Lock()
	handler := s.frameHandler
	s.mu.Unlock()
	if handler != nil {
		handler(out, transport.FrameSourceSimulator)
	}
	return nil
}

// Slot returns a snapshot of slot index.
func (s *Simulator) Slot(index int) (SlotState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.slots) {
		return SlotState{}, false
	}
	st := s.slots[index].SlotState
	if st.Header != nil {
		st.Header = st.Header.Clone()
	}
	return st, true
}

// Image returns the bytes written to slot index so far.
func (s *Simulator) Image(index int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.slots) {
		return nil
	}
	asm := s.slots[index].asm
	b, err := asm.Bytes(asm.Len())
	if err != nil {
		return nil
	}
	return b
}

// Commands returns the types of all commands executed, in order.
func (s *Simulator) Commands() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint8(nil), s.commands...)
}

func (s *Simulator) execute(cmd *codec.Command) *codec.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands = append(s.commands, cmd.Type)
	resp := &codec.Response{Type: cmd.Type, Seq: cmd.Seq}
	resp.Result, resp.Body = s.dispatch(cmd)
	s.log.Debug("executed", "cmd", codec.CommandName(cmd.Type), "seq", cmd.Seq, "result", codec.ResultName(resp.Result))
	return resp
}

// dispatch runs cmd with s.mu held.
func (s *Simulator) dispatch(cmd *codec.Command) (uint8, []byte) {
	switch cmd.Type {
	case codec.CmdConnect:
		mac, err := codec.ParseConnectBody(cmd.Body)
		if err != nil {
			return codec.ResultUnknown, nil
		}
		s.connected = true
		s.address = mac
		return codec.ResultSuccess, nil
	case codec.CmdDisconnect:
		s.connected = false
		return codec.ResultSuccess, nil
	}

	if !s.connected {
		return codec.ResultWrongState, nil
	}

	if cmd.Type == codec.CmdGetInfo {
		return codec.ResultSuccess, s.info().WriteTo()
	}

	var index uint8
	var upload *codec.UploadBody
	var err error
	if cmd.Type == codec.CmdUpload {
		upload, err = codec.ParseUploadBody(cmd.Body)
		if upload != nil {
			index = upload.Index
		}
	} else {
		index, err = codec.ParseIndexBody(cmd.Body)
	}
	if err != nil {
		return codec.ResultUnknown, nil
	}
	if int(index) >= len(s.slots) {
		return codec.ResultOutOfRange, nil
	}
	slot := s.slots[index]

	switch cmd.Type {
	case codec.CmdRemove:
		slot.asm.Reset()
		slot.SlotState = SlotState{}
		return codec.ResultSuccess, nil

	case codec.CmdUpload:
		if slot.Enabled {
			return codec.ResultWrongState, nil
		}
		if len(upload.Data) > s.cfg.MaxChunkSize {
			return codec.ResultOutOfRange, nil
		}
		if err := slot.asm.Write(int(upload.Offset), upload.Data); err != nil {
			return codec.ResultOutOfRange, nil
		}
		slot.HasData = true
		slot.ChecksumOK = false
		return codec.ResultSuccess, nil

	case codec.CmdValidate:
		if !slot.HasData {
			return codec.ResultNotFound, nil
		}
		return s.validate(slot), nil

	case codec.CmdEnable:
		if !slot.ChecksumOK {
			return codec.ResultWrongState, nil
		}
		slot.Enabled = true
		slot.Booted = true
		return codec.ResultSuccess, nil

	case codec.CmdDisable:
		slot.Enabled = false
		slot.Booted = false
		return codec.ResultSuccess, nil
	}

	return codec.ResultUnknown, nil
}

// validate checks the slot's image against its own header.
func (s *Simulator) validate(slot *simSlot) uint8 {
	raw, err := slot.asm.Bytes(slot.asm.Len())
	if err != nil {
		return codec.ResultWrongState
	}
	img, err := header.ParseImage(s.cfg.Codec, raw, false)
	if err != nil || int(img.Header.Size) > len(raw) {
		return codec.ResultChecksumMismatch
	}
	img, err = header.ParseImage(s.cfg.Codec, raw[:img.Header.Size], true)
	if err != nil || !img.Validate().OK() {
		return codec.ResultChecksumMismatch
	}
	slot.ChecksumOK = true
	slot.Header = img.Header
	return codec.ResultSuccess
}

func (s *Simulator) info() *codec.Info {
	info := &codec.Info{
		ProtocolVersion: s.cfg.ProtocolVersion,
		SDKVersionMajor: s.cfg.SDKVersionMajor,
		SDKVersionMinor: s.cfg.SDKVersionMinor,
		MaxApps:         uint8(s.cfg.MaxApps),
		MaxAppSize:      uint16(s.cfg.MaxAppSize),
		MaxChunkSize:    uint16(s.cfg.MaxChunkSize),
		MaxRAMUsage:     uint16(s.cfg.MaxRAMUsage),
		Apps:            make([]codec.AppStatus, len(s.slots)),
	}
	for i, slot := range s.slots {
		st := codec.AppStatus{}
		if slot.Header != nil {
			st.BuildVersion = slot.Header.AppBuildVersion
			st.SDKVersionMajor = slot.Header.SDKVersionMajor
			st.SDKVersionMinor = slot.Header.SDKVersionMinor
			st.Checksum = slot.Header.Checksum
			st.ChecksumHeader = slot.Header.ChecksumHeader
		}
		if slot.HasData {
			st.Flags |= codec.AppFlagHasData
		}
		if slot.ChecksumOK {
			st.Flags |= codec.AppFlagChecksumOK
		}
		if slot.Enabled {
			st.Flags |= codec.AppFlagEnabled
		}
		if slot.Booted {
			st.Flags |= codec.AppFlagBooted
		}
		info.Apps[i] = st
	}
	return info
}

// Package codec implements the wire format spoken between the host and a
// microapp bridge: CRC-protected frames carrying sequence-numbered commands
// and their responses.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Command types
	CmdConnect    = 0x01 // Connect to a device by MAC address
	CmdDisconnect = 0x02 // Drop the device connection
	CmdGetInfo    = 0x03 // Query microapp capabilities and slot status
	CmdRemove     = 0x04 // Erase an app slot
	CmdUpload     = 0x05 // Write one chunk into an app slot
	CmdValidate   = 0x06 // Verify the uploaded image's checksums
	CmdEnable     = 0x07 // Enable an app
	CmdDisable    = 0x08 // Disable an app

	// ResponseFlag is set in the type byte of every response.
	ResponseFlag = 0x80

	// Result codes
	ResultSuccess          = 0x00
	ResultWrongState       = 0x01
	ResultOutOfRange       = 0x02
	ResultChecksumMismatch = 0x03
	ResultBusy             = 0x04
	ResultNotFound         = 0x05
	ResultUnknown          = 0xFF

	// CommandHeaderSize is type(1) + seq(1).
	CommandHeaderSize = 2
	// ResponseHeaderSize is type(1) + seq(1) + result(1).
	ResponseHeaderSize = 3
	// UploadHeaderSize is index(1) + offset(2).
	UploadHeaderSize = 3

	// MaxChunkData is the largest chunk an upload command can carry.
	MaxChunkData = MaxFramePayload - CommandHeaderSize - UploadHeaderSize
)

var (
	ErrCommandTooShort  = errors.New("command too short")
	ErrResponseTooShort = errors.New("response too short")
	ErrNotAResponse     = errors.New("response flag not set")
	ErrNotACommand      = errors.New("response flag set on command")
	ErrBodyTooShort     = errors.New("command body too short")
	ErrChunkTooLarge    = errors.New("chunk exceeds maximum size")
)

// Command is a request from host to bridge.
type Command struct {
	Type uint8
	Seq  uint8
	Body []byte
}

// WriteTo encodes the command to raw bytes.
func (c *Command) WriteTo() []byte {
	data := make([]byte, CommandHeaderSize+len(c.Body))
	data[0] = c.Type
	data[1] = c.Seq
	copy(data[CommandHeaderSize:], c.Body)
	return data
}

// ReadFrom decodes a command from raw bytes.
func (c *Command) ReadFrom(data []byte) error {
	if len(data) < CommandHeaderSize {
		return ErrCommandTooShort
	}
	if data[0]&ResponseFlag != 0 {
		return fmt.Errorf("%w: type 0x%02X", ErrNotACommand, data[0])
	}
	c.Type = data[0]
	c.Seq = data[1]
	c.Body = append([]byte(nil), data[CommandHeaderSize:]...)
	return nil
}

// Response is the bridge's answer to a Command with the same Seq.
type Response struct {
	Type   uint8 // command type, without ResponseFlag
	Seq    uint8
	Result uint8
	Body   []byte
}

// WriteTo encodes the response to raw bytes.
func (r *Response) WriteTo() []byte {
	data := make([]byte, ResponseHeaderSize+len(r.Body))
	data[0] = r.Type | ResponseFlag
	data[1] = r.Seq
	data[2] = r.Result
	copy(data[ResponseHeaderSize:], r.Body)
	return data
}

// ReadFrom decodes a response from raw bytes.
func (r *Response) ReadFrom(data []byte) error {
	if len(data) < ResponseHeaderSize {
		return ErrResponseTooShort
	}
	if data[0]&ResponseFlag == 0 {
		return ErrNotAResponse
	}
	r.Type = data[0] &^ ResponseFlag
	r.Seq = data[1]
	r.Result = data[2]
	r.Body = append([]byte(nil), data[ResponseHeaderSize:]...)
	return nil
}

// NewIndexCommand builds a command whose body is a single app index
// (Remove, Validate, Enable, Disable).
func NewIndexCommand(cmdType, seq, index uint8) *Command {
	return &Command{Type: cmdType, Seq: seq, Body: []byte{index}}
}

// ParseIndexBody extracts the app index from an index command body.
func ParseIndexBody(body []byte) (uint8, error) {
	if len(body) < 1 {
		return 0, ErrBodyTooShort
	}
	return body[0], nil
}

// NewConnectCommand builds a Connect command for a device address.
func NewConnectCommand(seq uint8, mac MAC) *Command {
	return &Command{Type: CmdConnect, Seq: seq, Body: append([]byte(nil), mac[:]...)}
}

// ParseConnectBody extracts the device address from a Connect body.
func ParseConnectBody(body []byte) (MAC, error) {
	var mac MAC
	if len(body) < len(mac) {
		return mac, ErrBodyTooShort
	}
	copy(mac[:], body)
	return mac, nil
}

// NewUploadCommand builds an Upload command writing data at offset in slot
// index. Offset is little-endian like every multi-byte device field.
func NewUploadCommand(seq, index uint8, offset uint16, data []byte) (*Command, error) {
	if len(data) > MaxChunkData {
		return nil, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(data))
	}
	body := make([]byte, UploadHeaderSize+len(data))
	body[0] = index
	binary.LittleEndian.PutUint16(body[1:3], offset)
	copy(body[UploadHeaderSize:], data)
	return &Command{Type: CmdUpload, Seq: seq, Body: body}, nil
}

// UploadBody is the parsed body of an Upload command.
type UploadBody struct {
	Index  uint8
	Offset uint16
	Data   []byte
}

// ParseUploadBody parses an Upload command body.
func ParseUploadBody(body []byte) (*UploadBody, error) {
	if len(body) < UploadHeaderSize {
		return nil, ErrBodyTooShort
	}
	return &UploadBody{
		Index:  body[0],
		Offset: binary.LittleEndian.Uint16(body[1:3]),
		Data:   body[UploadHeaderSize:],
	}, nil
}

// CommandName returns a human-readable name for a command type.
func CommandName(t uint8) string {
	switch t {
	case CmdConnect:
		return "CONNECT"
	case CmdDisconnect:
		return "DISCONNECT"
	case CmdGetInfo:
		return "GET_INFO"
	case CmdRemove:
		return "REMOVE"
	case CmdUpload:
		return "UPLOAD"
	case CmdValidate:
		return "VALIDATE"
	case CmdEnable:
		return "ENABLE"
	case CmdDisable:
		return "DISABLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// ResultName returns a human-readable name for a result code.
func ResultName(r uint8) string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultWrongState:
		return "wrong state"
	case ResultOutOfRange:
		return "out of range"
	case ResultChecksumMismatch:
		return "checksum mismatch"
	case ResultBusy:
		return "busy"
	case ResultNotFound:
		return "not found"
	case ResultUnknown:
		return "unknown error"
	default:
		return fmt.Sprintf("unknown result 0x%02X", r)
	}
}

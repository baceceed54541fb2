// Package transport provides the links used to reach a microapp bridge.
// Every transport carries command and response payloads; framing is the
// transport's concern.
package transport

import (
	"context"
	"errors"
)

// Transport is the base interface for all transport implementations.
type Transport interface {
	// Start begins the transport's connection and message handling.
	// The provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool
	// SetFrameHandler sets the callback for incoming payloads.
	SetFrameHandler(fn FrameHandler)
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
	// SendFrame transmits one payload over the transport.
	SendFrame(payload []byte) error
}

// FrameHandler is called with the payload of every received frame.
type FrameHandler func(payload []byte, source FrameSource)

// StateHandler is called when the transport state changes.
type StateHandler func(transport Transport, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// FrameSource indicates where a frame came from.
type FrameSource int

const (
	// FrameSourceMQTT indicates the frame came from MQTT.
	FrameSourceMQTT FrameSource = iota
	// FrameSourceSerial indicates the frame came from a serial connection.
	FrameSourceSerial
	// FrameSourceSimulator indicates the frame came from an in-process simulator.
	FrameSourceSimulator
)

func (s FrameSource) String() string {
	switch s {
	case FrameSourceMQTT:
		return "mqtt"
	case FrameSourceSerial:
		return "serial"
	case FrameSourceSimulator:
		return "simulator"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by SendFrame when the link is down.
var ErrNotConnected = errors.New("not connected")

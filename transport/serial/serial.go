// Package serial provides a serial transport for a microapp bridge attached
// over USB or UART.
//
// The bridge wraps every command and response in a magic-prefixed frame with a
// CRC-16/CCITT trailer. This transport assembles frames from raw serial data,
// resynchronises on the magic after corruption and exposes the same Transport
// interface as the MQTT transport.
package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/microapp-go/core/codec"
	"github.com/kabili207/microapp-go/transport"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate for bridge serial connections.
	DefaultBaudRate = 115200

	// readBufSize is the size of the serial read buffer.
	readBufSize = 1024

	defaultReadTimeout = 200 * time.Millisecond
	dtrPulse           = 50 * time.Millisecond
)

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// ReadTimeout bounds each port read so the read loop notices Stop.
	// Defaults to 200ms.
	ReadTimeout time.Duration
	// ResetOnOpen pulses DTR after opening, which restarts most USB bridge
	// dongles into a clean state.
	ResetOnOpen bool
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a serial connection to a
// bridge.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu           sync.RWMutex
	port         serial.Port
	connected    bool
	done         chan struct{}
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler

	// asm is only touched by the read loop, and by tests.
	asm *assembler

	statsMu sync.Mutex
	stats   Stats
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("serial"),
	}
	t.asm = newAssembler(t.deliver)
	return t
}

// Start opens the port at 8N1 and starts the read loop. The loop ends when
// ctx is cancelled, Stop is called or the port fails.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	port, err := serial.Open(t.cfg.Port, &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", t.cfg.Port, err)
	}
	if err := port.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("setting read timeout: %w", err)
	}
	if t.cfg.ResetOnOpen {
		if err := pulseDTR(port); err != nil {
			port.Close()
			return fmt.Errorf("resetting bridge: %w", err)
		}
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.port = port
	t.connected = true
	t.done = done
	handler := t.stateHandler
	t.mu.Unlock()

	t.asm.Reset()
	go t.readLoop(ctx, port, done)

	t.log.Info("connected to bridge", "port", t.cfg.Port, "baud", t.cfg.BaudRate)
	if handler != nil {
		handler(t, transport.EventConnected)
	}
	return nil
}

// Stop closes the port and waits for the read loop to exit. Stopping a
// transport that is not running is a no-op.
func (t *Transport) Stop() error {
	t.mu.Lock()
	port, done, wasConnected := t.port, t.done, t.connected
	t.port, t.done, t.connected = nil, nil, false
	handler := t.stateHandler
	t.mu.Unlock()

	if port == nil {
		return nil
	}

	err := port.Close()
	<-done

	if wasConnected && handler != nil {
		handler(t, transport.EventDisconnected)
	}
	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetFrameHandler sets the callback for incoming frame payloads.
func (t *Transport) SetFrameHandler(fn transport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendFrame wraps payload in a bridge frame and writes it to the serial port.
func (t *Transport) SendFrame(payload []byte) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return transport.ErrNotConnected
	}

	frame, err := codec.EncodeFrame(payload)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	t.log.Debug("tx frame", "len", len(payload))

	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}

	return nil
}

// readLoop feeds port reads to the frame assembler. A zero-byte read is a
// read timeout.
func (t *Transport) readLoop(ctx context.Context, port serial.Port, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufSize)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil || !t.IsConnected() {
				return
			}
			t.handleDisconnect(err)
			return
		}
		if n > 0 {
			t.asm.Write(buf[:n])
			t.statsMu.Lock()
			t.stats = t.asm.stats
			t.statsMu.Unlock()
		}
	}
}

// deliver hands one decoded payload to the frame handler.
func (t *Transport) deliver(payload []byte) {
	t.mu.RLock()
	handler := t.frameHandler
	t.mu.RUnlock()

	t.log.Debug("rx frame", "len", len(payload))
	if handler != nil {
		handler(payload, transport.FrameSourceSerial)
	}
}

// Stats returns the line counters collected since New.
func (t *Transport) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}

// pulseDTR drops and raises DTR.
func pulseDTR(port serial.Port) error {
	if err := port.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(dtrPulse)
	return port.SetDTR(true)
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

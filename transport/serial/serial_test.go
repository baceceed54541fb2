package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kabili207/microapp-go/transport"
)

func TestTransport_DeliversSerialFrames(t *testing.T) {
	payload := makeTestPayload()

	var received [][]byte
	tr := New(Config{Port: "/dev/null"})
	tr.SetFrameHandler(func(p []byte, source transport.FrameSource) {
		if source != transport.FrameSourceSerial {
			t.Errorf("expected FrameSourceSerial, got %v", source)
		}
		received = append(received, p)
	})

	f := frame(t, payload)
	tr.asm.Write(f[:3])
	tr.asm.Write(f[3:])

	if len(received) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(received))
	}
	if !bytes.Equal(received[0], payload) {
		t.Errorf("payload = % X, want % X", received[0], payload)
	}
}

func TestSendFrame_NotConnected(t *testing.T) {
	tr := New(Config{Port: "/dev/null", BaudRate: 115200})

	err := tr.SendFrame(makeTestPayload())
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("SendFrame() error = %v, want %v", err, transport.ErrNotConnected)
	}
}

func TestStart_RequiresPort(t *testing.T) {
	tr := New(Config{})
	if err := tr.Start(testContext(t)); err == nil {
		t.Fatal("expected error without a port")
	}
}

func TestStop_NotStarted(t *testing.T) {
	tr := New(Config{Port: "/dev/null"})
	var events int
	tr.SetStateHandler(func(transport.Transport, transport.Event) { events++ })

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if events != 0 {
		t.Errorf("got %d state events from an idle transport", events)
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{Port: "/dev/ttyUSB0"})
	if tr.cfg.BaudRate != DefaultBaudRate {
		t.Errorf("expected default baud rate %d, got %d", DefaultBaudRate, tr.cfg.BaudRate)
	}
	if tr.cfg.ReadTimeout != defaultReadTimeout {
		t.Errorf("expected default read timeout %v, got %v", defaultReadTimeout, tr.cfg.ReadTimeout)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
	if tr.Stats() != (Stats{}) {
		t.Errorf("fresh transport stats = %+v", tr.Stats())
	}
}

package bridge

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kabili207/microapp-go/core/codec"
	"github.com/kabili207/microapp-go/transport"
)

// exchange sends cmd to the simulator and returns the decoded response.
func exchange(t *testing.T, sim *Simulator, cmd *codec.Command) *codec.Response {
	t.Helper()
	var got *codec.Response
	sim.SetFrameHandler(func(p []byte, source transport.FrameSource) {
		if source != transport.FrameSourceSimulator {
			t.Errorf("source = %v, want simulator", source)
		}
		var r codec.Response
		if err := r.ReadFrom(p); err != nil {
			t.Fatalf("ReadFrom() error = %v", err)
		}
		got = &r
	})
	if err := sim.SendFrame(cmd.WriteTo()); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	if got == nil {
		t.Fatal("no response delivered")
	}
	return got
}

func TestSimulatorRequiresStart(t *testing.T) {
	sim := newTestSimulator(t, SimulatorConfig{})
	err := sim.SendFrame((&codec.Command{Type: codec.CmdGetInfo}).WriteTo())
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("SendFrame() before Start error = %v", err)
	}
}

func TestSimulatorStateEvents(t *testing.T) {
	sim := newTestSimulator(t, SimulatorConfig{})
	var events []transport.Event
	sim.SetStateHandler(func(_ transport.Transport, e transport.Event) {
		events = append(events, e)
	})
	_ = sim.Start(testContext(t))
	if !sim.IsConnected() {
		t.Error("IsConnected() = false after Start")
	}
	_ = sim.Stop()
	if len(events) != 2 || events[0] != transport.EventConnected || events[1] != transport.EventDisconnected {
		t.Errorf("events = %v", events)
	}
}

func TestSimulatorUploadOutOfOrder(t *testing.T) {
	sim := newTestSimulator(t, SimulatorConfig{})
	_ = sim.Start(testContext(t))

	mac := codec.MAC{1, 2, 3, 4, 5, 6}
	if r := exchange(t, sim, codec.NewConnectCommand(1, mac)); r.Result != codec.ResultSuccess || r.Seq != 1 {
		t.Fatalf("connect response = %+v", r)
	}

	image := buildImage(t, 30)
	second, _ := codec.NewUploadCommand(2, 0, 25, image[25:])
	first, _ := codec.NewUploadCommand(3, 0, 0, image[:25])
	for _, cmd := range []*codec.Command{second, first} {
		if r := exchange(t, sim, cmd); r.Result != codec.ResultSuccess {
			t.Fatalf("upload response = %+v", r)
		}
	}
	if got := sim.Image(0); !bytes.Equal(got, image) {
		t.Errorf("Image() = % X, want % X", got, image)
	}

	if r := exchange(t, sim, codec.NewIndexCommand(codec.CmdValidate, 4, 0)); r.Result != codec.ResultSuccess {
		t.Fatalf("validate response = %+v", r)
	}

	r := exchange(t, sim, &codec.Command{Type: codec.CmdGetInfo, Seq: 5})
	var info codec.Info
	if err := info.ReadFrom(r.Body); err != nil {
		t.Fatalf("info ReadFrom() error = %v", err)
	}
	st := info.Apps[0]
	if !st.HasFlag(codec.AppFlagHasData|codec.AppFlagChecksumOK) || st.HasFlag(codec.AppFlagEnabled) {
		t.Errorf("flags = %08b", st.Flags)
	}
	slot, _ := sim.Slot(0)
	if slot.Header == nil || st.Checksum != slot.Header.Checksum {
		t.Errorf("reported checksum = %04X, slot header = %v", st.Checksum, slot.Header)
	}
}

func TestSimulatorRejects(t *testing.T) {
	sim := newTestSimulator(t, SimulatorConfig{MaxAppSize: 64, MaxChunkSize: 16})
	_ = sim.Start(testContext(t))
	exchange(t, sim, codec.NewConnectCommand(1, codec.MAC{}))

	tooBig, _ := codec.NewUploadCommand(2, 0, 0, make([]byte, 17))
	if r := exchange(t, sim, tooBig); r.Result != codec.ResultOutOfRange {
		t.Errorf("oversized chunk result = %s", codec.ResultName(r.Result))
	}
	pastEnd, _ := codec.NewUploadCommand(3, 0, 60, make([]byte, 8))
	if r := exchange(t, sim, pastEnd); r.Result != codec.ResultOutOfRange {
		t.Errorf("write past capacity result = %s", codec.ResultName(r.Result))
	}
	if r := exchange(t, sim, &codec.Command{Type: 0x42, Seq: 4, Body: []byte{0}}); r.Result != codec.ResultUnknown {
		t.Errorf("unknown command result = %s", codec.ResultName(r.Result))
	}
	if r := exchange(t, sim, &codec.Command{Type: codec.CmdRemove, Seq: 5}); r.Result != codec.ResultUnknown {
		t.Errorf("missing index result = %s", codec.ResultName(r.Result))
	}

	// Partial upload cannot be validated.
	gap, _ := codec.NewUploadCommand(6, 0, 10, make([]byte, 4))
	exchange(t, sim, gap)
	if r := exchange(t, sim, codec.NewIndexCommand(codec.CmdValidate, 7, 0)); r.Result == codec.ResultSuccess {
		t.Error("validate of incomplete image succeeded")
	}
}

func TestSimulatorLimits(t *testing.T) {
	if _, err := NewSimulator(SimulatorConfig{MaxAppSize: 70000, Logger: quietLogger}); err == nil {
		t.Error("expected error for MaxAppSize over 16 bits")
	}
	sim := newTestSimulator(t, SimulatorConfig{})
	if _, ok := sim.Slot(DefaultSimMaxApps); ok {
		t.Error("Slot() past MaxApps should report false")
	}
}

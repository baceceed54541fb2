// Package bridge implements the microapp Device over a bridge link: a small
// device that relays host commands to the target over BLE and reports the
// results back. The same command set is served by Simulator, an in-memory
// bridge used for tests and dry runs.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/microapp-go/core/chunk"
	"github.com/kabili207/microapp-go/core/codec"
	"github.com/kabili207/microapp-go/device/microapp"
	"github.com/kabili207/microapp-go/transport"
)

// Compile-time interface checks.
var (
	_ microapp.Device        = (*Client)(nil)
	_ microapp.ChunkReporter = (*Client)(nil)
)

var (
	ErrTimeout    = errors.New("no response from bridge")
	ErrNotStarted = errors.New("client not started")
)

// ResultError is a non-success result code returned by the bridge.
type ResultError struct {
	Command uint8
	Result  uint8
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s: %s", codec.CommandName(e.Command), codec.ResultName(e.Result))
}

// ClientConfig holds the configuration for a bridge client.
type ClientConfig struct {
	// Timeout is the per-attempt response timeout. Default: 5 seconds.
	Timeout time.Duration
	// Retries is the number of resends after the first attempt.
	// Negative selects the default of 3.
	Retries int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client sends commands to a bridge and waits for the matching responses.
// Commands are issued one at a time.
type Client struct {
	tr      transport.Transport
	tracker *Tracker
	log     *slog.Logger

	// reqMu serialises requests.
	reqMu sync.Mutex
	seq   uint8

	mu      sync.Mutex
	onChunk func(sent, total int)
	done    chan struct{}
}

// NewClient creates a client that talks over tr. The transport must not be
// started yet; Start starts it.
func NewClient(tr transport.Transport, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.WithGroup("bridge")
	return &Client{
		tr: tr,
		tracker: NewTracker(TrackerConfig{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.Retries,
			Logger:     log,
		}),
		log: log,
	}
}

// Start starts the transport and the response timeout loop.
func (c *Client) Start(ctx context.Context) error {
	c.tr.SetFrameHandler(c.handleFrame)
	if err := c.tr.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.tracker.Start(ctx)
	}()
	return nil
}

// Stop stops the timeout loop and the transport.
func (c *Client) Stop() error {
	c.mu.Lock()
	done := c.done
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		c.tracker.Stop()
		<-done
	}
	return c.tr.Stop()
}

// SetChunkCallback sets the upload progress callback.
func (c *Client) SetChunkCallback(fn func(sent, total int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChunk = fn
}

func (c *Client) handleFrame(payload []byte, source transport.FrameSource) {
	var resp codec.Response
	if err := resp.ReadFrom(payload); err != nil {
		c.log.Debug("ignoring frame", "source", source, "error", err)
		return
	}
	if !c.tracker.Resolve(&resp) {
		c.log.Debug("unexpected response", "seq", resp.Seq, "cmd", codec.CommandName(resp.Type))
	}
}

// Do sends cmd and waits for its response. The command's Seq is assigned
// here. A non-success result is returned as *ResultError together with the
// response.
func (c *Client) Do(ctx context.Context, cmd *codec.Command) (*codec.Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	started := c.done != nil
	c.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	c.seq++
	cmd.Seq = c.seq
	payload := cmd.WriteTo()

	type result struct {
		resp *codec.Response
		err  error
	}
	ch := make(chan result, 1)

	c.tracker.Track(cmd.Seq, PendingRequest{
		Type:       cmd.Type,
		OnResponse: func(r *codec.Response) { ch <- result{resp: r} },
		OnTimeout:  func() { ch <- result{err: ErrTimeout} },
		Resend:     func() error { return c.tr.SendFrame(payload) },
	})

	c.log.Debug("request", "cmd", codec.CommandName(cmd.Type), "seq", cmd.Seq, "len", len(cmd.Body))
	if err := c.tr.SendFrame(payload); err != nil {
		c.tracker.Cancel(cmd.Seq)
		return nil, fmt.Errorf("sending %s: %w", codec.CommandName(cmd.Type), err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%s: %w", codec.CommandName(cmd.Type), r.err)
		}
		if r.resp.Result != codec.ResultSuccess {
			return r.resp, &ResultError{Command: cmd.Type, Result: r.resp.Result}
		}
		return r.resp, nil
	case <-ctx.Done():
		c.tracker.Cancel(cmd.Seq)
		return nil, ctx.Err()
	}
}

// Connect asks the bridge to connect to the device at address.
func (c *Client) Connect(ctx context.Context, address string) error {
	mac, err := codec.ParseMAC(address)
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, codec.NewConnectCommand(0, mac))
	return err
}

// Disconnect drops the bridge's device connection.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.Do(ctx, &codec.Command{Type: codec.CmdDisconnect})
	return err
}

// GetMicroappInfo queries capabilities and slot status.
func (c *Client) GetMicroappInfo(ctx context.Context) (*microapp.Info, error) {
	resp, err := c.Do(ctx, &codec.Command{Type: codec.CmdGetInfo})
	if err != nil {
		return nil, err
	}
	var wire codec.Info
	if err := wire.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("parsing info: %w", err)
	}
	return infoFromWire(&wire), nil
}

// RemoveMicroapp erases slot index.
func (c *Client) RemoveMicroapp(ctx context.Context, index uint8) error {
	_, err := c.Do(ctx, codec.NewIndexCommand(codec.CmdRemove, 0, index))
	return err
}

// ValidateMicroapp asks the device to verify the image in slot index.
func (c *Client) ValidateMicroapp(ctx context.Context, index uint8) error {
	_, err := c.Do(ctx, codec.NewIndexCommand(codec.CmdValidate, 0, index))
	return err
}

// EnableMicroapp enables the app in slot index.
func (c *Client) EnableMicroapp(ctx context.Context, index uint8) error {
	_, err := c.Do(ctx, codec.NewIndexCommand(codec.CmdEnable, 0, index))
	return err
}

// DisableMicroapp disables the app in slot index.
func (c *Client) DisableMicroapp(ctx context.Context, index uint8) error {
	_, err := c.Do(ctx, codec.NewIndexCommand(codec.CmdDisable, 0, index))
	return err
}

// UploadMicroapp sends data to slot index, one Upload command per chunk.
// Only the meaningful bytes of each chunk go on the wire.
func (c *Client) UploadMicroapp(ctx context.Context, data []byte, index uint8, chunkSize int) error {
	if chunkSize > codec.MaxChunkData {
		c.log.Debug("clamping chunk size to frame limit", "requested", chunkSize, "max", codec.MaxChunkData)
		chunkSize = codec.MaxChunkData
	}
	chunks, err := chunk.Split(data, chunkSize)
	if err != nil {
		return err
	}

	c.mu.Lock()
	onChunk := c.onChunk
	c.mu.Unlock()

	sent := 0
	for _, ch := range chunks {
		cmd, err := codec.NewUploadCommand(0, index, uint16(ch.Offset), ch.Bytes())
		if err != nil {
			return err
		}
		if _, err := c.Do(ctx, cmd); err != nil {
			return fmt.Errorf("chunk %d of %d: %w", ch.Index+1, len(chunks), err)
		}
		sent += ch.Len
		if onChunk != nil {
			onChunk(sent, len(data))
		}
	}
	c.log.Debug("upload complete", "index", index, "chunks", len(chunks), "bytes", sent)
	return nil
}

func infoFromWire(w *codec.Info) *microapp.Info {
	info := &microapp.Info{
		ProtocolVersion: w.ProtocolVersion,
		SDKVersionMajor: w.SDKVersionMajor,
		SDKVersionMinor: w.SDKVersionMinor,
		MaxApps:         int(w.MaxApps),
		MaxAppSize:      int(w.MaxAppSize),
		MaxChunkSize:    int(w.MaxChunkSize),
		MaxRAMUsage:     int(w.MaxRAMUsage),
		Apps:            make([]microapp.AppStatus, len(w.Apps)),
	}
	for i, a := range w.Apps {
		info.Apps[i] = microapp.AppStatus{
			BuildVersion:    a.BuildVersion,
			SDKVersionMajor: a.SDKVersionMajor,
			SDKVersionMinor: a.SDKVersionMinor,
			Checksum:        a.Checksum,
			ChecksumHeader:  a.ChecksumHeader,
			HasData:         a.HasFlag(codec.AppFlagHasData),
			ChecksumOK:      a.HasFlag(codec.AppFlagChecksumOK),
			Enabled:         a.HasFlag(codec.AppFlagEnabled),
			Booted:          a.HasFlag(codec.AppFlagBooted),
		}
	}
	return info
}

package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/microapp-go/core/codec"
)

const (
	// DefaultTimeout is the default time to wait for a response before
	// resending or giving up.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of resends after the initial
	// send (total attempts = 1 + MaxRetries).
	DefaultMaxRetries = 3

	// defaultCheckInterval is the resolution of the timeout check loop.
	defaultCheckInterval = 100 * time.Millisecond
)

// PendingRequest is a command awaiting its response.
type PendingRequest struct {
	// Type is the command type; a response of another type does not resolve
	// the request.
	Type uint8

	// OnResponse is called with the matching response. May be nil.
	OnResponse func(*codec.Response)

	// OnTimeout is called when all attempts are exhausted. May be nil.
	OnTimeout func()

	// Resend is called for each retry attempt. If it returns an error the
	// retry is counted and the error is logged. May be nil (no retries).
	Resend func() error

	sentAt  time.Time
	retries int
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Timeout is the time to wait for a response per attempt.
	// Default: 5 seconds.
	Timeout time.Duration

	// MaxRetries is the number of resends after the initial send.
	// Negative selects the default of 3.
	MaxRetries int

	// CheckInterval is how often timeouts are checked. Default: 100ms.
	CheckInterval time.Duration

	// Logger for tracker events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Tracker correlates responses with outstanding requests by sequence number
// and drives resends and timeouts.
type Tracker struct {
	cfg     TrackerConfig
	log     *slog.Logger
	mu      sync.Mutex
	pending map[uint8]*PendingRequest
	cancel  context.CancelFunc
	// stopPending is set by a Stop that ran before the loop registered
	// its cancel func.
	stopPending bool

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewTracker creates a request tracker with the given configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:     cfg,
		log:     logger.WithGroup("tracker"),
		pending: make(map[uint8]*PendingRequest),
		nowFn:   time.Now,
	}
}

// Track registers a pending request. An existing entry with the same
// sequence number is replaced without calling its callbacks.
func (t *Tracker) Track(seq uint8, req PendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req.sentAt = t.nowFn()
	req.retries = 0
	t.pending[seq] = &req
}

// Resolve delivers resp to the request with the same sequence number.
// Returns true if a matching request was pending.
func (t *Tracker) Resolve(resp *codec.Response) bool {
	t.mu.Lock()
	p, ok := t.pending[resp.Seq]
	if ok && p.Type != resp.Type {
		t.mu.Unlock()
		t.log.Debug("response type does not match request",
			"seq", resp.Seq,
			"want", codec.CommandName(p.Type),
			"got", codec.CommandName(resp.Type))
		return false
	}
	if ok {
		delete(t.pending, resp.Seq)
	}
	t.mu.Unlock()

	if ok && p.OnResponse != nil {
		p.OnResponse(resp)
	}
	return ok
}

// Cancel removes a pending request without calling any callbacks.
func (t *Tracker) Cancel(seq uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, seq)
}

// IsPending reports whether seq is awaiting a response.
func (t *Tracker) IsPending(seq uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[seq]
	return ok
}

// PendingCount returns the number of pending requests.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Start begins the timeout check loop. Blocks until the context is cancelled
// or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.mu.Lock()
	if t.stopPending {
		t.stopPending = false
		t.mu.Unlock()
		return
	}
	t.cancel = cancel
	t.mu.Unlock()

	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkTimeouts()
		}
	}
}

// Stop ends the timeout check loop. A Stop issued before the loop has
// started makes the next Start return at once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
		return
	}
	t.stopPending = true
}

// checkTimeouts resends or expires requests whose attempt has timed out.
func (t *Tracker) checkTimeouts() {
	t.mu.Lock()
	now := t.nowFn()

	var retryEntries, timeoutEntries []trackedRequest
	for seq, p := range t.pending {
		if now.Sub(p.sentAt) < t.cfg.Timeout {
			continue
		}
		if p.retries < t.cfg.MaxRetries && p.Resend != nil {
			p.retries++
			p.sentAt = now
			retryEntries = append(retryEntries, trackedRequest{seq, p})
		} else {
			delete(t.pending, seq)
			timeoutEntries = append(timeoutEntries, trackedRequest{seq, p})
		}
	}
	t.mu.Unlock()

	// Callbacks run outside the lock
	for _, e := range retryEntries {
		if err := e.req.Resend(); err != nil {
			t.log.Warn("resend failed", "seq", e.seq, "attempt", e.req.retries, "error", err)
		} else {
			t.log.Debug("resending", "seq", e.seq, "cmd", codec.CommandName(e.req.Type), "attempt", e.req.retries)
		}
	}

	for _, e := range timeoutEntries {
		t.log.Debug("request timed out", "seq", e.seq, "cmd", codec.CommandName(e.req.Type), "retries", e.req.retries)
		if e.req.OnTimeout != nil {
			e.req.OnTimeout()
		}
	}
}

type trackedRequest struct {
	seq uint8
	req *PendingRequest
}

// Package relay maintains the outbound stream to the next pipeline service
// and forwards stage output to it, isolating downstream failures from the
// inbound call.
package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/reliability"
)

// Result is the explicit outcome of one forward attempt, so callers and tests
// can assert on relay behavior without scraping logs.
type Result int

const (
	// Forwarded: the unit was written to the downstream stream.
	Forwarded Result = iota
	// Failed: the write failed; the relay is now closed and logged the fault.
	Failed
	// Skipped: the relay was not open (never dialed, already failed, or
	// closed), so the unit was dropped.
	Skipped
)

func (r Result) String() string {
	switch r {
	case Forwarded:
		return "forwarded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// conn is the slice of *websocket.Conn the relay uses.
type conn interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Options bound the dial retry loop.
type Options struct {
	DialAttempts int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialAttempts <= 0 {
		o.DialAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 200 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 2 * time.Second
	}
	return o
}

// Relay is one outbound stream, scoped to one inbound call. It mirrors the
// inbound protocol: a configuration frame first, then data frames in order.
type Relay struct {
	mu        sync.Mutex
	conn      conn
	sessionID string
	closed    bool
}

// Dial opens the downstream stream with capped exponential backoff between
// attempts and sends the configuration frame. url is the downstream stream
// endpoint, e.g. "ws://llm-engine:8082/v1/stream".
func Dial(ctx context.Context, url string, cfg frame.Config, opts Options) (*Relay, error) {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt < opts.DialAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt-1, opts.BackoffBase, opts.BackoffCap)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		return newWithConn(c, cfg)
	}
	return nil, fmt.Errorf("dial downstream %s: %w", url, lastErr)
}

// newWithConn wraps an established connection and sends the configuration
// frame. Shared by Dial and the tests.
func newWithConn(c conn, cfg frame.Config) (*Relay, error) {
	r := &Relay{conn: c, sessionID: cfg.SessionID}
	if err := c.WriteJSON(frame.NewConfig(cfg)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send downstream configuration: %w", err)
	}
	go r.drainLoop()
	return r, nil
}

// drainLoop discards the downstream service's response stream. The relay is
// one-way: responses flow back to that service's own caller, not through
// here. Reading keeps the peer's flow control moving and lets the websocket
// layer process close frames; a read error means the downstream stream is
// gone, so the relay closes and later forwards report Skipped.
func (r *Relay) drainLoop() {
	for {
		if _, _, err := r.conn.ReadMessage(); err != nil {
			r.mu.Lock()
			if !r.closed {
				log.Printf("relay: session %s downstream stream closed: %v", r.sessionID, err)
				r.closed = true
				_ = r.conn.Close()
			}
			r.mu.Unlock()
			return
		}
	}
}

// Forward writes one data frame downstream. A failed write closes the relay;
// subsequent forwards report Skipped. Failures never propagate to the
// inbound call.
func (r *Relay) Forward(d frame.Data) Result {
	if r == nil {
		return Skipped
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Skipped
	}
	if err := r.conn.WriteJSON(frame.NewData(d)); err != nil {
		log.Printf("relay: session %s downstream write failed: %v", r.sessionID, err)
		r.closed = true
		_ = r.conn.Close()
		return Failed
	}
	return Forwarded
}

// Open reports whether the relay can still forward.
func (r *Relay) Open() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Close shuts the downstream stream. Idempotent.
func (r *Relay) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}

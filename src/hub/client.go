package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// State is a step of the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client wraps a WebSocket connection and manages message flow. Its identity
// is fixed at construction.
type Client struct {
	id          string
	identity    types.Identity
	conn        types.Conn
	send        chan types.Frame
	connectedAt time.Time
	state       atomic.Int32

	mu     sync.RWMutex
	done   chan struct{}
	closed bool

	teardown sync.Once
}

// NewClient creates a client for an authenticated connection.
func NewClient(id string, identity types.Identity, conn types.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	c := &Client{
		id:          id,
		identity:    identity,
		conn:        conn,
		send:        make(chan types.Frame, buffer),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *Client) ID() string               { return c.id }
func (c *Client) Identity() types.Identity { return c.identity }
func (c *Client) ConnectedAt() time.Time   { return c.connectedAt }
func (c *Client) State() State             { return State(c.state.Load()) }
func (c *Client) setState(s State)         { c.state.Store(int32(s)) }

// activate moves an authenticated client to active. A client closed in the
// meantime stays closed.
func (c *Client) activate() bool {
	return c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive))
}

// Deliver queues a frame without blocking. It returns false if the client is
// closed or its send buffer is full.
func (c *Client) Deliver(f types.Frame) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// ReadPump reads frames from the WebSocket and hands them to out until the
// connection fails or ctx is done.
func (c *Client) ReadPump(ctx context.Context, out chan<- types.Frame) {
	for {
		var f types.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !errors.Is(err, types.ErrMalformedFrame) {
				return
			}
			f = types.Frame{}
		}
		if f.Timestamp.IsZero() {
			f.Timestamp = time.Now()
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return
		}
	}
}

// WritePump writes queued frames to the WebSocket. When the connection
// supports it, a ping is sent every pingInterval.
func (c *Client) WritePump(pingInterval time.Duration) {
	var tick <-chan time.Time
	pinger, canPing := c.conn.(types.Pinger)
	if canPing && pingInterval > 0 {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-tick:
			if err := pinger.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the pumps and closes the transport. Safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.setState(StateClosed)
	close(c.done)
	close(c.send)
	c.mu.Unlock()

	_ = c.conn.Close()
}

// Package hubtest provides an in-memory connection and verifier for driving a
// hub in tests.
package hubtest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-mcp/chatrelay/src/auth"
	"github.com/orchestra-mcp/chatrelay/src/errs"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// ErrClosed is returned by a closed Conn.
var ErrClosed = errors.New("connection closed")

// Conn implements types.Conn for testing without a real WebSocket.
type Conn struct {
	mu       sync.Mutex
	written  []types.Frame
	readCh   chan types.Frame
	closed   bool
	closedCh chan struct{}
}

// NewConn returns an open connection.
func NewConn() *Conn {
	return &Conn{
		readCh:   make(chan types.Frame, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *Conn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if f, ok := v.(types.Frame); ok {
		m.written = append(m.written, f)
	}
	return nil
}

func (m *Conn) ReadJSON(v any) error {
	select {
	case f := <-m.readCh:
		if ptr, ok := v.(*types.Frame); ok {
			*ptr = f
		}
		return nil
	case <-m.closedCh:
		return ErrClosed
	}
}

func (m *Conn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (m *Conn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Frames returns the written frames with the given event.
func (m *Conn) Frames(event string) []types.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Frame
	for _, f := range m.written {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Written returns every written frame in write order.
func (m *Conn) Written() []types.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Frame(nil), m.written...)
}

// ByRequest returns the first written frame carrying request id.
func (m *Conn) ByRequest(id string) (types.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.written {
		if f.ID == id {
			return f, true
		}
	}
	return types.Frame{}, false
}

// Send queues an inbound frame as if the peer had written it.
func (m *Conn) Send(t testing.TB, event, id string, data any) {
	t.Helper()
	f, err := types.NewFrame(event, id, data)
	require.NoError(t, err)
	m.readCh <- f
}

// Verifier treats the token as the user id. "" and "bad" are rejected.
type Verifier struct{}

func (Verifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	switch token {
	case "":
		return auth.Claims{}, errs.Authentication(nil, "no token provided")
	case "bad":
		return auth.Claims{}, errs.Authentication(nil, "invalid token")
	}
	return auth.Claims{Subject: types.UserID(token), Name: "user " + token}, nil
}

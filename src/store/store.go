// Package store defines the message persistence contract and an in-memory
// implementation.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store: closed")

// Store persists and retrieves direct messages.
type Store interface {
	// CreateMessage stores msg and returns it with its durable id. A zero
	// CreatedAt is filled with the current time.
	CreateMessage(ctx context.Context, msg types.Message) (types.Message, error)

	// ListMessages returns the conversation between two users in both
	// directions, oldest first.
	ListMessages(ctx context.Context, userID, otherUserID types.UserID) ([]types.Message, error)

	Close() error
}

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	msgs   []types.Message
	closed bool
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.Message{}, ErrClosed
	}

	m.nextID++
	msg.ID = m.nextID
	msg.Sender.ID = msg.SenderID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *Memory) ListMessages(ctx context.Context, userID, otherUserID types.UserID) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	out := make([]types.Message, 0)
	for _, msg := range m.msgs {
		if Between(msg, userID, otherUserID) {
			out = append(out, msg)
		}
	}
	m.mu.RUnlock()

	SortMessages(out)
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Between reports whether msg belongs to the conversation of a and b.
func Between(msg types.Message, a, b types.UserID) bool {
	return (msg.SenderID == a && msg.ReceiverID == b) ||
		(msg.SenderID == b && msg.ReceiverID == a)
}

// SortMessages orders by creation time, then id.
func SortMessages(msgs []types.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

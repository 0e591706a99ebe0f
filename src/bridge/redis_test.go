package bridge

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// mockBroadcastTarget records broadcasts forwarded from the bridge.
type mockBroadcastTarget struct {
	mu       sync.Mutex
	received []types.Broadcast
}

func (m *mockBroadcastTarget) BroadcastToLocal(b types.Broadcast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, b)
}

func (m *mockBroadcastTarget) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func testBroadcast(t *testing.T) types.Broadcast {
	t.Helper()
	f, err := types.NewFrame(types.EventMessageSent, "", types.Message{ID: 7, SenderID: "1", ReceiverID: "2", Text: "hi"})
	require.NoError(t, err)
	return types.Broadcast{Room: "user:2", Frame: f}
}

func TestRelayForwardsForeignBroadcast(t *testing.T) {
	target := &mockBroadcastTarget{}
	sender := NewRedisBridge(DefaultRedisConfig(), &mockBroadcastTarget{}, zerolog.Nop())
	receiver := NewRedisBridge(DefaultRedisConfig(), target, zerolog.Nop())

	data, err := sender.encode(testBroadcast(t))
	require.NoError(t, err)

	assert.True(t, receiver.relay(data))
	require.Len(t, target.received, 1)

	got := target.received[0]
	assert.Equal(t, types.RoomID("user:2"), got.Room)
	assert.Equal(t, types.EventMessageSent, got.Frame.Event)

	var msg types.Message
	require.NoError(t, got.Frame.Decode(&msg))
	assert.Equal(t, int64(7), msg.ID)
	assert.Equal(t, "hi", msg.Text)
}

func TestRelaySkipsOwnBroadcast(t *testing.T) {
	target := &mockBroadcastTarget{}
	b := NewRedisBridge(DefaultRedisConfig(), target, zerolog.Nop())

	data, err := b.encode(testBroadcast(t))
	require.NoError(t, err)

	assert.False(t, b.relay(data))
	assert.Empty(t, target.received)
}

func TestRelayIgnoresGarbage(t *testing.T) {
	target := &mockBroadcastTarget{}
	b := NewRedisBridge(DefaultRedisConfig(), target, zerolog.Nop())
	assert.False(t, b.relay([]byte("{not json")))
	assert.Empty(t, target.received)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, "chatrelay:ws:", cfg.Prefix)
	assert.Equal(t, "chatrelay:ws:broadcast", cfg.Channel())
}

func TestRedisBridgeAvailableFalseBeforeStart(t *testing.T) {
	rb := NewRedisBridge(DefaultRedisConfig(), &mockBroadcastTarget{}, zerolog.Nop())
	assert.False(t, rb.Available())
}

func TestRedisBridgeInstanceIDUnique(t *testing.T) {
	cfg := DefaultRedisConfig()
	b1 := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	b2 := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	assert.NotEqual(t, b1.InstanceID(), b2.InstanceID())
}

func TestRedisBridgeEndToEnd(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.Prefix = "chatrelay:test:" + t.Name() + ":"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target := &mockBroadcastTarget{}
	a := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	b := NewRedisBridge(cfg, target, zerolog.Nop())
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() {
		_ = a.Stop()
		_ = b.Stop()
	})
	assert.True(t, a.Available())

	require.NoError(t, a.Publish(testBroadcast(t)))
	require.Eventually(t, func() bool { return target.count() == 1 }, 5*time.Second, 10*time.Millisecond)
}

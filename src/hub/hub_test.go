package hub_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestra-mcp/chatrelay/src/errs"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/hub/hubtest"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type failingStore struct{ store.Store }

func (failingStore) CreateMessage(context.Context, types.Message) (types.Message, error) {
	return types.Message{}, errors.New("disk full")
}

// stallingStore blocks CreateMessage until the caller's context ends.
type stallingStore struct {
	store.Store
	entered chan struct{}
}

func (s *stallingStore) CreateMessage(ctx context.Context, _ types.Message) (types.Message, error) {
	s.entered <- struct{}{}
	<-ctx.Done()
	return types.Message{}, ctx.Err()
}

// gatedBridge holds userOffline publishes until release is closed.
type gatedBridge struct {
	held    chan struct{}
	release chan struct{}
}

func (b *gatedBridge) Available() bool { return true }

func (b *gatedBridge) Publish(bc types.Broadcast) error {
	if bc.Frame.Event != types.EventUserOffline {
		return nil
	}
	select {
	case b.held <- struct{}{}:
	default:
	}
	<-b.release
	return nil
}

func newTestHub(t *testing.T, s store.Store) *hub.Hub {
	t.Helper()
	if s == nil {
		s = store.NewMemory()
	}
	h := hub.New(hubtest.Verifier{}, s, zerolog.Nop(), hub.Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

// connect serves a mock connection for token and waits until it is active.
// The first connection of an identity is active once its own userOnline
// broadcast has come back to it.
func connect(t *testing.T, h *hub.Hub, token string) (*hubtest.Conn, <-chan error) {
	t.Helper()
	id := types.UserID(token)
	conn := hubtest.NewConn()
	done := make(chan error, 1)
	before := h.ConnectionCount(id)
	go func() { done <- h.Serve(context.Background(), conn, token) }()
	require.Eventually(t, func() bool {
		if h.ConnectionCount(id) <= before {
			return false
		}
		return before > 0 || presenceOf(t, conn.Frames(types.EventUserOnline), id) == 1
	}, waitFor, tick)
	return conn, done
}

func presenceOf(t *testing.T, frames []types.Frame, id types.UserID) int {
	t.Helper()
	n := 0
	for _, f := range frames {
		var p types.Presence
		require.NoError(t, f.Decode(&p))
		if p.UserID == id {
			n++
		}
	}
	return n
}

func TestTwoUsersExchangeMessage(t *testing.T) {
	h := newTestHub(t, nil)

	alice, _ := connect(t, h, "1")
	bob, _ := connect(t, h, "2")

	require.Eventually(t, func() bool {
		return presenceOf(t, alice.Frames(types.EventUserOnline), "2") == 1 &&
			presenceOf(t, bob.Frames(types.EventUserOnline), "1") == 1
	}, waitFor, tick)

	alice.Send(t, types.EventMessageSent, "r1", types.SendRequest{ReceiverID: "2", Text: "hi"})

	require.Eventually(t, func() bool {
		return len(alice.Frames(types.EventMessageSent)) == 1 && len(bob.Frames(types.EventMessageSent)) == 1
	}, waitFor, tick)

	var got types.Message
	require.NoError(t, bob.Frames(types.EventMessageSent)[0].Decode(&got))
	assert.Equal(t, types.UserID("1"), got.SenderID)
	assert.Equal(t, types.Identity{ID: "1", Name: "user 1"}, got.Sender)
	assert.Equal(t, types.UserID("2"), got.ReceiverID)
	assert.Equal(t, "hi", got.Text)

	require.Eventually(t, func() bool { _, ok := alice.ByRequest("r1"); return ok }, waitFor, tick)
	ack, _ := alice.ByRequest("r1")
	assert.Equal(t, types.EventAck, ack.Event)

	bob.Send(t, types.EventGetMessages, "r2", types.PeerRequest{ReceiverID: "1"})
	require.Eventually(t, func() bool { _, ok := bob.ByRequest("r2"); return ok }, waitFor, tick)
	reply, _ := bob.ByRequest("r2")
	var history []types.Message
	require.NoError(t, reply.Decode(&history))
	require.NotEmpty(t, history)
	assert.Equal(t, "hi", history[len(history)-1].Text)
}

func TestSelfSendDeliveredOnce(t *testing.T) {
	h := newTestHub(t, nil)
	alice, _ := connect(t, h, "1")

	alice.Send(t, types.EventMessageSent, "r1", types.SendRequest{ReceiverID: "1", Text: "note"})
	require.Eventually(t, func() bool { _, ok := alice.ByRequest("r1"); return ok }, waitFor, tick)
	assert.Len(t, alice.Frames(types.EventMessageSent), 1)
}

func TestLastDisconnectBroadcastsOffline(t *testing.T) {
	h := newTestHub(t, nil)

	alice, aliceDone := connect(t, h, "1")
	bob, _ := connect(t, h, "2")

	require.NoError(t, alice.Close())
	select {
	case err := <-aliceDone:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after close")
	}

	require.Eventually(t, func() bool {
		return presenceOf(t, bob.Frames(types.EventUserOffline), "1") == 1
	}, waitFor, tick)
	assert.False(t, h.IsOnline("1"))
	assert.Equal(t, 1, h.ClientCount())
}

// lastPresence returns the event of the most recent presence frame for id.
func lastPresence(t *testing.T, conn *hubtest.Conn, id types.UserID) string {
	t.Helper()
	event := ""
	for _, f := range conn.Written() {
		if f.Event != types.EventUserOnline && f.Event != types.EventUserOffline {
			continue
		}
		if presenceOf(t, []types.Frame{f}, id) == 1 {
			event = f.Event
		}
	}
	return event
}

func TestPresenceTransitionsStayOrdered(t *testing.T) {
	h := newTestHub(t, nil)
	observer, _ := connect(t, h, "100")
	first, firstDone := connect(t, h, "7")

	gate := &gatedBridge{held: make(chan struct{}, 1), release: make(chan struct{})}
	var once sync.Once
	release := func() { once.Do(func() { close(gate.release) }) }
	t.Cleanup(release)
	h.SetBridge(gate)

	require.NoError(t, first.Close())
	select {
	case <-gate.held:
	case <-time.After(waitFor):
		t.Fatal("userOffline never reached the bridge")
	}

	// A reconnect must wait for the pending offline broadcast.
	second := hubtest.NewConn()
	go func() { _ = h.Serve(context.Background(), second, "7") }()
	require.Never(t, func() bool { return h.ConnectionCount("7") > 0 }, 100*time.Millisecond, tick)

	release()
	select {
	case <-firstDone:
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after close")
	}

	require.Eventually(t, func() bool {
		return presenceOf(t, observer.Frames(types.EventUserOnline), "7") == 2
	}, waitFor, tick)
	assert.Equal(t, 1, presenceOf(t, observer.Frames(types.EventUserOffline), "7"))
	assert.Equal(t, types.EventUserOnline, lastPresence(t, observer, "7"))
	assert.True(t, h.IsOnline("7"))
}

func TestDisconnectInterruptsPendingSend(t *testing.T) {
	st := &stallingStore{Store: store.NewMemory(), entered: make(chan struct{}, 1)}
	h := newTestHub(t, st)
	alice, aliceDone := connect(t, h, "1")
	bob, _ := connect(t, h, "2")

	alice.Send(t, types.EventMessageSent, "r1", types.SendRequest{ReceiverID: "2", Text: "hi"})
	select {
	case <-st.entered:
	case <-time.After(waitFor):
		t.Fatal("store was never called")
	}
	require.NoError(t, alice.Close())

	select {
	case err := <-aliceDone:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve blocked on the pending send")
	}

	assert.False(t, h.IsOnline("1"))
	assert.Equal(t, map[types.RoomID]int{"user:2": 1}, h.Rooms())
	assert.Empty(t, alice.Frames(types.EventMessageSent))
	assert.Empty(t, bob.Frames(types.EventMessageSent))
	_, replied := alice.ByRequest("r1")
	assert.False(t, replied)
}

func TestMissingTokenRejected(t *testing.T) {
	h := newTestHub(t, nil)
	observer, _ := connect(t, h, "9")

	for _, token := range []string{"", "bad"} {
		conn := hubtest.NewConn()
		err := h.Serve(context.Background(), conn, token)
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrAuthentication)
		assert.True(t, conn.IsClosed())

		frames := conn.Frames(types.EventError)
		require.Len(t, frames, 1)
		assert.Equal(t, "unauthorized", frames[0].Error.Code)
	}

	assert.Equal(t, 1, h.ClientCount())
	assert.Equal(t, []types.UserID{"9"}, h.OnlineUsers())
	online := observer.Frames(types.EventUserOnline)
	assert.Equal(t, len(online), presenceOf(t, online, "9"), "only its own presence")
}

func TestMultipleConnectionsSinglePresenceTransition(t *testing.T) {
	h := newTestHub(t, nil)
	observer, _ := connect(t, h, "100")

	const k = 5
	conns := make([]*hubtest.Conn, 0, k)
	for i := 0; i < k; i++ {
		c, _ := connect(t, h, "7")
		conns = append(conns, c)
	}
	assert.Equal(t, k, h.ConnectionCount("7"))

	require.Eventually(t, func() bool {
		return presenceOf(t, observer.Frames(types.EventUserOnline), "7") >= 1
	}, waitFor, tick)

	for i, c := range conns {
		require.NoError(t, c.Close())
		if i < k-1 {
			require.Eventually(t, func() bool { return h.ConnectionCount("7") == k-1-i }, waitFor, tick)
			assert.True(t, h.IsOnline("7"))
		}
	}

	require.Eventually(t, func() bool {
		return presenceOf(t, observer.Frames(types.EventUserOffline), "7") == 1
	}, waitFor, tick)
	assert.Equal(t, 1, presenceOf(t, observer.Frames(types.EventUserOnline), "7"))
	assert.False(t, h.IsOnline("7"))
}

func TestValidationErrorKeepsConnection(t *testing.T) {
	h := newTestHub(t, nil)
	alice, _ := connect(t, h, "1")
	bob, _ := connect(t, h, "2")

	alice.Send(t, types.EventMessageSent, "r1", types.SendRequest{ReceiverID: "2", Text: "   "})
	alice.Send(t, "shout", "r2", map[string]string{})
	alice.Send(t, types.EventMessageSent, "r3", types.SendRequest{Text: "hello"})

	require.Eventually(t, func() bool { return len(alice.Frames(types.EventError)) == 3 }, waitFor, tick)
	for _, id := range []string{"r1", "r2", "r3"} {
		f, ok := alice.ByRequest(id)
		require.True(t, ok, id)
		assert.Equal(t, types.EventError, f.Event)
		assert.Equal(t, "invalid_payload", f.Error.Code)
	}

	assert.False(t, alice.IsClosed())
	assert.True(t, h.IsOnline("1"))
	assert.Empty(t, bob.Frames(types.EventMessageSent))
	assert.Empty(t, bob.Frames(types.EventError))

	// Still usable afterwards.
	alice.Send(t, types.EventMessageSent, "r4", types.SendRequest{ReceiverID: "2", Text: "ok"})
	require.Eventually(t, func() bool { return len(bob.Frames(types.EventMessageSent)) == 1 }, waitFor, tick)
}

func TestPersistenceFailureNotBroadcast(t *testing.T) {
	h := newTestHub(t, failingStore{store.NewMemory()})
	alice, _ := connect(t, h, "1")
	bob, _ := connect(t, h, "2")

	alice.Send(t, types.EventMessageSent, "r1", types.SendRequest{ReceiverID: "2", Text: "hi"})
	require.Eventually(t, func() bool { _, ok := alice.ByRequest("r1"); return ok }, waitFor, tick)

	f, _ := alice.ByRequest("r1")
	require.NotNil(t, f.Error)
	assert.Equal(t, "persistence_failed", f.Error.Code)
	assert.Empty(t, alice.Frames(types.EventMessageSent))
	assert.Empty(t, bob.Frames(types.EventMessageSent))
	assert.True(t, h.IsOnline("1"))
}

func TestJoinAndLeaveChat(t *testing.T) {
	h := newTestHub(t, nil)
	alice, _ := connect(t, h, "10")

	alice.Send(t, types.EventJoinChat, "j1", types.PeerRequest{ReceiverID: "9"})
	require.Eventually(t, func() bool { _, ok := alice.ByRequest("j1"); return ok }, waitFor, tick)

	joined, _ := alice.ByRequest("j1")
	assert.Equal(t, types.EventJoinedChat, joined.Event)
	var reply types.RoomReply
	require.NoError(t, joined.Decode(&reply))
	assert.Equal(t, types.RoomID("conversation:9:10"), reply.Room)
	assert.Equal(t, 1, h.Rooms()["conversation:9:10"])
	assert.Equal(t, 1, h.Rooms()["user:10"])

	alice.Send(t, types.EventLeaveChat, "l1", types.PeerRequest{ReceiverID: "9"})
	require.Eventually(t, func() bool { _, ok := alice.ByRequest("l1"); return ok }, waitFor, tick)
	left, _ := alice.ByRequest("l1")
	assert.Equal(t, types.EventAck, left.Event)
	assert.NotContains(t, h.Rooms(), types.RoomID("conversation:9:10"))
}

func TestClientInfo(t *testing.T) {
	h := newTestHub(t, nil)
	_, _ = connect(t, h, "5")

	ids := h.ConnectedClients()
	require.Len(t, ids, 1)

	info := h.ClientInfo(ids[0])
	require.NotNil(t, info)
	assert.Equal(t, types.UserID("5"), info.UserID)
	assert.Equal(t, "active", info.State)
	assert.Equal(t, []types.RoomID{"user:5"}, info.Rooms)
	assert.False(t, info.ConnectedAt.IsZero())

	assert.Nil(t, h.ClientInfo("nope"))
}

func TestShutdownClosesConnections(t *testing.T) {
	h := newTestHub(t, nil)
	a, aDone := connect(t, h, "1")
	b, bDone := connect(t, h, "2")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
	assert.NoError(t, <-aDone)
	assert.NoError(t, <-bDone)
	assert.Zero(t, h.ClientCount())

	err := h.Serve(context.Background(), hubtest.NewConn(), "3")
	assert.ErrorIs(t, err, hub.ErrShuttingDown)
}

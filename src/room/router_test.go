package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

type fakeEndpoint struct{ id string }

func (f *fakeEndpoint) ID() string { return f.id }
func (f *fakeEndpoint) Identity() types.Identity { return types.Identity{} }
func (f *fakeEndpoint) Deliver(types.Frame) bool { return true }

func TestDirectRoomIDIsOrderIndependent(t *testing.T) {
	pairs := [][2]types.UserID{
		{"1", "2"},
		{"2", "10"},
		{"-3", "4"},
		{"alice", "bob"},
		{"7", "bob"},
		{"", "1"},
		{"5", "5"},
		{"7", "007"},
	}
	for _, p := range pairs {
		assert.Equal(t, DirectRoomID(p[0], p[1]), DirectRoomID(p[1], p[0]), "%v", p)
	}
}

func TestDirectRoomIDFormat(t *testing.T) {
	assert.Equal(t, types.RoomID("conversation:1:2"), DirectRoomID("2", "1"))
	assert.Equal(t, types.RoomID("conversation:2:10"), DirectRoomID("10", "2"), "numeric ids order numerically")
	assert.Equal(t, types.RoomID("conversation:alice:bob"), DirectRoomID("bob", "alice"))
	assert.Equal(t, types.RoomID("conversation:3:3"), DirectRoomID("3", "3"))
	assert.Equal(t, types.RoomID("user:9"), InboxRoomID("9"))
	assert.Equal(t, types.RoomID("conversation:7:7"), DirectRoomID(types.ParseUserID("007"), "7"))
}

func TestJoinLeaveIdempotent(t *testing.T) {
	r := NewRouter()
	a := &fakeEndpoint{id: "a"}

	assert.True(t, r.Join(a, "user:1"))
	assert.False(t, r.Join(a, "user:1"))
	assert.Len(t, r.MembersOf("user:1"), 1)

	assert.True(t, r.Leave(a, "user:1"))
	assert.False(t, r.Leave(a, "user:1"))
	assert.Empty(t, r.MembersOf("user:1"))
	assert.Empty(t, r.Rooms(), "empty rooms are dropped")
}

func TestMembersOfUnknownRoom(t *testing.T) {
	r := NewRouter()
	members := r.MembersOf("conversation:1:2")
	assert.Empty(t, members)
}

func TestLeaveAll(t *testing.T) {
	r := NewRouter()
	a := &fakeEndpoint{id: "a"}
	b := &fakeEndpoint{id: "b"}

	r.Join(a, "user:1")
	r.Join(a, "conversation:1:2")
	r.Join(b, "conversation:1:2")

	left := r.LeaveAll("a")
	assert.ElementsMatch(t, []types.RoomID{"user:1", "conversation:1:2"}, left)
	assert.Empty(t, r.RoomsOf("a"))

	members := r.MembersOf("conversation:1:2")
	require.Len(t, members, 1)
	assert.Equal(t, "b", members[0].ID())
	assert.Equal(t, map[types.RoomID]int{"conversation:1:2": 1}, r.Rooms())

	assert.Empty(t, r.LeaveAll("a"))
}

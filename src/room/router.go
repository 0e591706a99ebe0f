// Package room derives room ids and tracks which connections belong to which
// rooms.
package room

import (
	"strconv"
	"sync"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

const (
	conversationPrefix = "conversation:"
	inboxPrefix        = "user:"
)

// DirectRoomID returns the room shared by two identities. The result does not
// depend on argument order; a == b yields a valid self-chat room.
func DirectRoomID(a, b types.UserID) types.RoomID {
	lo, hi := a, b
	if less(hi, lo) {
		lo, hi = hi, lo
	}
	return types.RoomID(conversationPrefix + string(lo) + ":" + string(hi))
}

// InboxRoomID returns the per-identity room joined at handshake.
func InboxRoomID(id types.UserID) types.RoomID {
	return types.RoomID(inboxPrefix + string(id))
}

// less orders ids numerically when both are integers, else lexicographically.
// Equal numbers with different spellings fall back to the string order.
func less(a, b types.UserID) bool {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a < b
}

// Router manages room membership per connection.
type Router struct {
	mu          sync.RWMutex
	rooms       map[types.RoomID]map[string]types.Endpoint // room -> set of connections
	memberships map[string]map[types.RoomID]struct{}        // connID -> set of rooms
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		rooms:       make(map[types.RoomID]map[string]types.Endpoint),
		memberships: make(map[string]map[types.RoomID]struct{}),
	}
}

// DirectRoomID is a convenience wrapper around the package function.
func (r *Router) DirectRoomID(a, b types.UserID) types.RoomID { return DirectRoomID(a, b) }

// InboxRoomID is a convenience wrapper around the package function.
func (r *Router) InboxRoomID(id types.UserID) types.RoomID { return InboxRoomID(id) }

// Join adds ep to room. It reports whether the membership is new.
func (r *Router) Join(ep types.Endpoint, room types.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]types.Endpoint)
		r.rooms[room] = members
	}
	if _, ok := members[ep.ID()]; ok {
		return false
	}
	members[ep.ID()] = ep

	joined := r.memberships[ep.ID()]
	if joined == nil {
		joined = make(map[types.RoomID]struct{})
		r.memberships[ep.ID()] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes ep from room. It reports whether ep was a member.
func (r *Router) Leave(ep types.Endpoint, room types.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(ep.ID(), room)
}

func (r *Router) leaveLocked(connID string, room types.RoomID) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if joined := r.memberships[connID]; joined != nil {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.memberships, connID)
		}
	}
	return true
}

// LeaveAll revokes every membership of a connection and returns the rooms it
// belonged to.
func (r *Router) LeaveAll(connID string) []types.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.memberships[connID]
	left := make([]types.RoomID, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(connID, room)
	}
	return left
}

// MembersOf returns a snapshot of the connections in room. Unknown rooms
// yield an empty result.
func (r *Router) MembersOf(room types.RoomID) []types.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]types.Endpoint, 0, len(members))
	for _, ep := range members {
		out = append(out, ep)
	}
	return out
}

// RoomsOf returns the rooms a connection has joined.
func (r *Router) RoomsOf(connID string) []types.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.memberships[connID]
	out := make([]types.RoomID, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	return out
}

// Rooms returns room names with their member counts.
func (r *Router) Rooms() map[types.RoomID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[types.RoomID]int, len(r.rooms))
	for room, members := range r.rooms {
		out[room] = len(members)
	}
	return out
}

package hub

import (
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// ConnectedClients returns a list of connected client IDs.
func (h *Hub) ConnectedClients() []string {
	eps := h.sessions.Connections()
	ids := make([]string, 0, len(eps))
	for _, ep := range eps {
		ids = append(ids, ep.ID())
	}
	return ids
}

// ClientInfo returns info for a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	ep, ok := h.sessions.Get(clientID)
	if !ok {
		return nil
	}
	info := types.ClientInfo{
		ID:     ep.ID(),
		UserID: ep.Identity().ID,
		Rooms:  h.rooms.RoomsOf(clientID),
	}
	if c, ok := ep.(*Client); ok {
		info.ConnectedAt = c.ConnectedAt()
		info.State = c.State().String()
	}
	return &info
}

// Rooms returns room ids with their local member counts.
func (h *Hub) Rooms() map[types.RoomID]int {
	return h.rooms.Rooms()
}

// OnlineUsers returns the identities connected to this instance, sorted.
func (h *Hub) OnlineUsers() []types.UserID {
	return h.sessions.OnlineUsers()
}

// IsOnline reports whether id has a live connection on this instance.
func (h *Hub) IsOnline(id types.UserID) bool {
	return h.sessions.IsOnline(id)
}

// ConnectionCount returns the number of live connections for id.
func (h *Hub) ConnectionCount(id types.UserID) int {
	return h.sessions.ConnectionCount(id)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return h.sessions.Count()
}

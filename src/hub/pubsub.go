package hub

import (
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// BroadcastToRoom delivers f to every local member of room and forwards it to
// the bridge.
func (h *Hub) BroadcastToRoom(room types.RoomID, f types.Frame) {
	h.publishToBridge(types.Broadcast{Room: room, Frame: f})
	h.deliverAll(h.rooms.MembersOf(room), f)
}

// BroadcastAll delivers f to every local connection and forwards it to the
// bridge.
func (h *Hub) BroadcastAll(f types.Frame) {
	h.publishToBridge(types.Broadcast{Frame: f})
	h.deliverAll(h.sessions.Connections(), f)
}

// BroadcastToLocal delivers a broadcast from the bridge to local connections only.
// It does not re-publish to Redis, preventing infinite loops.
func (h *Hub) BroadcastToLocal(b types.Broadcast) {
	if b.Room == "" {
		h.deliverAll(h.sessions.Connections(), b.Frame)
		return
	}
	h.deliverAll(h.rooms.MembersOf(b.Room), b.Frame)
}

func (h *Hub) deliverAll(eps []types.Endpoint, f types.Frame) {
	for _, ep := range eps {
		h.deliver(ep, f)
	}
}

func (h *Hub) deliver(ep types.Endpoint, f types.Frame) {
	if ep.Deliver(f) {
		return
	}
	if c, ok := ep.(*Client); ok && c.Closed() {
		return
	}
	h.metrics.FrameDropped()
	h.logger.Warn().Str("client_id", ep.ID()).Str("event", f.Event).Msg("send buffer full, dropping")
}

// publishToBridge forwards a broadcast to the bridge if one is attached.
func (h *Hub) publishToBridge(b types.Broadcast) {
	h.mu.RLock()
	br := h.bridge
	h.mu.RUnlock()

	if br == nil || !br.Available() {
		return
	}
	if err := br.Publish(b); err != nil {
		h.logger.Error().Err(err).Str("room", b.Room.String()).Msg("bridge publish failed")
	}
}

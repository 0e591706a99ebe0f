package hub

import (
	"context"
	"time"

	"github.com/orchestra-mcp/chatrelay/src/errs"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// dispatch handles one inbound frame. Errors are reported to the sender only.
func (h *Hub) dispatch(ctx context.Context, c *Client, f types.Frame) {
	var err error
	switch f.Event {
	case types.EventMessageSent:
		err = h.handleSend(ctx, c, f)
	case types.EventGetMessages:
		err = h.handleGetMessages(ctx, c, f)
	case types.EventJoinChat:
		err = h.handleJoinChat(c, f)
	case types.EventLeaveChat:
		err = h.handleLeaveChat(c, f)
	case "":
		err = errs.Validation("malformed frame")
	default:
		err = errs.Validation("unknown event %q", f.Event)
	}
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Connection is going away; nobody is left to tell.
		return
	}

	h.logger.Debug().Err(err).
		Str("client_id", c.ID()).
		Str("event", f.Event).
		Msg("request failed")
	h.replyError(c, f.ID, err)
}

func (h *Hub) handleSend(ctx context.Context, c *Client, f types.Frame) error {
	var req types.SendRequest
	if err := f.Decode(&req); err != nil {
		return errs.Validation("malformed messageSent payload")
	}
	msg, err := h.relay.HandleSend(ctx, c.Identity(), req.ReceiverID, req.Text)
	if err != nil {
		return err
	}
	h.metrics.MessageRelayed()
	return h.reply(c, types.EventAck, f.ID, msg)
}

func (h *Hub) handleGetMessages(ctx context.Context, c *Client, f types.Frame) error {
	var req types.PeerRequest
	if err := f.Decode(&req); err != nil {
		return errs.Validation("malformed getMessages payload")
	}
	msgs, err := h.relay.HandleGetMessages(ctx, c.Identity().ID, req.ReceiverID)
	if err != nil {
		return err
	}
	return h.reply(c, types.EventAck, f.ID, msgs)
}

func (h *Hub) handleJoinChat(c *Client, f types.Frame) error {
	var req types.PeerRequest
	if err := f.Decode(&req); err != nil {
		return errs.Validation("malformed joinChat payload")
	}
	if req.ReceiverID == "" {
		return errs.Validation("receiverId is required")
	}
	rm := h.rooms.DirectRoomID(c.Identity().ID, req.ReceiverID)
	h.rooms.Join(c, rm)
	if c.Closed() {
		// Teardown may already have revoked memberships.
		h.rooms.Leave(c, rm)
		return nil
	}
	return h.reply(c, types.EventJoinedChat, f.ID, types.RoomReply{Room: rm})
}

func (h *Hub) handleLeaveChat(c *Client, f types.Frame) error {
	var req types.PeerRequest
	if err := f.Decode(&req); err != nil {
		return errs.Validation("malformed leaveChat payload")
	}
	if req.ReceiverID == "" {
		return errs.Validation("receiverId is required")
	}
	rm := h.rooms.DirectRoomID(c.Identity().ID, req.ReceiverID)
	h.rooms.Leave(c, rm)
	return h.reply(c, types.EventAck, f.ID, types.RoomReply{Room: rm})
}

func (h *Hub) reply(c *Client, event, requestID string, data any) error {
	f, err := types.NewFrame(event, requestID, data)
	if err != nil {
		return err
	}
	h.deliver(c, f)
	return nil
}

func (h *Hub) replyError(c *Client, requestID string, err error) {
	kind := errs.KindOf(err)
	h.deliver(c, types.Frame{
		Event:     types.EventError,
		ID:        requestID,
		Error:     &types.ErrorBody{Code: string(kind), Message: errs.PublicMessage(err)},
		Timestamp: time.Now(),
	})
}

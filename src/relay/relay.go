// Package relay validates, persists and fans out direct messages.
package relay

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/orchestra-mcp/chatrelay/src/errs"
	"github.com/orchestra-mcp/chatrelay/src/room"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// DefaultMaxTextLength bounds message text, in runes.
const DefaultMaxTextLength = 4000

// Broadcaster delivers a frame to every member of a room.
type Broadcaster interface {
	BroadcastToRoom(room types.RoomID, f types.Frame)
}

// Relay handles messageSent and getMessages.
type Relay struct {
	store   store.Store
	out     Broadcaster
	logger  zerolog.Logger
	maxText int
	now     func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithMaxTextLength overrides DefaultMaxTextLength. Values <= 0 are ignored.
func WithMaxTextLength(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxText = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a relay over the given store and broadcaster.
func New(s store.Store, out Broadcaster, logger zerolog.Logger, opts ...Option) *Relay {
	r := &Relay{
		store:   s,
		out:     out,
		logger:  logger.With().Str("component", "relay").Logger(),
		maxText: DefaultMaxTextLength,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleSend persists a message from sender to receiverID and broadcasts the
// stored record to both inbox rooms. Nothing is persisted or broadcast when
// validation fails, and nothing is broadcast when persistence fails.
func (r *Relay) HandleSend(ctx context.Context, sender types.Identity, receiverID types.UserID, text string) (types.Message, error) {
	if err := r.validate(receiverID, text); err != nil {
		return types.Message{}, err
	}

	msg, err := r.store.CreateMessage(ctx, types.Message{
		SenderID:   sender.ID,
		ReceiverID: receiverID,
		Text:       text,
		Sender:     sender,
		CreatedAt:  r.now().UTC(),
	})
	if err != nil {
		r.logger.Error().Err(err).
			Str("sender_id", sender.ID.String()).
			Str("receiver_id", receiverID.String()).
			Msg("store message failed")
		return types.Message{}, errs.Persistence(err, "failed to store message")
	}

	f, err := types.NewFrame(types.EventMessageSent, "", msg)
	if err != nil {
		return types.Message{}, err
	}
	rooms := []types.RoomID{room.InboxRoomID(sender.ID)}
	if receiverID != sender.ID {
		rooms = append(rooms, room.InboxRoomID(receiverID))
	}
	for _, rm := range rooms {
		r.out.BroadcastToRoom(rm, f)
	}

	r.logger.Debug().
		Int64("message_id", msg.ID).
		Str("sender_id", sender.ID.String()).
		Str("receiver_id", receiverID.String()).
		Msg("message relayed")
	return msg, nil
}

// HandleGetMessages returns the conversation between userID and otherUserID,
// oldest first. It has no broadcast side effect.
func (r *Relay) HandleGetMessages(ctx context.Context, userID, otherUserID types.UserID) ([]types.Message, error) {
	if otherUserID == "" {
		return nil, errs.Validation("receiverId is required")
	}
	msgs, err := r.store.ListMessages(ctx, userID, otherUserID)
	if err != nil {
		r.logger.Error().Err(err).
			Str("user_id", userID.String()).
			Str("other_user_id", otherUserID.String()).
			Msg("list messages failed")
		return nil, errs.Persistence(err, "failed to load messages")
	}
	return msgs, nil
}

func (r *Relay) validate(receiverID types.UserID, text string) error {
	if receiverID == "" {
		return errs.Validation("receiverId is required")
	}
	if strings.TrimSpace(text) == "" {
		return errs.Validation("text must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > r.maxText {
		return errs.Validation("text exceeds %d characters", r.maxText)
	}
	return nil
}

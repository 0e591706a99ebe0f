// Package presence emits global online/offline notifications.
package presence

import (
	"github.com/rs/zerolog"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// Broadcaster delivers a frame to every connection.
type Broadcaster interface {
	BroadcastAll(f types.Frame)
}

// Presence turns session transitions into userOnline/userOffline frames.
type Presence struct {
	out    Broadcaster
	logger zerolog.Logger
}

// New creates a presence broadcaster.
func New(out Broadcaster, logger zerolog.Logger) *Presence {
	return &Presence{out: out, logger: logger.With().Str("component", "presence").Logger()}
}

// OnConnect broadcasts userOnline when first is set. It reports whether a
// broadcast was sent.
func (p *Presence) OnConnect(identity types.Identity, first bool) bool {
	if !first {
		return false
	}
	return p.emit(types.EventUserOnline, identity.ID)
}

// OnDisconnect broadcasts userOffline when last is set. It reports whether a
// broadcast was sent.
func (p *Presence) OnDisconnect(identity types.Identity, last bool) bool {
	if !last {
		return false
	}
	return p.emit(types.EventUserOffline, identity.ID)
}

// Frame builds a presence frame without broadcasting it.
func Frame(event string, id types.UserID) (types.Frame, error) {
	return types.NewFrame(event, "", types.Presence{UserID: id})
}

func (p *Presence) emit(event string, id types.UserID) bool {
	f, err := Frame(event, id)
	if err != nil {
		p.logger.Error().Err(err).Str("event", event).Msg("encode presence frame")
		return false
	}
	p.out.BroadcastAll(f)
	p.logger.Debug().Str("event", event).Str("user_id", id.String()).Msg("presence broadcast")
	return true
}

package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/orchestra-mcp/chatrelay/src/auth"
	"github.com/orchestra-mcp/chatrelay/src/errs"
	"github.com/orchestra-mcp/chatrelay/src/presence"
	"github.com/orchestra-mcp/chatrelay/src/relay"
	"github.com/orchestra-mcp/chatrelay/src/room"
	"github.com/orchestra-mcp/chatrelay/src/session"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// ErrShuttingDown is returned by Serve once Shutdown has started.
var ErrShuttingDown = errors.New("hub is shutting down")

// MessageBridge publishes broadcasts to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(b types.Broadcast) error
	Available() bool
}

// Metrics receives gateway events. NoopMetrics is used when none is set.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	SetOnlineUsers(n int)
	AuthFailed()
	MessageRelayed()
	FrameDropped()
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) ConnectionOpened()  {}
func (NoopMetrics) ConnectionClosed()  {}
func (NoopMetrics) SetOnlineUsers(int) {}
func (NoopMetrics) AuthFailed()        {}
func (NoopMetrics) MessageRelayed()    {}
func (NoopMetrics) FrameDropped()      {}

// Options tunes per-connection behaviour.
type Options struct {
	SendBuffer       int
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	MaxTextLength    int
	Metrics          Metrics
}

// DefaultOptions returns the options used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		SendBuffer:       256,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		MaxTextLength:    relay.DefaultMaxTextLength,
	}
}

// Hub authenticates connections and routes their frames to the relay, the
// room router and the presence broadcaster.
type Hub struct {
	sessions *session.Registry
	rooms    *room.Router
	relay    *relay.Relay
	presence *presence.Presence
	verifier auth.Verifier
	metrics  Metrics
	opts     Options

	bridge  MessageBridge
	closing bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
	logger  zerolog.Logger

	// Held from a session transition until its presence frame is out, so
	// observers see userOnline and userOffline in registry order.
	presenceMu sync.Mutex
}

// New creates a new Hub instance.
func New(verifier auth.Verifier, s store.Store, logger zerolog.Logger, opts Options) *Hub {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = def.MaxTextLength
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}

	h := &Hub{
		sessions: session.NewRegistry(),
		rooms:    room.NewRouter(),
		verifier: verifier,
		metrics:  opts.Metrics,
		opts:     opts,
		logger:   logger.With().Str("component", "hub").Logger(),
	}
	h.relay = relay.New(s, h, logger, relay.WithMaxTextLength(opts.MaxTextLength))
	h.presence = presence.New(h, logger)
	return h
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, broadcasts are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// Serve runs one connection from handshake to teardown and blocks until the
// connection is closed. The transport is closed when Serve returns.
func (h *Hub) Serve(ctx context.Context, conn types.Conn, token string) error {
	identity, err := h.authenticate(ctx, token)
	if err != nil {
		h.metrics.AuthFailed()
		h.reject(conn, err)
		return err
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrShuttingDown
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	c := NewClient(uuid.NewString(), identity, conn, h.opts.SendBuffer)
	h.activate(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pumps sync.WaitGroup
	frames := make(chan types.Frame)
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		defer cancel()
		c.WritePump(h.opts.PingInterval)
	}()
	go func() {
		defer pumps.Done()
		defer cancel()
		c.ReadPump(ctx, frames)
	}()

	h.mu.RLock()
	closing := h.closing
	h.mu.RUnlock()
	if closing {
		cancel()
	}

	for ctx.Err() == nil {
		select {
		case f := <-frames:
			h.dispatch(ctx, c, f)
		case <-ctx.Done():
		}
	}

	h.Disconnect(c)
	pumps.Wait()
	return nil
}

func (h *Hub) authenticate(ctx context.Context, token string) (types.Identity, error) {
	if h.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.HandshakeTimeout)
		defer cancel()
	}
	claims, err := h.verifier.Verify(ctx, token)
	if err != nil {
		if errs.KindOf(err) != errs.KindAuthentication {
			err = errs.Authentication(err, "invalid token")
		}
		return types.Identity{}, err
	}
	return claims.Identity(), nil
}

// reject writes a terminal error frame and closes the transport.
func (h *Hub) reject(conn types.Conn, err error) {
	h.logger.Warn().Err(err).Msg("handshake rejected")
	f := types.Frame{
		Event:     types.EventError,
		Error:     &types.ErrorBody{Code: string(errs.KindAuthentication), Message: errs.PublicMessage(err)},
		Timestamp: time.Now(),
	}
	if werr := conn.WriteJSON(f); werr != nil {
		h.logger.Debug().Err(werr).Msg("write rejection frame")
	}
	_ = conn.Close()
}

func (h *Hub) activate(c *Client) {
	identity := c.Identity()

	h.presenceMu.Lock()
	first := h.sessions.Register(c)
	h.rooms.Join(c, room.InboxRoomID(identity.ID))
	c.activate()
	h.sendPresenceSnapshot(c)
	h.presence.OnConnect(identity, first)
	h.presenceMu.Unlock()

	h.metrics.ConnectionOpened()
	h.metrics.SetOnlineUsers(h.sessions.UserCount())
	h.logger.Info().
		Str("client_id", c.ID()).
		Str("user_id", identity.ID.String()).
		Bool("first", first).
		Msg("client registered")
}

func (h *Hub) sendPresenceSnapshot(c *Client) {
	self := c.Identity().ID
	for _, id := range h.sessions.OnlineUsers() {
		if id == self {
			continue
		}
		f, err := presence.Frame(types.EventUserOnline, id)
		if err != nil {
			continue
		}
		h.deliver(c, f)
	}
}

// Disconnect tears a client down. Only the first call has any effect.
func (h *Hub) Disconnect(c *Client) {
	c.teardown.Do(func() {
		c.Close()

		h.presenceMu.Lock()
		left := h.rooms.LeaveAll(c.ID())
		identity, last, ok := h.sessions.Deregister(c.ID())
		if ok {
			h.presence.OnDisconnect(identity, last)
		}
		h.presenceMu.Unlock()
		if !ok {
			return
		}

		h.metrics.ConnectionClosed()
		h.metrics.SetOnlineUsers(h.sessions.UserCount())
		h.logger.Info().
			Str("client_id", c.ID()).
			Str("user_id", identity.ID.String()).
			Int("rooms", len(left)).
			Bool("last", last).
			Msg("client unregistered")
	})
}

// Shutdown stops accepting connections, closes every live one and waits for
// their teardown or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	for _, ep := range h.sessions.Connections() {
		if c, ok := ep.(*Client); ok {
			h.Disconnect(c)
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info().Msg("hub stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

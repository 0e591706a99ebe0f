// Package providers wires the hub, its bridge and its HTTP surface together.
package providers

import (
	"context"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/orchestra-mcp/chatrelay/config"
	"github.com/orchestra-mcp/chatrelay/src/auth"
	"github.com/orchestra-mcp/chatrelay/src/bridge"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/service"
	"github.com/orchestra-mcp/chatrelay/src/store"
)

// SocketProvider owns the hub for the lifetime of the server.
type SocketProvider struct {
	active  bool
	cfg     *config.SocketConfig
	logger  zerolog.Logger
	store   store.Store
	metrics hub.Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	hub      *hub.Hub
	service  *service.Service
	bridge   bridge.Bridge
	upgrader websocket.FastHTTPUpgrader
}

// NewSocketProvider creates a provider. The store is owned by the caller.
func NewSocketProvider(cfg *config.SocketConfig, st store.Store, m hub.Metrics, logger zerolog.Logger) *SocketProvider {
	return &SocketProvider{
		cfg:     cfg,
		store:   st,
		metrics: m,
		logger:  logger,
	}
}

func (p *SocketProvider) ID() string      { return "chatrelay/socket" }
func (p *SocketProvider) Version() string { return "0.1.0" }
func (p *SocketProvider) IsActive() bool  { return p.active }

// Activate builds the hub and service and, when enabled, starts the Redis
// bridge.
func (p *SocketProvider) Activate(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.hub = hub.New(auth.New(p.cfg.JWTSecret), p.store, p.logger, hub.Options{
		SendBuffer:       p.cfg.SendBuffer,
		HandshakeTimeout: p.cfg.HandshakeTimeout,
		PingInterval:     p.cfg.PingInterval,
		MaxTextLength:    p.cfg.MaxTextLength,
		Metrics:          p.metrics,
	})
	p.service = service.New(p.hub, p.logger)
	p.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  p.cfg.ReadBufferSize,
		WriteBufferSize: p.cfg.WriteBufferSize,
		CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
	}

	if p.cfg.Redis.Enabled {
		p.initBridge(ctx)
	}

	p.active = true
	p.logger.Info().Str("provider", p.ID()).Str("store", p.cfg.StoreDriver).Msg("websocket provider activated")
	return nil
}

// initBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func (p *SocketProvider) initBridge(ctx context.Context) {
	cfg := p.cfg.Redis
	rb := bridge.NewRedisBridge(&cfg, p.hub, p.logger)

	if err := rb.Start(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return
	}

	p.bridge = rb
	p.hub.SetBridge(rb)
	p.logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
}

// Deactivate closes every connection, then stops the bridge.
func (p *SocketProvider) Deactivate(ctx context.Context) error {
	if !p.active {
		return nil
	}
	err := p.hub.Shutdown(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("hub shutdown incomplete")
	}
	p.cancel()

	if p.bridge != nil {
		if berr := p.bridge.Stop(); berr != nil {
			p.logger.Error().Err(berr).Msg("bridge stop error")
		}
		p.bridge = nil
	}
	p.active = false
	return err
}

// Hub returns the hub. Nil before Activate.
func (p *SocketProvider) Hub() *hub.Hub { return p.hub }

package providers

import (
	"github.com/orchestra-mcp/chatrelay/src/auth"
	"github.com/orchestra-mcp/chatrelay/src/bridge"
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/metrics"
	"github.com/orchestra-mcp/chatrelay/src/presence"
	"github.com/orchestra-mcp/chatrelay/src/relay"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/store/postgres"
	"github.com/orchestra-mcp/chatrelay/src/store/sqlite"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// Compile-time interface assertions.
var (
	_ types.Conn             = (*fasthttpConn)(nil)
	_ types.Pinger           = (*fasthttpConn)(nil)
	_ types.Endpoint         = (*hub.Client)(nil)
	_ auth.Verifier          = (*auth.JWT)(nil)
	_ hub.MessageBridge      = (*bridge.RedisBridge)(nil)
	_ bridge.Bridge          = (*bridge.RedisBridge)(nil)
	_ bridge.BroadcastTarget = (*hub.Hub)(nil)
	_ relay.Broadcaster      = (*hub.Hub)(nil)
	_ presence.Broadcaster   = (*hub.Hub)(nil)
	_ hub.Metrics            = (*metrics.Prometheus)(nil)
	_ store.Store            = (*store.Memory)(nil)
	_ store.Store            = (*sqlite.Store)(nil)
	_ store.Store            = (*postgres.Postgres)(nil)
)

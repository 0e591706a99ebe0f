// Package bridge relays room and global broadcasts between relay instances.
package bridge

import (
	"context"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// Bridge defines the interface for cross-instance broadcasting.
type Bridge interface {
	// Publish sends a broadcast to every other instance.
	Publish(b types.Broadcast) error

	// Start begins listening for broadcasts from other instances.
	Start(ctx context.Context) error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive broadcasts from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(b types.Broadcast)
}

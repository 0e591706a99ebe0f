// Package session tracks which identities are online and through which
// connections.
package session

import (
	"sort"
	"sync"

	"github.com/orchestra-mcp/chatrelay/src/types"
)

// Registry maps connections to identities and counts connections per identity.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]types.Endpoint                  // connID -> endpoint
	byUser map[types.UserID]map[string]types.Endpoint // userID -> set of connections
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]types.Endpoint),
		byUser: make(map[types.UserID]map[string]types.Endpoint),
	}
}

// Register adds ep under its identity and reports whether the identity
// transitioned from offline to online. Registering the same connection twice
// is a no-op.
func (r *Registry) Register(ep types.Endpoint) bool {
	id := ep.Identity().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[ep.ID()]; ok {
		return false
	}
	r.conns[ep.ID()] = ep
	set := r.byUser[id]
	if set == nil {
		set = make(map[string]types.Endpoint)
		r.byUser[id] = set
	}
	set[ep.ID()] = ep
	return len(set) == 1
}

// Deregister removes a connection. It reports the owning identity and whether
// that identity is now fully offline. ok is false if connID was unknown.
func (r *Registry) Deregister(connID string) (identity types.Identity, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.conns[connID]
	if !ok {
		return types.Identity{}, false, false
	}
	delete(r.conns, connID)

	identity = ep.Identity()
	set := r.byUser[identity.ID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byUser, identity.ID)
		return identity, true, true
	}
	return identity, false, true
}

// IsOnline reports whether the identity has at least one connection.
func (r *Registry) IsOnline(id types.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[id]) > 0
}

// ConnectionCount returns the number of live connections for an identity.
func (r *Registry) ConnectionCount(id types.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[id])
}

// OnlineUsers returns the online identities, sorted.
func (r *Registry) OnlineUsers() []types.UserID {
	r.mu.RLock()
	ids := make([]types.UserID, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns a registered connection by id.
func (r *Registry) Get(connID string) (types.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.conns[connID]
	return ep, ok
}

// Connections returns a snapshot of every registered connection.
func (r *Registry) Connections() []types.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Endpoint, 0, len(r.conns))
	for _, ep := range r.conns {
		out = append(out, ep)
	}
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserCount returns the number of online identities.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

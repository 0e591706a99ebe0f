// Package service is the query and push API the HTTP routes and embedding
// applications use on top of the hub.
package service

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/room"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// ErrClientNotFound is returned for connection ids the hub does not know.
var ErrClientNotFound = errors.New("client not found")

// PresenceInfo describes one identity on this instance.
type PresenceInfo struct {
	UserID      types.UserID `json:"userId"`
	Online      bool         `json:"online"`
	Connections int          `json:"connections"`
}

// Info summarises the hub.
type Info struct {
	Clients     int `json:"clients"`
	OnlineUsers int `json:"online_users"`
	Rooms       int `json:"rooms"`
}

// Service wraps a hub.
type Service struct {
	hub    *hub.Hub
	logger zerolog.Logger
}

// New creates a new service backed by the given hub.
func New(h *hub.Hub, logger zerolog.Logger) *Service {
	return &Service{hub: h, logger: logger.With().Str("component", "service").Logger()}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Info returns connection, user and room counts.
func (s *Service) Info() Info {
	return Info{
		Clients:     s.hub.ClientCount(),
		OnlineUsers: len(s.hub.OnlineUsers()),
		Rooms:       len(s.hub.Rooms()),
	}
}

// Presence reports whether id is online and how many connections it holds.
func (s *Service) Presence(id types.UserID) PresenceInfo {
	n := s.hub.ConnectionCount(id)
	return PresenceInfo{UserID: id, Online: n > 0, Connections: n}
}

// OnlineUsers returns the identities online on this instance.
func (s *Service) OnlineUsers() []types.UserID {
	return s.hub.OnlineUsers()
}

// GetRooms returns active rooms with member counts.
func (s *Service) GetRooms() map[types.RoomID]int {
	return s.hub.Rooms()
}

// GetConnectedClients returns IDs of all connected clients.
func (s *Service) GetConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// GetClientInfo returns info for a connected client, or ErrClientNotFound.
func (s *Service) GetClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return info, nil
}

// ListClients returns info for every connected client. Connections that go
// away while the list is built are skipped.
func (s *Service) ListClients() []types.ClientInfo {
	ids := s.GetConnectedClients()
	out := make([]types.ClientInfo, 0, len(ids))
	for _, id := range ids {
		if info, err := s.GetClientInfo(id); err == nil {
			out = append(out, *info)
		}
	}
	return out
}

// Notify pushes a server-originated frame to every connection of userID,
// on this instance and, with a bridge attached, on others.
func (s *Service) Notify(userID types.UserID, event string, data any) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	f, err := types.NewFrame(event, "", data)
	if err != nil {
		return err
	}
	s.hub.BroadcastToRoom(room.InboxRoomID(userID), f)
	s.logger.Debug().
		Str("user_id", userID.String()).
		Str("event", event).
		Msg("notification pushed")
	return nil
}

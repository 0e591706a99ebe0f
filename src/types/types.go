package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Inbound and outbound frame event names.
const (
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"
	EventMessageSent = "messageSent"
	EventGetMessages = "getMessages"
	EventJoinChat    = "joinChat"
	EventJoinedChat  = "joinedChat"
	EventLeaveChat   = "leaveChat"
	EventAck         = "ack"
	EventError       = "error"
)

// UserID identifies a user. On the wire it may be a JSON number or string.
type UserID string

// UnmarshalJSON accepts both `7` and `"7"`.
func (u *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = ParseUserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	*u = UserIDFromNumber(n)
	return nil
}

// ParseUserID trims s and renders integer ids in canonical form, so "007"
// and 7 name the same user.
func ParseUserID(s string) UserID {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return UserID(strconv.FormatInt(i, 10))
	}
	return UserID(s)
}

// UserIDFromNumber renders integral numbers without exponent or fraction.
func UserIDFromNumber(n json.Number) UserID {
	if i, err := n.Int64(); err == nil {
		return UserID(strconv.FormatInt(i, 10))
	}
	if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
		return UserID(strconv.FormatInt(int64(f), 10))
	}
	return UserID(n.String())
}

func (u UserID) String() string { return string(u) }

// RoomID names a broadcast group.
type RoomID string

func (r RoomID) String() string { return string(r) }

// Identity is the authenticated owner of a connection.
type Identity struct {
	ID    UserID `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Message is a persisted direct message. Sender carries the identity the
// sender authenticated with when the message was stored.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   UserID    `json:"senderId"`
	ReceiverID UserID    `json:"receiverId"`
	Text       string    `json:"text"`
	Sender     Identity  `json:"sender"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ErrorBody is carried by error frames.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame is a WebSocket message.
type Frame struct {
	Event     string          `json:"event"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewFrame encodes data into a frame for the given event.
func NewFrame(event, requestID string, data any) (Frame, error) {
	f := Frame{Event: event, ID: requestID, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, err
		}
		f.Data = raw
	}
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("event %q: missing data", f.Event)
	}
	return json.Unmarshal(f.Data, v)
}

// Presence is the payload of userOnline and userOffline frames.
type Presence struct {
	UserID UserID `json:"userId"`
}

// PeerRequest is the payload of getMessages, joinChat and leaveChat.
type PeerRequest struct {
	ReceiverID UserID `json:"receiverId"`
}

// SendRequest is the payload of an inbound messageSent frame.
type SendRequest struct {
	ReceiverID UserID `json:"receiverId"`
	Text       string `json:"text"`
}

// RoomReply is the payload of joinedChat and leaveChat acknowledgements.
type RoomReply struct {
	Room RoomID `json:"room"`
}

// Broadcast is a fan-out instruction. An empty Room targets every connection.
type Broadcast struct {
	Room  RoomID `json:"room,omitempty"`
	Frame Frame  `json:"frame"`
}

// ClientInfo holds metadata about a connected WebSocket client.
type ClientInfo struct {
	ID          string    `json:"id"`
	UserID      UserID    `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
	Rooms       []RoomID  `json:"rooms"`
	State       string    `json:"state"`
}

// ErrMalformedFrame is returned by Conn.ReadJSON when a message was read but
// could not be decoded. The connection remains usable.
var ErrMalformedFrame = errors.New("malformed frame")

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Pinger is implemented by connections that support keepalive pings.
type Pinger interface {
	Ping() error
}

// Endpoint is a live connection as seen by the registry and the router.
type Endpoint interface {
	ID() string
	Identity() Identity
	Deliver(f Frame) bool
}

// Package auth verifies bearer tokens presented at the WebSocket handshake.
package auth

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/orchestra-mcp/chatrelay/src/errs"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// DefaultName is used when a token carries no display name.
const DefaultName = "Unknown User"

// Claims are the identity claims extracted from a verified token.
type Claims struct {
	Subject types.UserID
	Email   string
	Name    string
}

// Identity converts claims into a connection identity.
func (c Claims) Identity() types.Identity {
	name := c.Name
	if name == "" {
		name = DefaultName
	}
	return types.Identity{ID: c.Subject, Name: name, Email: c.Email}
}

// Verifier validates a credential and extracts identity claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// JWT verifies HMAC-signed tokens with a shared secret.
type JWT struct {
	secret []byte
	parser *jwt.Parser
}

// New creates a verifier for the given secret.
func New(secret string) *JWT {
	return &JWT{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithJSONNumber(),
		),
	}
}

// Verify checks the signature and registered claims and returns the subject.
func (j *JWT) Verify(ctx context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, errs.Authentication(nil, "no token provided")
	}
	if err := ctx.Err(); err != nil {
		return Claims{}, errs.Authentication(err, "handshake timed out")
	}

	mc := jwt.MapClaims{}
	if _, err := j.parser.ParseWithClaims(token, mc, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}); err != nil {
		return Claims{}, errs.Authentication(err, "invalid token")
	}

	sub, err := subject(mc["sub"])
	if err != nil {
		return Claims{}, errs.Authentication(err, "invalid token")
	}
	email, _ := mc["email"].(string)
	name, _ := mc["name"].(string)
	return Claims{Subject: sub, Email: email, Name: strings.TrimSpace(name)}, nil
}

func subject(v any) (types.UserID, error) {
	switch s := v.(type) {
	case string:
		if id := types.ParseUserID(s); id != "" {
			return id, nil
		}
	case json.Number:
		return types.UserIDFromNumber(s), nil
	}
	return "", errors.New("token has no sub claim")
}

// BearerToken strips an optional "Bearer " prefix from an Authorization value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

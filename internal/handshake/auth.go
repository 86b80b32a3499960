package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
)

// IdentityKey is the connection value key of the player's Identity.
const IdentityKey = "lithium:identity"

var (
	// ErrUnauthorized is returned when a game packet arrives on a connection
	// without an identity.
	ErrUnauthorized = errors.New("unauthorized: authentication required")

	// ErrInvalidToken is returned by authenticators rejecting an access token.
	ErrInvalidToken = errors.New("invalid access token")
)

// Identity is the authenticated player behind a connection.
type Identity struct {
	Name          string
	Authenticated bool
}

// Authenticator validates the access token a client presents in AuthToken.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, accessToken string) (Identity, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	return f(ctx, accessToken)
}

// StaticAuthenticator accepts a fixed set of tokens, each mapped to a player
// name. It suits development servers and tests.
type StaticAuthenticator map[string]string

// Authenticate implements Authenticator.
func (s StaticAuthenticator) Authenticate(_ context.Context, accessToken string) (Identity, error) {
	name, ok := s[accessToken]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Name: name, Authenticated: true}, nil
}

// SetIdentity stores id on the connection.
func SetIdentity(c router.Conn, id Identity) {
	c.SetValue(IdentityKey, id)
}

// GetIdentity returns the identity stored on the connection.
func GetIdentity(c router.Conn) (Identity, bool) {
	id, ok := c.Value(IdentityKey).(Identity)
	return id, ok
}

// RequireIdentity is middleware rejecting packets from connections that
// have no identity yet.
var RequireIdentity router.Middleware = router.MiddlewareFunc(
	func(ctx context.Context, c router.Conn, p protocol.Packet, next router.Handler) error {
		if _, ok := GetIdentity(c); !ok {
			return fmt.Errorf("%w: packet %d", ErrUnauthorized, p.PacketInfo().ID)
		}
		return next(ctx, c, p)
	},
)

package packets

import "github.com/lithium-clr/lithium-server-sub002/pkg/protocol"

// Packet ids of the authentication phase.
const (
	IDAuthGrant       int32 = 10
	IDAuthToken       int32 = 11
	IDServerAuthToken int32 = 12
)

// AuthGrant carries the authorization grant the client exchanges for an
// access token, plus the server's own identity token.
type AuthGrant struct {
	AuthorizationGrant  *string `wire:"bit=0,offset=0"`
	ServerIdentityToken *string `wire:"bit=1,offset=1"`
}

func (AuthGrant) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDAuthGrant, Name: "AuthGrant", MaxSize: 49171, VariableBlockStart: 9}
}

// AuthToken is the client's access token and the grant it issued for the
// server.
type AuthToken struct {
	AccessToken              *string `wire:"bit=0,offset=0"`
	ServerAuthorizationGrant *string `wire:"bit=1,offset=1"`
}

func (AuthToken) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDAuthToken, Name: "AuthToken", MaxSize: 49171, VariableBlockStart: 9}
}

// ServerAuthToken completes authentication.
type ServerAuthToken struct {
	ServerAccessToken *string `wire:"bit=0,offset=0"`
	PasswordChallenge []byte  `wire:"bit=1,offset=1"`
}

func (ServerAuthToken) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDServerAuthToken, Name: "ServerAuthToken", MaxSize: 32851, VariableBlockStart: 9}
}

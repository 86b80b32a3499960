package packets

import "github.com/lithium-clr/lithium-server-sub002/pkg/protocol"

// All returns one zero instance of every packet type, ordered by id.
func All() []protocol.Packet {
	return []protocol.Packet{
		Connect{},
		Disconnect{},
		Ping{},
		Pong{},
		ConnectAccept{},
		AuthGrant{},
		AuthToken{},
		ServerAuthToken{},
		WorldSettings{},
		ServerInfo{},
		ServerPlayerList{},
		JoinWorld{},
		ClientMovement{},
		ChatMessage{},
		AssetInitialize{},
		AssetPart{},
		RequestAssets{},
	}
}

// NewRegistry registers every packet type and builds the registry.
func NewRegistry() (*protocol.Registry, error) {
	b := protocol.NewRegistryBuilder()
	if err := b.RegisterAll(All()...); err != nil {
		return nil, err
	}
	return b.Build()
}

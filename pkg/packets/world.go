package packets

import (
	uuid "github.com/satori/go.uuid"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

// Packet ids of the game phase.
const (
	IDWorldSettings    int32 = 20
	IDServerInfo       int32 = 21
	IDServerPlayerList int32 = 22
	IDJoinWorld        int32 = 23
	IDClientMovement   int32 = 30
	IDChatMessage      int32 = 31
)

// Vector3d is a position in world space.
type Vector3d struct {
	X float64 `wire:"fixed=0"`
	Y float64 `wire:"fixed=1"`
	Z float64 `wire:"fixed=2"`
}

// Direction is an orientation in degrees.
type Direction struct {
	Yaw   float32 `wire:"fixed=0"`
	Pitch float32 `wire:"fixed=1"`
	Roll  float32 `wire:"fixed=2"`
}

// WorldSettings tells a joining client how tall the world is and which
// assets it needs before it can render it.
type WorldSettings struct {
	WorldHeight    int32   `wire:"fixed=0"`
	RequiredAssets []Asset `wire:"bit=0,offset=0"`
}

func (WorldSettings) PacketInfo() protocol.Info {
	return protocol.Info{
		ID:                 IDWorldSettings,
		Name:               "WorldSettings",
		Compression:        protocol.CompressionZstd,
		MaxSize:            1 << 20,
		VariableBlockStart: 9,
	}
}

// ServerInfo describes the server to a client that finished authenticating.
type ServerInfo struct {
	MaxPlayers int32   `wire:"fixed=0"`
	ServerName *string `wire:"bit=0,offset=0"`
	Motd       *string `wire:"bit=1,offset=1"`
}

func (ServerInfo) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDServerInfo, Name: "ServerInfo", MaxSize: 32768, VariableBlockStart: 13}
}

// PlayerEntry is one row of the player list.
type PlayerEntry struct {
	UUID     uuid.UUID `wire:"fixed=0"`
	Username string    `wire:"offset=0"`
}

// ServerPlayerList is the full player list with each player's latency in
// milliseconds.
type ServerPlayerList struct {
	Players   []PlayerEntry       `wire:"bit=0"`
	Latencies map[uuid.UUID]int32 `wire:"bit=1"`
}

func (ServerPlayerList) PacketInfo() protocol.Info {
	return protocol.Info{
		ID:                 IDServerPlayerList,
		Name:               "ServerPlayerList",
		Compression:        protocol.CompressionSnappy,
		MaxSize:            1 << 20,
		VariableBlockStart: 1,
	}
}

// JoinWorld moves a client into a world.
type JoinWorld struct {
	ClearWorld bool      `wire:"fixed=0"`
	FadeInOut  bool      `wire:"fixed=1"`
	WorldUUID  uuid.UUID `wire:"fixed=2"`
}

func (JoinWorld) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDJoinWorld, Name: "JoinWorld", MaxSize: 18, VariableBlockStart: 18}
}

// ClientMovement reports the client's position and orientation. Absent
// fields did not change since the last report.
type ClientMovement struct {
	Position        *Vector3d  `wire:"fixed=0,bit=0"`
	BodyOrientation *Direction `wire:"fixed=1,bit=1"`
	Sprinting       bool       `wire:"fixed=2"`
}

func (ClientMovement) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDClientMovement, Name: "ClientMovement", MaxSize: 38, VariableBlockStart: 38}
}

// ChatMessage is a line of chat.
type ChatMessage struct {
	Message *string `wire:"bit=0"`
}

func (ChatMessage) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDChatMessage, Name: "ChatMessage", MaxSize: 16384 * 4, VariableBlockStart: 1}
}

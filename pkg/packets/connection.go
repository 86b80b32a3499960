package packets

import (
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

// Packet ids of connection setup.
const (
	IDConnect       int32 = 0
	IDDisconnect    int32 = 1
	IDPing          int32 = 2
	IDPong          int32 = 3
	IDConnectAccept int32 = 4
)

// ClientType identifies the kind of client connecting.
type ClientType uint8

const (
	ClientGame ClientType = iota
	ClientEditor
)

// Connect is the first packet a client sends.
type Connect struct {
	// ProtocolHash is the client's registry fingerprint. The server rejects
	// clients whose packet definitions differ from its own.
	ProtocolHash uint64     `wire:"fixed=0"`
	ClientType   ClientType `wire:"fixed=1"`
	UUID         uuid.UUID  `wire:"fixed=2"`
	Language     string     `wire:"fixed=3,size=16"`
	ReferralPort *uint16    `wire:"fixed=4,bit=0"`

	Username      string  `wire:"offset=0"`
	IdentityToken *string `wire:"bit=1,offset=1"`
	ReferralData  []byte  `wire:"bit=2,offset=2"`
}

func (Connect) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDConnect, Name: "Connect", MaxSize: 38161, VariableBlockStart: 56}
}

// DisconnectType says whether a disconnect is final or the client may
// reconnect.
type DisconnectType uint8

const (
	DisconnectFinal DisconnectType = iota
	DisconnectCrash
)

// Disconnect closes the connection with a reason. Either side may send it.
type Disconnect struct {
	Type   DisconnectType `wire:"fixed=0"`
	Reason *string        `wire:"bit=0"`
}

func (Disconnect) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDDisconnect, Name: "Disconnect", MaxSize: 16384, VariableBlockStart: 2}
}

// NewDisconnect returns a final disconnect carrying reason.
func NewDisconnect(reason string) *Disconnect {
	return &Disconnect{Type: DisconnectFinal, Reason: &reason}
}

// Control gives the connection runtime this catalog's Disconnect, Ping and
// Pong packets.
type Control struct{}

// Disconnect returns a final Disconnect with reason.
func (Control) Disconnect(reason string) protocol.Packet { return NewDisconnect(reason) }

// Ping returns a Ping stamped with sent.
func (Control) Ping(seq int32, sent time.Time) protocol.Packet {
	return &Ping{ID: seq, Time: sent.UnixNano()}
}

// Reply echoes a Ping as a Pong.
func (Control) Reply(p protocol.Packet) (protocol.Packet, bool) {
	ping, ok := p.(*Ping)
	if !ok {
		return nil, false
	}
	return &Pong{ID: ping.ID, Time: ping.Time}, true
}

// Pong unpacks a Pong.
func (Control) Pong(p protocol.Packet) (int32, time.Time, bool) {
	pong, ok := p.(*Pong)
	if !ok {
		return 0, time.Time{}, false
	}
	return pong.ID, time.Unix(0, pong.Time), true
}

// Ping asks the peer to echo ID and Time in a Pong.
type Ping struct {
	ID   int32 `wire:"fixed=0"`
	Time int64 `wire:"fixed=1"` // sender clock, unix nanoseconds
}

func (Ping) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDPing, Name: "Ping", MaxSize: 12, VariableBlockStart: 12}
}

// Pong answers a Ping.
type Pong struct {
	ID   int32 `wire:"fixed=0"`
	Time int64 `wire:"fixed=1"`
}

func (Pong) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDPong, Name: "Pong", MaxSize: 12, VariableBlockStart: 12}
}

// ConnectAccept is the server's answer to an accepted Connect.
type ConnectAccept struct {
	ServerID          uuid.UUID `wire:"fixed=0"`
	RequiresAuth      bool      `wire:"fixed=1"`
	PasswordChallenge []byte    `wire:"bit=0"`
}

func (ConnectAccept) PacketInfo() protocol.Info {
	return protocol.Info{ID: IDConnectAccept, Name: "ConnectAccept", MaxSize: 1024, VariableBlockStart: 18}
}

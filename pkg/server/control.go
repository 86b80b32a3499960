package server

import (
	"time"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

// Control builds and recognizes the packets a Connection handles itself:
// heartbeats and the Disconnect sent before closing. The concrete types
// belong to the game's packet catalog.
//
// With no Control configured a connection sends no heartbeats, leaves peer
// pings to the router and closes without a farewell packet.
type Control interface {
	// Disconnect returns the packet announcing a close with reason.
	Disconnect(reason string) protocol.Packet

	// Ping returns a heartbeat carrying seq and the send time.
	Ping(seq int32, sent time.Time) protocol.Packet

	// Reply returns the answer to p when p is a peer heartbeat.
	Reply(p protocol.Packet) (protocol.Packet, bool)

	// Pong returns the sequence and send time echoed by p when p answers a
	// server heartbeat.
	Pong(p protocol.Packet) (seq int32, sent time.Time, ok bool)
}

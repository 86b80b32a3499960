// Package packets defines the game packets exchanged over the wire.
//
// Every type implements protocol.Packet with a value receiver and carries
// `wire` struct tags describing its layout. All returns one instance of each
// type for bulk registration:
//
//	b := protocol.NewRegistryBuilder()
//	if err := b.RegisterAll(packets.All()...); err != nil {
//	    return err
//	}
//	reg, err := b.Build()
//
// Packets are grouped by the phase that uses them: connection setup
// (Connect, ConnectAccept, Disconnect, Ping, Pong), authentication (AuthGrant,
// AuthToken, ServerAuthToken), and game (world, asset, player and chat
// packets).
package packets

// Package server runs the network side of the wire protocol: it accepts
// peers, frames their byte streams into envelopes and hands decoded packets
// to the router of the connection's current phase.
//
// # Architecture
//
// The runtime consists of a few components:
//
//   - Transport: moves envelopes over a byte stream (StreamTransport, used
//     for TCP) or over binary WebSocket messages (WebSocketTransport)
//   - Connection: one peer with its own read loop, serialized send path,
//     heartbeat and router binding
//   - ConnectionManager: the partitioned table of live connections
//   - Server: listeners, admission limits and graceful shutdown
//
// # Connection Lifecycle
//
// Each accepted peer becomes a Connection bound to the initial router. Its
// read loop:
//  1. Reads the 8-byte envelope header
//  2. Rejects unknown ids and oversized lengths before reading the payload
//  3. Reads, decompresses and decodes the payload
//  4. Answers pings and records pong round trips through the configured
//     Control, which supplies the game's Ping, Pong and Disconnect packets
//  5. Dispatches every other packet to the active router
//
// A handler switches phases by calling SetRouter on its connection; the
// next packet read is dispatched by the new router.
//
// Malformed input closes only the offending connection, after a Disconnect
// naming the error kind. Packets the active router has no handler for are
// logged and dropped.
//
// # Example Usage
//
//	reg, _ := packets.NewRegistry()
//	codec, _ := protocol.NewCodec(reg)
//
//	initial := router.New(router.PhaseInitial)
//	router.On(initial, func(ctx context.Context, c router.Conn, p *packets.Connect) error {
//	    return c.Send(ctx, &packets.ConnectAccept{})
//	})
//
//	cfg := server.DefaultServerConfig().WithControl(packets.Control{})
//	srv := server.New(cfg, codec, initial)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

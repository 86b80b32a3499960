package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
)

var _ Control = packets.Control{}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCodec(t testing.TB) *protocol.Codec {
	t.Helper()
	reg, err := packets.NewRegistry()
	require.NoError(t, err)
	codec, err := protocol.NewCodec(reg)
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	return codec
}

func testConnConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   time.Second,
		ReadBufferSize: 1024,
		Control:        packets.Control{},
	}
}

// peer is the client end of an in-memory connection.
type peer struct {
	t     testing.TB
	conn  net.Conn
	codec *protocol.Codec
}

func (p *peer) send(pkt protocol.Packet) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(p.t, p.codec.WritePacket(p.conn, pkt))
}

func (p *peer) recv() protocol.Packet {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, pkt, err := p.codec.ReadPacket(p.conn)
	require.NoError(p.t, err)
	return pkt
}

// recvDisconnect reads packets until a Disconnect arrives and returns its
// reason.
func (p *peer) recvDisconnect() string {
	p.t.Helper()
	for {
		if d, ok := p.recv().(*packets.Disconnect); ok {
			require.NotNil(p.t, d.Reason)
			return *d.Reason
		}
	}
}

// newTestConn returns a server connection over an in-memory pipe and the
// peer on the other end.
func newTestConn(t testing.TB, initial *router.Router, cfg *ConnectionConfig) (*Connection, *peer) {
	t.Helper()
	if cfg == nil {
		cfg = testConnConfig()
	}
	codec := testCodec(t)
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	c := NewConnection(NewStreamTransport(server, cfg), codec, initial, cfg, testLogger())
	return c, &peer{t: t, conn: client, codec: codec}
}

// serve runs c.Serve in the background and returns a channel with its result.
func serve(ctx context.Context, c *Connection) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(ctx) }()
	return errCh
}

func waitErr(t testing.TB, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

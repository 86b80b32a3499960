package middleware

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
)

// =============================================================================
// Test Helpers
// =============================================================================

// mockConn implements router.Conn for testing.
type mockConn struct {
	mu     sync.Mutex
	id     string
	router *router.Router
	values map[string]any
	sent   []protocol.Packet
}

func newMockConn(phase router.Phase) *mockConn {
	return &mockConn{
		id:     "conn-1",
		router: router.New(phase),
		values: make(map[string]any),
	}
}

func (m *mockConn) ID() string         { return m.id }
func (m *mockConn) RemoteAddr() string { return "127.0.0.1:5520" }
func (m *mockConn) Send(_ context.Context, p protocol.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, p)
	return nil
}
func (m *mockConn) SetRouter(r *router.Router)     { m.router = r }
func (m *mockConn) Router() *router.Router         { return m.router }
func (m *mockConn) Close(string) error             { return nil }
func (m *mockConn) Value(key string) any           { return m.values[key] }
func (m *mockConn) SetValue(key string, value any) { m.values[key] = value }
func (m *mockConn) Logger() *slog.Logger           { return slog.Default() }

// testPacket is a minimal packet for middleware tests.
type testPacket struct{}

func (testPacket) PacketInfo() protocol.Info {
	return protocol.Info{ID: 77, Name: "Test", MaxSize: 16}
}

// unnamedPacket declares no name.
type unnamedPacket struct{}

func (unnamedPacket) PacketInfo() protocol.Info {
	return protocol.Info{ID: 78, MaxSize: 16}
}

// run dispatches p through mw to h.
func run(mw router.Middleware, c router.Conn, p protocol.Packet, h router.Handler) error {
	return router.Compose([]router.Middleware{mw}, h)(context.Background(), c, p)
}

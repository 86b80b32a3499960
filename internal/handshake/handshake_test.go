package handshake

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
)

// fakeConn records sent packets.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	sent   []protocol.Packet
	values map[string]any
	router *router.Router
	closed string
}

func newFakeConn(id string, r *router.Router) *fakeConn {
	return &fakeConn{id: id, router: r, values: make(map[string]any)}
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "test" }
func (c *fakeConn) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c *fakeConn) Send(_ context.Context, p protocol.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, p)
	return nil
}

func (c *fakeConn) SetRouter(r *router.Router) { c.router = r }
func (c *fakeConn) Router() *router.Router     { return c.router }
func (c *fakeConn) Close(reason string) error {
	c.closed = reason
	return nil
}
func (c *fakeConn) Value(key string) any           { return c.values[key] }
func (c *fakeConn) SetValue(key string, value any) { c.values[key] = value }

func (c *fakeConn) packets() []protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Packet(nil), c.sent...)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

type peerList []*fakeConn

func (l *peerList) Each(fn func(c router.Conn) bool) {
	for _, c := range *l {
		if !fn(c) {
			return
		}
	}
}

func packetIDs(ps []protocol.Packet) []int32 {
	ids := make([]int32, len(ps))
	for i, p := range ps {
		ids[i] = p.PacketInfo().ID
	}
	return ids
}

func newTestHandshake(t *testing.T, cfg Config) (*Handshake, *protocol.Registry, *peerList) {
	t.Helper()
	reg, err := packets.NewRegistry()
	require.NoError(t, err)
	peers := &peerList{}
	cfg.ServerName = "Test"
	cfg.Motd = "hello"
	cfg.MaxPlayers = 8
	cfg.WorldHeight = 256
	return New(cfg, reg, peers), reg, peers
}

func connectPacket(reg *protocol.Registry, name string) *packets.Connect {
	return &packets.Connect{
		ProtocolHash: reg.Fingerprint(),
		UUID:         uuid.NewV4(),
		Language:     "en",
		Username:     name,
	}
}

var joinSequence = []int32{
	packets.IDServerInfo,
	packets.IDWorldSettings,
	packets.IDJoinWorld,
	packets.IDServerPlayerList,
}

func TestOfflineJoin(t *testing.T) {
	h, reg, peers := newTestHandshake(t, Config{})
	c := newFakeConn("c1", h.Initial())
	*peers = append(*peers, c)

	ctx := context.Background()
	require.NoError(t, h.Initial().Dispatch(ctx, c, connectPacket(reg, "alice")))

	assert.Same(t, h.Game(), c.Router())
	sent := c.packets()
	require.Len(t, sent, 5)
	assert.Equal(t, append([]int32{packets.IDConnectAccept}, joinSequence...), packetIDs(sent))

	accept := sent[0].(*packets.ConnectAccept)
	assert.False(t, accept.RequiresAuth)
	assert.Equal(t, h.ServerID(), accept.ServerID)

	info := sent[1].(*packets.ServerInfo)
	assert.Equal(t, "Test", *info.ServerName)
	assert.Equal(t, int32(8), info.MaxPlayers)
	assert.Equal(t, int32(256), sent[2].(*packets.WorldSettings).WorldHeight)

	list := sent[4].(*packets.ServerPlayerList)
	require.Len(t, list.Players, 1)
	assert.Equal(t, "alice", list.Players[0].Username)

	id, ok := GetIdentity(c)
	require.True(t, ok)
	assert.Equal(t, Identity{Name: "alice"}, id)
}

func TestConnectRejected(t *testing.T) {
	h, reg, _ := newTestHandshake(t, Config{})
	ctx := context.Background()

	t.Run("protocol mismatch", func(t *testing.T) {
		c := newFakeConn("c1", h.Initial())
		p := connectPacket(reg, "alice")
		p.ProtocolHash++
		err := h.Initial().Dispatch(ctx, c, p)
		assert.ErrorIs(t, err, ErrProtocolMismatch)
		assert.Empty(t, c.packets())
		assert.Same(t, h.Initial(), c.Router())
	})

	for _, name := range []string{"", "   ", strings.Repeat("x", MaxUsernameLength+1)} {
		t.Run("username "+name, func(t *testing.T) {
			c := newFakeConn("c1", h.Initial())
			err := h.Initial().Dispatch(ctx, c, connectPacket(reg, name))
			assert.ErrorIs(t, err, ErrInvalidUsername)
		})
	}
}

func TestTokenJoin(t *testing.T) {
	h, reg, peers := newTestHandshake(t, Config{
		Authenticator: StaticAuthenticator{"s3cret": "alice"},
	})
	c := newFakeConn("c1", h.Initial())
	*peers = append(*peers, c)
	ctx := context.Background()

	require.NoError(t, h.Initial().Dispatch(ctx, c, connectPacket(reg, "guest")))
	assert.Same(t, h.Auth(), c.Router())
	sent := c.packets()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].(*packets.ConnectAccept).RequiresAuth)

	_, ok := GetIdentity(c)
	assert.False(t, ok, "no identity before authentication")

	c.reset()
	token := "s3cret"
	require.NoError(t, h.Auth().Dispatch(ctx, c, &packets.AuthToken{AccessToken: &token}))

	assert.Same(t, h.Game(), c.Router())
	sent = c.packets()
	assert.Equal(t, append([]int32{packets.IDServerAuthToken}, joinSequence...), packetIDs(sent))
	assert.NotEmpty(t, *sent[0].(*packets.ServerAuthToken).ServerAccessToken)

	id, ok := GetIdentity(c)
	require.True(t, ok)
	assert.Equal(t, Identity{Name: "alice", Authenticated: true}, id)
}

func TestTokenNameFallback(t *testing.T) {
	h, reg, _ := newTestHandshake(t, Config{
		Authenticator: AuthenticatorFunc(func(context.Context, string) (Identity, error) {
			return Identity{Authenticated: true}, nil
		}),
	})
	c := newFakeConn("c1", h.Initial())
	ctx := context.Background()

	require.NoError(t, h.Initial().Dispatch(ctx, c, connectPacket(reg, "bob")))
	token := "any"
	require.NoError(t, h.Auth().Dispatch(ctx, c, &packets.AuthToken{AccessToken: &token}))

	id, _ := GetIdentity(c)
	assert.Equal(t, "bob", id.Name)
}

func TestTokenRejected(t *testing.T) {
	h, _, _ := newTestHandshake(t, Config{
		Authenticator: StaticAuthenticator{"s3cret": "alice"},
	})
	ctx := context.Background()

	c := newFakeConn("c1", h.Auth())
	bad := "wrong"
	err := h.Auth().Dispatch(ctx, c, &packets.AuthToken{AccessToken: &bad})
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Same(t, h.Auth(), c.Router())

	err = h.Auth().Dispatch(ctx, c, &packets.AuthToken{})
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Empty(t, c.packets())
}

func joined(h *Handshake, id, name string) *fakeConn {
	c := newFakeConn(id, h.Game())
	SetIdentity(c, Identity{Name: name})
	return c
}

func TestChatBroadcast(t *testing.T) {
	h, _, peers := newTestHandshake(t, Config{})
	alice := joined(h, "a", "alice")
	bob := joined(h, "b", "bob")
	waiting := newFakeConn("w", h.Initial())
	*peers = append(*peers, alice, bob, waiting)

	msg := "  hi all "
	require.NoError(t, h.Game().Dispatch(context.Background(), alice, &packets.ChatMessage{Message: &msg}))

	for _, c := range []*fakeConn{alice, bob} {
		sent := c.packets()
		require.Len(t, sent, 1, c.id)
		assert.Equal(t, "<alice> hi all", *sent[0].(*packets.ChatMessage).Message)
	}
	assert.Empty(t, waiting.packets(), "connections outside the game phase get no chat")
}

func TestChatIgnoresEmpty(t *testing.T) {
	h, _, peers := newTestHandshake(t, Config{})
	alice := joined(h, "a", "alice")
	*peers = append(*peers, alice)

	blank := "   "
	require.NoError(t, h.Game().Dispatch(context.Background(), alice, &packets.ChatMessage{Message: &blank}))
	require.NoError(t, h.Game().Dispatch(context.Background(), alice, &packets.ChatMessage{}))
	assert.Empty(t, alice.packets())
}

func TestGameRequiresIdentity(t *testing.T) {
	h, _, _ := newTestHandshake(t, Config{})
	c := newFakeConn("c1", h.Game())

	msg := "hi"
	err := h.Game().Dispatch(context.Background(), c, &packets.ChatMessage{Message: &msg})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMovement(t *testing.T) {
	h, _, _ := newTestHandshake(t, Config{})
	c := joined(h, "a", "alice")
	ctx := context.Background()

	pos := packets.Vector3d{X: 1, Y: 64, Z: -3}
	require.NoError(t, h.Game().Dispatch(ctx, c, &packets.ClientMovement{Position: &pos, Sprinting: true}))
	assert.Equal(t, pos, c.Value(PositionKey))

	require.NoError(t, h.Game().Dispatch(ctx, c, &packets.ClientMovement{Sprinting: false}))
	assert.Equal(t, pos, c.Value(PositionKey), "absent position keeps the last one")
}

func TestRequestAssets(t *testing.T) {
	store := NewMemoryAssets()
	small := store.Put("textures/stone.png", []byte("0123456789"))
	big := store.Put("models/tree.bin", make([]byte, packets.AssetPartSize+1))

	h, _, _ := newTestHandshake(t, Config{Assets: store})
	c := joined(h, "a", "alice")

	req := &packets.RequestAssets{Assets: []packets.Asset{
		small,
		{Hash: strings.Repeat("0", 64), Name: "missing"},
		big,
	}}
	require.NoError(t, h.Game().Dispatch(context.Background(), c, req))

	sent := c.packets()
	assert.Equal(t, []int32{
		packets.IDAssetInitialize, packets.IDAssetPart,
		packets.IDAssetInitialize, packets.IDAssetPart, packets.IDAssetPart,
	}, packetIDs(sent))

	init := sent[0].(*packets.AssetInitialize)
	assert.Equal(t, int32(10), init.Size)
	assert.Equal(t, small, init.Asset)
	assert.Equal(t, []byte("0123456789"), sent[1].(*packets.AssetPart).Part)
	assert.Len(t, sent[3].(*packets.AssetPart).Part, packets.AssetPartSize)
	assert.Len(t, sent[4].(*packets.AssetPart).Part, 1)
}

func TestJoinAnnouncesAssets(t *testing.T) {
	store := NewMemoryAssets()
	b := store.Put("b.png", []byte("b"))
	a := store.Put("a.png", []byte("a"))

	h, reg, _ := newTestHandshake(t, Config{Assets: store})
	c := newFakeConn("c1", h.Initial())
	require.NoError(t, h.Initial().Dispatch(context.Background(), c, connectPacket(reg, "alice")))

	var settings *packets.WorldSettings
	for _, p := range c.packets() {
		if ws, ok := p.(*packets.WorldSettings); ok {
			settings = ws
		}
	}
	require.NotNil(t, settings)
	assert.Equal(t, []packets.Asset{a, b}, settings.RequiredAssets)
}

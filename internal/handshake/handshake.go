package handshake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	uuid "github.com/satori/go.uuid"

	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
	"github.com/lithium-clr/lithium-server-sub002/pkg/server"
)

// Connection value keys.
const (
	PlayerUUIDKey = "lithium:player_uuid"
	UsernameKey   = "lithium:username"
	PositionKey   = "lithium:position"
)

// MaxUsernameLength is the longest username accepted in Connect.
const MaxUsernameLength = 16

var (
	// ErrProtocolMismatch is returned when a client's packet definitions
	// differ from the server's.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrInvalidUsername is returned for an empty or overlong username.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrMissingToken is returned for an AuthToken without an access token.
	ErrMissingToken = errors.New("missing access token")
)

// Peers enumerates the live connections.
type Peers interface {
	Each(fn func(c router.Conn) bool)
}

// ManagerPeers exposes a server connection table as Peers.
type ManagerPeers struct {
	*server.ConnectionManager
}

// Each implements Peers.
func (m ManagerPeers) Each(fn func(c router.Conn) bool) {
	m.ForEach(func(c *server.Connection) bool { return fn(c) })
}

// Config describes the server a client joins.
type Config struct {
	ServerName  string
	Motd        string
	MaxPlayers  int32
	WorldHeight int32

	// Authenticator enables the authentication phase. Nil admits every
	// client straight into the game under its Connect username.
	Authenticator Authenticator

	// Assets lists the assets announced in WorldSettings. Optional.
	Assets AssetStore
}

// Handshake owns the three phase routers and moves connections between
// them: initial until Connect is accepted, authenticating until AuthToken
// is accepted, then game.
type Handshake struct {
	config      Config
	fingerprint uint64
	serverID    uuid.UUID
	worldID     uuid.UUID
	peers       Peers

	initial *router.Router
	auth    *router.Router
	game    *router.Router
}

// New builds the phase routers. reg supplies the protocol hash clients must
// present. peers may be nil, which disables chat and the player list.
func New(config Config, reg *protocol.Registry, peers Peers) *Handshake {
	h := &Handshake{
		config:      config,
		fingerprint: reg.Fingerprint(),
		serverID:    uuid.NewV4(),
		worldID:     uuid.NewV4(),
		peers:       peers,
		initial:     router.New(router.PhaseInitial),
		auth:        router.New(router.PhaseAuthenticating),
		game:        router.New(router.PhaseGame),
	}

	router.On(h.initial, h.onConnect)
	router.On(h.auth, h.onAuthToken)

	h.game.Use(RequireIdentity)
	router.On(h.game, h.onChat)
	router.On(h.game, h.onMovement)
	router.On(h.game, h.onRequestAssets)
	return h
}

// SetPeers sets the connection table used for broadcasts. Call it before
// serving.
func (h *Handshake) SetPeers(p Peers) {
	h.peers = p
}

// Initial returns the router every connection starts on.
func (h *Handshake) Initial() *router.Router { return h.initial }

// Auth returns the authentication phase router.
func (h *Handshake) Auth() *router.Router { return h.auth }

// Game returns the game phase router.
func (h *Handshake) Game() *router.Router { return h.game }

// Routers returns the initial, authentication and game routers.
func (h *Handshake) Routers() []*router.Router {
	return []*router.Router{h.initial, h.auth, h.game}
}

// ServerID returns the id sent in ConnectAccept.
func (h *Handshake) ServerID() uuid.UUID {
	return h.serverID
}

func (h *Handshake) onConnect(ctx context.Context, c router.Conn, p *packets.Connect) error {
	if p.ProtocolHash != h.fingerprint {
		return fmt.Errorf("%w: client %016x, server %016x", ErrProtocolMismatch, p.ProtocolHash, h.fingerprint)
	}
	name := strings.TrimSpace(p.Username)
	if name == "" || utf8.RuneCountInString(name) > MaxUsernameLength {
		return fmt.Errorf("%w %q", ErrInvalidUsername, p.Username)
	}
	c.SetValue(PlayerUUIDKey, p.UUID)
	c.SetValue(UsernameKey, name)

	requiresAuth := h.config.Authenticator != nil
	if err := c.Send(ctx, &packets.ConnectAccept{ServerID: h.serverID, RequiresAuth: requiresAuth}); err != nil {
		return err
	}

	if requiresAuth {
		c.SetRouter(h.auth)
		return nil
	}
	SetIdentity(c, Identity{Name: name})
	return h.join(ctx, c)
}

func (h *Handshake) onAuthToken(ctx context.Context, c router.Conn, p *packets.AuthToken) error {
	if p.AccessToken == nil || *p.AccessToken == "" {
		return ErrMissingToken
	}
	id, err := h.config.Authenticator.Authenticate(ctx, *p.AccessToken)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if id.Name == "" {
		id.Name, _ = c.Value(UsernameKey).(string)
	}
	SetIdentity(c, id)

	token := uuid.NewV4().String()
	if err := c.Send(ctx, &packets.ServerAuthToken{ServerAccessToken: &token}); err != nil {
		return err
	}
	return h.join(ctx, c)
}

// join moves c into the game phase and sends the world description.
func (h *Handshake) join(ctx context.Context, c router.Conn) error {
	c.SetRouter(h.game)
	id, _ := GetIdentity(c)
	c.Logger().Info("player joined", "username", id.Name, "authenticated", id.Authenticated)

	var required []packets.Asset
	if h.config.Assets != nil {
		required = h.config.Assets.Assets()
	}
	name, motd := h.config.ServerName, h.config.Motd
	for _, p := range []protocol.Packet{
		&packets.ServerInfo{MaxPlayers: h.config.MaxPlayers, ServerName: &name, Motd: &motd},
		&packets.WorldSettings{WorldHeight: h.config.WorldHeight, RequiredAssets: required},
		&packets.JoinWorld{ClearWorld: true, WorldUUID: h.worldID},
	} {
		if err := c.Send(ctx, p); err != nil {
			return err
		}
	}
	h.broadcast(ctx, h.playerList())
	return nil
}

// inGame calls fn for every connection in the game phase.
func (h *Handshake) inGame(fn func(c router.Conn)) {
	if h.peers == nil {
		return
	}
	h.peers.Each(func(c router.Conn) bool {
		if c.Router() == h.game {
			fn(c)
		}
		return true
	})
}

func (h *Handshake) playerList() *packets.ServerPlayerList {
	list := &packets.ServerPlayerList{Latencies: make(map[uuid.UUID]int32)}
	h.inGame(func(c router.Conn) {
		id, _ := GetIdentity(c)
		player, _ := c.Value(PlayerUUIDKey).(uuid.UUID)
		list.Players = append(list.Players, packets.PlayerEntry{UUID: player, Username: id.Name})
		if lc, ok := c.(interface{ Latency() time.Duration }); ok {
			list.Latencies[player] = int32(lc.Latency().Milliseconds())
		}
	})
	return list
}

// broadcast sends p to every connection in the game phase. Send failures
// close only the failing connection's own read loop, so they are logged and
// skipped.
func (h *Handshake) broadcast(ctx context.Context, p protocol.Packet) {
	h.inGame(func(c router.Conn) {
		if err := c.Send(ctx, p); err != nil {
			c.Logger().Debug("broadcast failed", "packet", p.PacketInfo().Name, "error", err)
		}
	})
}

func (h *Handshake) onChat(ctx context.Context, c router.Conn, p *packets.ChatMessage) error {
	if p.Message == nil {
		return nil
	}
	text := strings.TrimSpace(*p.Message)
	if text == "" {
		return nil
	}
	id, _ := GetIdentity(c)
	line := fmt.Sprintf("<%s> %s", id.Name, text)
	h.broadcast(ctx, &packets.ChatMessage{Message: &line})
	return nil
}

func (h *Handshake) onMovement(_ context.Context, c router.Conn, p *packets.ClientMovement) error {
	if p.Position != nil {
		c.SetValue(PositionKey, *p.Position)
	}
	return nil
}

func (h *Handshake) onRequestAssets(ctx context.Context, c router.Conn, p *packets.RequestAssets) error {
	if h.config.Assets == nil {
		return nil
	}
	for _, a := range p.Assets {
		data, ok := h.config.Assets.Get(a.Hash)
		if !ok {
			c.Logger().Warn("unknown asset requested", "hash", a.Hash, "name", a.Name)
			continue
		}
		if err := c.Send(ctx, &packets.AssetInitialize{Size: int32(len(data)), Asset: a}); err != nil {
			return err
		}
		for off := 0; off < len(data); off += packets.AssetPartSize {
			end := min(off+packets.AssetPartSize, len(data))
			if err := c.Send(ctx, &packets.AssetPart{Part: data[off:end]}); err != nil {
				return err
			}
		}
	}
	return nil
}

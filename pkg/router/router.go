package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

// ErrNotRouted is returned by Dispatch for a packet id the router has no
// handler for.
var ErrNotRouted = errors.New("router: no handler for packet")

// Phase is the protocol phase a router serves.
type Phase uint8

const (
	PhaseInitial Phase = iota
	PhaseAuthenticating
	PhaseGame
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseGame:
		return "game"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Conn is the view of a connection handlers get.
type Conn interface {
	// ID returns the connection id.
	ID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// Send encodes and writes one packet. Sends are serialized per connection.
	Send(ctx context.Context, p protocol.Packet) error

	// SetRouter replaces the active router. It takes effect for the next
	// packet read.
	SetRouter(r *Router)

	// Router returns the active router.
	Router() *Router

	// Close sends a disconnect carrying reason, then closes the transport.
	Close(reason string) error

	// Value returns a value stored on the connection, or nil.
	Value(key string) any

	// SetValue stores a value on the connection for later handlers.
	SetValue(key string, value any)

	// Logger returns the connection-scoped logger.
	Logger() *slog.Logger
}

// Handler handles one decoded packet.
type Handler func(ctx context.Context, c Conn, p protocol.Packet) error

// Router maps packet ids onto handlers for one phase. Handle and Use are not
// safe for concurrent use; configure a router before connections use it.
type Router struct {
	phase      Phase
	handlers   map[int32]Handler
	middleware []Middleware
}

// New creates an empty router for phase.
func New(phase Phase) *Router {
	return &Router{
		phase:    phase,
		handlers: make(map[int32]Handler),
	}
}

// Phase returns the router's phase.
func (r *Router) Phase() Phase {
	return r.phase
}

// Handle registers h for packet id. Registering an id twice panics.
func (r *Router) Handle(id int32, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("router: nil handler for packet %d", id))
	}
	if _, ok := r.handlers[id]; ok {
		panic(fmt.Sprintf("router: packet %d already handled in phase %s", id, r.phase))
	}
	r.handlers[id] = h
}

// On registers a handler typed on the packet struct T. The packet id comes
// from T's PacketInfo.
func On[T any, PT interface {
	*T
	protocol.Packet
}](r *Router, fn func(ctx context.Context, c Conn, p PT) error) {
	var zero T
	id := PT(&zero).PacketInfo().ID
	r.Handle(id, func(ctx context.Context, c Conn, p protocol.Packet) error {
		tp, ok := p.(PT)
		if !ok {
			return fmt.Errorf("router: packet %d is %T, want %T", id, p, PT(nil))
		}
		return fn(ctx, c, tp)
	})
}

// Use appends middleware. It applies to every handler of the router,
// including ones registered earlier.
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// Lookup returns the handler registered for id, without middleware.
func (r *Router) Lookup(id int32) (Handler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// IDs returns the handled packet ids in ascending order.
func (r *Router) IDs() []int32 {
	ids := make([]int32, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Dispatch runs the handler for p through the router's middleware. It
// returns ErrNotRouted when no handler is registered for p's id.
func (r *Router) Dispatch(ctx context.Context, c Conn, p protocol.Packet) error {
	id := p.PacketInfo().ID
	h, ok := r.handlers[id]
	if !ok {
		return fmt.Errorf("%w %d in phase %s", ErrNotRouted, id, r.phase)
	}
	return Compose(r.middleware, h)(ctx, c, p)
}

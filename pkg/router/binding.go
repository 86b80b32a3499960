package router

import (
	"context"
	"sync/atomic"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

// Binding holds a connection's active router. Only the owning connection's
// processing path writes it; loads may come from any goroutine.
type Binding struct {
	current atomic.Pointer[Router]
}

// NewBinding creates a binding to r.
func NewBinding(r *Router) *Binding {
	b := &Binding{}
	b.Store(r)
	return b
}

// Load returns the active router.
func (b *Binding) Load() *Router {
	return b.current.Load()
}

// Store replaces the active router. A nil router panics.
func (b *Binding) Store(r *Router) {
	if r == nil {
		panic("router: nil router binding")
	}
	b.current.Store(r)
}

// Dispatch sends p to the router active at the time of the call. A handler
// that swaps the router affects the next packet, not the current one.
func (b *Binding) Dispatch(ctx context.Context, c Conn, p protocol.Packet) error {
	return b.Load().Dispatch(ctx, c, p)
}

package router

import (
	"context"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

// Middleware wraps packet handling.
type Middleware interface {
	Handle(ctx context.Context, c Conn, p protocol.Packet, next Handler) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, c Conn, p protocol.Packet, next Handler) error

// Handle calls f.
func (f MiddlewareFunc) Handle(ctx context.Context, c Conn, p protocol.Packet, next Handler) error {
	return f(ctx, c, p, next)
}

// Compose builds a handler chain from middleware and a final handler.
// Middleware runs in order (first to last), with the handler at the end.
func Compose(mw []Middleware, h Handler) Handler {
	if len(mw) == 0 {
		return h
	}

	// Build chain from end to start
	chain := h
	for i := len(mw) - 1; i >= 0; i-- {
		m := mw[i]
		next := chain
		chain = func(ctx context.Context, c Conn, p protocol.Packet) error {
			return m.Handle(ctx, c, p, next)
		}
	}
	return chain
}

// Chain creates a middleware that runs several middleware in order.
func Chain(mw ...Middleware) Middleware {
	return MiddlewareFunc(func(ctx context.Context, c Conn, p protocol.Packet, next Handler) error {
		return Compose(mw, next)(ctx, c, p)
	})
}

// Only runs mw when cond holds for the packet and skips it otherwise.
func Only(cond func(p protocol.Packet) bool, mw Middleware) Middleware {
	return MiddlewareFunc(func(ctx context.Context, c Conn, p protocol.Packet, next Handler) error {
		if !cond(p) {
			return next(ctx, c, p)
		}
		return mw.Handle(ctx, c, p, next)
	})
}

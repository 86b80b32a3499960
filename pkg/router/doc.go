// Package router dispatches decoded packets to handlers.
//
// A Router maps packet ids onto handlers for one protocol phase. Routers are
// built at startup and shared by every connection; each connection holds a
// Binding to exactly one active router and swaps it when a handler finishes
// its phase:
//
//	initial := router.New(router.PhaseInitial)
//	game := router.New(router.PhaseGame)
//
//	router.On(initial, func(ctx context.Context, c router.Conn, p *packets.Connect) error {
//	    c.SetRouter(game)
//	    return c.Send(ctx, &packets.ConnectAccept{})
//	})
//
// A packet whose id has no handler in the active router is not an error for
// the connection. Dispatch reports it as ErrNotRouted so callers can count it
// and move on.
//
// # Middleware
//
// Middleware wraps every handler of a router, in the order given to Use:
//
//	r.Use(middleware.Prometheus(), middleware.OpenTelemetry())
package router

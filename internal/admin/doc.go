// Package admin serves the operator HTTP surface of a game server.
//
// Routes:
//
//	GET /healthz               liveness check
//	GET /metrics               Prometheus exposition
//	GET /debug/packets         registered packet types and the protocol hash
//	GET /debug/packets/{id}    wire layout of one packet type
//	GET /debug/connections     live connections
//	GET /debug/stats           connection table and traffic counters
//
// The admin server has no authentication; bind it to a private address.
package admin

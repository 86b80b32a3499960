// Package middleware provides observability for the packet layer.
//
// This package includes:
//   - Prometheus metrics: router middleware timing handlers plus a
//     server.Observer counting connections, envelopes and decode failures
//   - OpenTelemetry tracing: one span per dispatched packet
//
// # Prometheus Metrics
//
// A Collector exports, under the "lithium" namespace by default:
//   - lithium_packets_received_total / lithium_packets_sent_total: by packet id
//   - lithium_received_bytes_total / lithium_sent_bytes_total: envelope bytes
//   - lithium_decode_errors_total: malformed inbound packets by error kind
//   - lithium_packets_ignored_total: packets without a handler in the active phase
//   - lithium_handler_duration_seconds: handler duration by packet and phase
//   - lithium_handler_errors_total: handler errors by packet and error type
//   - lithium_active_connections / lithium_connections_total: by transport
//
// Register it once and share it between the server and routers:
//
//	collector := middleware.NewCollector(middleware.WithRegistry(reg))
//	srv.SetObserver(collector)
//	game.Use(collector.Middleware())
//
// # OpenTelemetry Middleware
//
// Spans are named "lithium.<packet>" and carry the lithium.packet_id,
// lithium.packet, lithium.conn_id and lithium.phase attributes. The handler
// receives the span's context.
//
//	game.Use(middleware.OpenTelemetry(middleware.WithTracerName("my-server")))
//
// # Ordering
//
// Middleware runs in the order it is added to a router. Put tracing first
// so handler timing is recorded inside the span:
//
//	r.Use(middleware.OpenTelemetry(), collector.Middleware())
package middleware

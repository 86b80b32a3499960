package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
)

// Default tracer name.
const defaultTracerName = "lithium"

// Span attribute keys.
const (
	AttrPacketID   = attribute.Key("lithium.packet_id")
	AttrPacket     = attribute.Key("lithium.packet")
	AttrConnID     = attribute.Key("lithium.conn_id")
	AttrPhase      = attribute.Key("lithium.phase")
	AttrRemoteAddr = attribute.Key("lithium.remote_addr")
)

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "lithium").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider.
	TracerProvider trace.TracerProvider

	// IncludeRemoteAddr includes the peer address in spans.
	// May identify players - disabled by default.
	IncludeRemoteAddr bool

	// Filter determines which packets to trace.
	// Return true to trace the packet, false to skip.
	// If nil, all packets are traced.
	Filter func(p protocol.Packet) bool

	// AttributeExtractor extracts custom attributes from the packet.
	// Called for each traced packet.
	AttributeExtractor func(c router.Conn, p protocol.Packet) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeRemoteAddr enables including the peer address in spans.
func WithIncludeRemoteAddr(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeRemoteAddr = include
	}
}

// WithPacketFilter sets a filter function for packets.
func WithPacketFilter(filter func(p protocol.Packet) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(c router.Conn, p protocol.Packet) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates middleware that traces every dispatched packet.
//
// The middleware:
//   - Creates a span per packet with its id, name, connection id and phase
//   - Passes the span's context to the handler for downstream calls
//   - Records errors and sets span status
//
// Example:
//
//	game := router.New(router.PhaseGame)
//	game.Use(middleware.OpenTelemetry(
//	    middleware.WithPacketFilter(func(p protocol.Packet) bool {
//	        _, move := p.(*packets.ClientMovement)
//	        return !move
//	    }),
//	))
//
// Configure the global tracer provider in main() before starting the server,
// or pass one with WithTracerProvider.
func OpenTelemetry(opts ...OTelOption) router.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	config.tracer = config.TracerProvider.Tracer(config.TracerName)

	return router.MiddlewareFunc(func(ctx context.Context, c router.Conn, p protocol.Packet, next router.Handler) error {
		if config.Filter != nil && !config.Filter(p) {
			return next(ctx, c, p)
		}

		info := p.PacketInfo()
		attrs := []attribute.KeyValue{
			AttrPacketID.Int(int(info.ID)),
			AttrPacket.String(packetName(info)),
			AttrConnID.String(c.ID()),
			AttrPhase.String(c.Router().Phase().String()),
		}
		if config.IncludeRemoteAddr {
			attrs = append(attrs, AttrRemoteAddr.String(c.RemoteAddr()))
		}
		if config.AttributeExtractor != nil {
			attrs = append(attrs, config.AttributeExtractor(c, p)...)
		}

		ctx, span := config.tracer.Start(ctx, spanName(info),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		err := next(ctx, c, p)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	})
}

func spanName(info protocol.Info) string {
	return fmt.Sprintf("lithium.%s", packetName(info))
}

// SpanFromContext returns the span of the packet being handled.
//
// Example:
//
//	func onChat(ctx context.Context, c router.Conn, p *packets.ChatMessage) error {
//	    middleware.SpanFromContext(ctx).SetAttributes(attribute.Int("chat.len", len(*p.Message)))
//	    return nil
//	}
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

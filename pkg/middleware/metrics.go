package middleware

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
	"github.com/lithium-clr/lithium-server-sub002/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "lithium").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for handler duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "lithium",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector holds the Prometheus metrics of the packet layer. It serves as
// router middleware timing handlers and as a server.Observer counting
// connections and envelopes.
type Collector struct {
	packetsReceived   *prometheus.CounterVec
	packetsSent       *prometheus.CounterVec
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
	decodeErrors      *prometheus.CounterVec
	packetsIgnored    *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
	handlerErrors     *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
}

var _ server.Observer = (*Collector)(nil)

// NewCollector creates a collector and registers its metrics. Registering
// twice on the same registry panics.
func NewCollector(opts ...MetricsOption) *Collector {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Collector{
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_received_total",
			Help:        "Total number of packets decoded, by packet id",
			ConstLabels: config.ConstLabels,
		}, []string{"packet_id"}),

		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Total number of packets encoded and written, by packet id",
			ConstLabels: config.ConstLabels,
		}, []string{"packet_id"}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "received_bytes_total",
			Help:        "Total envelope bytes received",
			ConstLabels: config.ConstLabels,
		}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sent_bytes_total",
			Help:        "Total envelope bytes sent",
			ConstLabels: config.ConstLabels,
		}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "decode_errors_total",
			Help:        "Total inbound packets rejected as malformed, by error kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		packetsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_ignored_total",
			Help:        "Total packets the active router had no handler for, by packet id",
			ConstLabels: config.ConstLabels,
		}, []string{"packet_id"}),

		handlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_duration_seconds",
			Help:        "Packet handler duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"packet", "phase"}),

		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_errors_total",
			Help:        "Total packet handler errors by packet and error type",
			ConstLabels: config.ConstLabels,
		}, []string{"packet", "error_type"}),

		activeConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of open connections by transport",
			ConstLabels: config.ConstLabels,
		}, []string{"transport"}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total connections accepted by transport",
			ConstLabels: config.ConstLabels,
		}, []string{"transport"}),
	}
}

// Middleware returns router middleware that times every handler and counts
// its errors.
func (c *Collector) Middleware() router.Middleware {
	return router.MiddlewareFunc(func(ctx context.Context, conn router.Conn, p protocol.Packet, next router.Handler) error {
		name := packetName(p.PacketInfo())
		phase := conn.Router().Phase().String()

		start := time.Now()
		err := next(ctx, conn, p)
		c.handlerDuration.WithLabelValues(name, phase).Observe(time.Since(start).Seconds())

		if err != nil {
			c.handlerErrors.WithLabelValues(name, categorizeError(err)).Inc()
		}
		return err
	})
}

// ConnectionOpened implements server.Observer.
func (c *Collector) ConnectionOpened(transport string) {
	c.activeConnections.WithLabelValues(transport).Inc()
	c.connectionsTotal.WithLabelValues(transport).Inc()
}

// ConnectionClosed implements server.Observer.
func (c *Collector) ConnectionClosed(transport string) {
	c.activeConnections.WithLabelValues(transport).Dec()
}

// PacketReceived implements server.Observer.
func (c *Collector) PacketReceived(id int32, bytes int) {
	c.packetsReceived.WithLabelValues(idLabel(id)).Inc()
	c.bytesReceived.Add(float64(bytes))
}

// PacketSent implements server.Observer.
func (c *Collector) PacketSent(id int32, bytes int) {
	c.packetsSent.WithLabelValues(idLabel(id)).Inc()
	c.bytesSent.Add(float64(bytes))
}

// DecodeFailed implements server.Observer.
func (c *Collector) DecodeFailed(err error) {
	c.decodeErrors.WithLabelValues(protocol.KindLabel(err)).Inc()
}

// PacketIgnored implements server.Observer.
func (c *Collector) PacketIgnored(id int32) {
	c.packetsIgnored.WithLabelValues(idLabel(id)).Inc()
}

func idLabel(id int32) string {
	return strconv.FormatInt(int64(id), 10)
}

// packetName falls back to the id for packets declaring no name.
func packetName(info protocol.Info) string {
	if info.Name != "" {
		return info.Name
	}
	return "packet_" + idLabel(info.ID)
}

// categorizeError returns a category for the error type.
// This prevents high-cardinality labels from error messages.
func categorizeError(err error) string {
	var pe *protocol.Error
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, server.ErrConnectionClosed):
		return "closed"
	case errors.As(err, &pe):
		return protocol.KindLabel(err)
	default:
		return "internal"
	}
}

// The collector behind Prometheus, created on first use.
var (
	globalMetrics   *Collector
	globalMetricsMu sync.Mutex
)

// Prometheus returns handler-timing middleware backed by a process-wide
// collector. Options only take effect on the first call.
//
// Example:
//
//	game := router.New(router.PhaseGame)
//	game.Use(middleware.Prometheus(middleware.WithNamespace("myserver")))
//	srv.SetObserver(middleware.GetMetrics())
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) router.Middleware {
	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = NewCollector(opts...)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return m.Middleware()
}

// GetMetrics returns the process-wide collector, or nil if Prometheus has
// not been called.
func GetMetrics() *Collector {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	return globalMetrics
}

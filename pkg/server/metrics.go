package server

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Observer receives connection and packet events, typically to export them
// as metrics. Implementations must be safe for concurrent use.
type Observer interface {
	ConnectionOpened(transport string)
	ConnectionClosed(transport string)
	PacketReceived(id int32, bytes int)
	PacketSent(id int32, bytes int)
	DecodeFailed(err error)
	PacketIgnored(id int32)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened(string)   {}
func (nopObserver) ConnectionClosed(string)   {}
func (nopObserver) PacketReceived(int32, int) {}
func (nopObserver) PacketSent(int32, int)     {}
func (nopObserver) DecodeFailed(error)        {}
func (nopObserver) PacketIgnored(int32)       {}

// ServerMetrics aggregates metrics across the server.
type ServerMetrics struct {
	// Connections
	ActiveConnections int64
	TotalConnections  int64
	PeakConnections   int64

	// Packets
	PacketsReceived int64
	PacketsSent     int64
	PacketsIgnored  int64

	// Network
	BytesSent     int64
	BytesReceived int64

	// Errors
	DecodeErrors  int64
	HandlerPanics int64
	WriteErrors   int64

	// Round-trip latency of pings (microseconds)
	LatencyP50 int64
	LatencyP99 int64

	// Timestamp
	CollectedAt time.Time
}

// Metrics collects and returns server metrics.
func (s *Server) Metrics() *ServerMetrics {
	m := s.metrics.Snapshot()
	stats := s.conns.Stats()
	m.ActiveConnections = int64(stats.Active)
	m.TotalConnections = int64(stats.TotalCreated)
	m.PeakConnections = int64(stats.Peak)
	return m
}

// MetricsCollector collects and aggregates metrics over time.
type MetricsCollector struct {
	packetsReceived atomic.Int64
	packetsSent     atomic.Int64
	packetsIgnored  atomic.Int64
	bytesSent       atomic.Int64
	bytesReceived   atomic.Int64
	decodeErrors    atomic.Int64
	handlerPanics   atomic.Int64
	writeErrors     atomic.Int64

	// Latency tracking
	latencyMu sync.Mutex
	latencies []int64
}

// NewMetricsCollector creates a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		latencies: make([]int64, 0, 1000),
	}
}

// RecordPacketReceived records a decoded packet and its envelope size.
func (m *MetricsCollector) RecordPacketReceived(bytes int) {
	m.packetsReceived.Add(1)
	m.bytesReceived.Add(int64(bytes))
}

// RecordPacketSent records a sent packet and its envelope size.
func (m *MetricsCollector) RecordPacketSent(bytes int) {
	m.packetsSent.Add(1)
	m.bytesSent.Add(int64(bytes))
}

// RecordPacketIgnored records a packet the active router had no handler for.
func (m *MetricsCollector) RecordPacketIgnored() {
	m.packetsIgnored.Add(1)
}

// RecordDecodeError records a malformed inbound packet.
func (m *MetricsCollector) RecordDecodeError() {
	m.decodeErrors.Add(1)
}

// RecordHandlerPanic records a handler panic.
func (m *MetricsCollector) RecordHandlerPanic() {
	m.handlerPanics.Add(1)
}

// RecordWriteError records a write error.
func (m *MetricsCollector) RecordWriteError() {
	m.writeErrors.Add(1)
}

// RecordLatency records a ping round trip.
func (m *MetricsCollector) RecordLatency(d time.Duration) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()

	// Keep only recent samples
	if len(m.latencies) >= 1000 {
		m.latencies = append(m.latencies[:0], m.latencies[500:]...)
	}
	m.latencies = append(m.latencies, d.Microseconds())
}

// Snapshot returns current metrics. Connection counts are left zero.
func (m *MetricsCollector) Snapshot() *ServerMetrics {
	metrics := &ServerMetrics{
		PacketsReceived: m.packetsReceived.Load(),
		PacketsSent:     m.packetsSent.Load(),
		PacketsIgnored:  m.packetsIgnored.Load(),
		BytesSent:       m.bytesSent.Load(),
		BytesReceived:   m.bytesReceived.Load(),
		DecodeErrors:    m.decodeErrors.Load(),
		HandlerPanics:   m.handlerPanics.Load(),
		WriteErrors:     m.writeErrors.Load(),
		CollectedAt:     time.Now(),
	}
	metrics.LatencyP50, metrics.LatencyP99 = m.latencyPercentiles()
	return metrics
}

// latencyPercentiles calculates P50 and P99 latencies.
func (m *MetricsCollector) latencyPercentiles() (p50, p99 int64) {
	m.latencyMu.Lock()
	sorted := slices.Clone(m.latencies)
	m.latencyMu.Unlock()

	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	slices.Sort(sorted)
	return sorted[n/2], sorted[(n*99)/100]
}

// Reset resets all counters.
func (m *MetricsCollector) Reset() {
	m.packetsReceived.Store(0)
	m.packetsSent.Store(0)
	m.packetsIgnored.Store(0)
	m.bytesSent.Store(0)
	m.bytesReceived.Store(0)
	m.decodeErrors.Store(0)
	m.handlerPanics.Store(0)
	m.writeErrors.Store(0)

	m.latencyMu.Lock()
	m.latencies = m.latencies[:0]
	m.latencyMu.Unlock()
}

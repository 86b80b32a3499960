package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
	"github.com/lithium-clr/lithium-server-sub002/pkg/server"
)

func resetGlobalMetricsForTest() {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestCollectorMiddleware_RecordsSuccessAndError(t *testing.T) {
	t.Run("success records duration only", func(t *testing.T) {
		c := NewCollector(WithRegistry(prometheus.NewRegistry()))
		conn := newMockConn(router.PhaseGame)

		err := run(c.Middleware(), conn, testPacket{}, func(context.Context, router.Conn, protocol.Packet) error {
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := metricHistogramCount(t, c.handlerDuration.WithLabelValues("Test", "game")); got != 1 {
			t.Fatalf("handler_duration count=%d, want 1", got)
		}
		if got := metricCounterValue(t, c.handlerErrors.WithLabelValues("Test", "internal")); got != 0 {
			t.Fatalf("handler_errors=%v, want 0", got)
		}
	})

	t.Run("error is categorized and returned", func(t *testing.T) {
		c := NewCollector(WithRegistry(prometheus.NewRegistry()))
		conn := newMockConn(router.PhaseInitial)
		want := errors.New("boom")

		err := run(c.Middleware(), conn, testPacket{}, func(context.Context, router.Conn, protocol.Packet) error {
			return want
		})
		if !errors.Is(err, want) {
			t.Fatalf("err=%v, want %v", err, want)
		}

		if got := metricCounterValue(t, c.handlerErrors.WithLabelValues("Test", "internal")); got != 1 {
			t.Fatalf("handler_errors(internal)=%v, want 1", got)
		}
		if got := metricHistogramCount(t, c.handlerDuration.WithLabelValues("Test", "initial")); got != 1 {
			t.Fatalf("handler_duration count=%d, want 1", got)
		}
	})
}

func TestCollectorObserver(t *testing.T) {
	c := NewCollector(WithRegistry(prometheus.NewRegistry()))
	var obs server.Observer = c

	obs.ConnectionOpened("tcp")
	obs.ConnectionOpened("tcp")
	obs.ConnectionOpened("websocket")
	obs.ConnectionClosed("tcp")
	obs.PacketReceived(2, 20)
	obs.PacketReceived(2, 20)
	obs.PacketSent(3, 12)
	obs.PacketIgnored(31)
	obs.DecodeFailed(fmt.Errorf("read: %w", protocol.ErrTruncated))

	if got := metricGaugeValue(t, c.activeConnections.WithLabelValues("tcp")); got != 1 {
		t.Errorf("active_connections(tcp)=%v, want 1", got)
	}
	if got := metricCounterValue(t, c.connectionsTotal.WithLabelValues("tcp")); got != 2 {
		t.Errorf("connections_total(tcp)=%v, want 2", got)
	}
	if got := metricGaugeValue(t, c.activeConnections.WithLabelValues("websocket")); got != 1 {
		t.Errorf("active_connections(websocket)=%v, want 1", got)
	}
	if got := metricCounterValue(t, c.packetsReceived.WithLabelValues("2")); got != 2 {
		t.Errorf("packets_received(2)=%v, want 2", got)
	}
	if got := metricCounterValue(t, c.bytesReceived); got != 40 {
		t.Errorf("received_bytes=%v, want 40", got)
	}
	if got := metricCounterValue(t, c.packetsSent.WithLabelValues("3")); got != 1 {
		t.Errorf("packets_sent(3)=%v, want 1", got)
	}
	if got := metricCounterValue(t, c.bytesSent); got != 12 {
		t.Errorf("sent_bytes=%v, want 12", got)
	}
	if got := metricCounterValue(t, c.packetsIgnored.WithLabelValues("31")); got != 1 {
		t.Errorf("packets_ignored(31)=%v, want 1", got)
	}
	if got := metricCounterValue(t, c.decodeErrors.WithLabelValues("bounds")); got != 1 {
		t.Errorf("decode_errors(bounds)=%v, want 1", got)
	}
}

func TestCollectorRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(WithRegistry(reg), WithNamespace("test"), WithConstLabels(prometheus.Labels{"shard": "a"}))
	c.PacketReceived(0, 8)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "test_packets_received_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected test_packets_received_total to be registered")
	}
}

func TestPrometheus_UsesSingleCollector(t *testing.T) {
	resetGlobalMetricsForTest()
	t.Cleanup(resetGlobalMetricsForTest)

	if GetMetrics() != nil {
		t.Fatal("expected GetMetrics to return nil before initialization")
	}

	reg := prometheus.NewRegistry()
	mw1 := Prometheus(WithRegistry(reg))
	first := GetMetrics()
	if first == nil {
		t.Fatal("expected GetMetrics to return collector after initialization")
	}

	// A second call must not register again on the same registry.
	mw2 := Prometheus(WithRegistry(reg))
	if GetMetrics() != first {
		t.Fatal("expected Prometheus to reuse the first collector")
	}

	conn := newMockConn(router.PhaseGame)
	ok := func(context.Context, router.Conn, protocol.Packet) error { return nil }
	_ = run(mw1, conn, testPacket{}, ok)
	_ = run(mw2, conn, testPacket{}, ok)

	if got := metricHistogramCount(t, first.handlerDuration.WithLabelValues("Test", "game")); got != 2 {
		t.Fatalf("handler_duration count=%d, want 2", got)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("send: %w", context.Canceled), "canceled"},
		{server.ErrConnectionClosed, "closed"},
		{server.NewConnectionError("c", "write", server.ErrConnectionClosed), "closed"},
		{&protocol.Error{Kind: protocol.ErrSizeViolation, Op: "encode"}, "size_violation"},
		{errors.New("something else"), "internal"},
	}

	for _, tt := range tests {
		if got := categorizeError(tt.err); got != tt.want {
			t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestPacketName(t *testing.T) {
	if got := packetName(testPacket{}.PacketInfo()); got != "Test" {
		t.Errorf("packetName = %q, want Test", got)
	}
	if got := packetName(unnamedPacket{}.PacketInfo()); got != "packet_78" {
		t.Errorf("packetName = %q, want packet_78", got)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"
	"github.com/spf13/cobra"

	"github.com/lithium-clr/lithium-server-sub002/internal/errors"
	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

type benchConfig struct {
	Address  string
	URL      string
	Clients  int
	Duration time.Duration
	RPS      float64
	Token    string
	Timeout  time.Duration
}

type benchCounters struct {
	connected  atomic.Int64
	pingsSent  atomic.Int64
	pongs      atomic.Int64
	failures   atomic.Int64
	bytesSent  atomic.Int64
	bytesRecvd atomic.Int64
}

// benchReport is the JSON summary of a run.
type benchReport struct {
	Clients     int     `json:"clients"`
	Connected   int64   `json:"connected"`
	Failures    int64   `json:"failures"`
	DurationSec float64 `json:"duration_sec"`
	PingsSent   int64   `json:"pings_sent"`
	Pongs       int64   `json:"pongs"`
	Throughput  float64 `json:"pongs_per_sec"`
	BytesSent   int64   `json:"bytes_sent"`
	BytesRecvd  int64   `json:"bytes_received"`
	LatencyMs   struct {
		P50 float64 `json:"p50"`
		P95 float64 `json:"p95"`
		P99 float64 `json:"p99"`
		Max float64 `json:"max"`
	} `json:"latency_ms"`
}

func benchCmd() *cobra.Command {
	cfg := benchConfig{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load test a running server",
		Long: `Connect many clients to a running server, complete the handshake and
measure Ping/Pong round trips.

Examples:
  lithium bench --addr localhost:5520 --clients 200 --duration 30s
  lithium bench --url ws://localhost:8080/ws --rps 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Clients <= 0 || cfg.RPS <= 0 || cfg.Duration <= 0 {
				return errors.New("E160").WithDetail("--clients, --rps and --duration must be positive")
			}
			report, err := runBench(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVar(&cfg.Address, "addr", "localhost:5520", "TCP server address")
	cmd.Flags().StringVar(&cfg.URL, "url", "", "WebSocket URL; overrides --addr")
	cmd.Flags().IntVar(&cfg.Clients, "clients", 50, "Concurrent clients")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "Benchmark duration")
	cmd.Flags().Float64Var(&cfg.RPS, "rps", 5, "Pings per second per client")
	cmd.Flags().StringVar(&cfg.Token, "token", "", "Access token for servers in token mode")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "Per-packet read timeout")

	return cmd
}

// benchConn is one client connection, framed over TCP or WebSocket.
type benchConn interface {
	io.Reader
	writeEnvelope(b []byte) error
	setReadDeadline(t time.Time) error
	Close() error
}

type tcpBenchConn struct{ net.Conn }

func (c tcpBenchConn) writeEnvelope(b []byte) error {
	_, err := c.Write(b)
	return err
}

func (c tcpBenchConn) setReadDeadline(t time.Time) error { return c.SetReadDeadline(t) }

// wsBenchConn reads the envelopes of consecutive binary messages as one
// stream.
type wsBenchConn struct {
	ws  *websocket.Conn
	cur io.Reader
}

func (c *wsBenchConn) Read(p []byte) (int, error) {
	for {
		if c.cur != nil {
			n, err := c.cur.Read(p)
			if err != io.EOF {
				return n, err
			}
			c.cur = nil
			if n > 0 {
				return n, nil
			}
		}
		_, r, err := c.ws.NextReader()
		if err != nil {
			return 0, err
		}
		c.cur = r
	}
}

func (c *wsBenchConn) writeEnvelope(b []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (c *wsBenchConn) setReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

func (c *wsBenchConn) Close() error { return c.ws.Close() }

func dialBench(ctx context.Context, cfg benchConfig) (benchConn, error) {
	if cfg.URL != "" {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		return &wsBenchConn{ws: ws}, nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	return tcpBenchConn{conn}, nil
}

func runBench(ctx context.Context, cfg benchConfig) (*benchReport, error) {
	reg, err := packets.NewRegistry()
	if err != nil {
		return nil, registryError(err)
	}
	codec, err := protocol.NewCodec(reg)
	if err != nil {
		return nil, registryError(err)
	}
	defer codec.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		counters benchCounters
		mu       sync.Mutex
		samples  []time.Duration
		wg       sync.WaitGroup
	)
	start := time.Now()
	for i := range cfg.Clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rtts, err := runBenchClient(ctx, codec, cfg, i, &counters)
			if err != nil && ctx.Err() == nil {
				counters.failures.Add(1)
				fmt.Fprintf(os.Stderr, "client %d: %v\n", i, err)
			}
			mu.Lock()
			samples = append(samples, rtts...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	slices.Sort(samples)
	report := &benchReport{
		Clients:     cfg.Clients,
		Connected:   counters.connected.Load(),
		Failures:    counters.failures.Load(),
		DurationSec: elapsed.Seconds(),
		PingsSent:   counters.pingsSent.Load(),
		Pongs:       counters.pongs.Load(),
		Throughput:  float64(counters.pongs.Load()) / elapsed.Seconds(),
		BytesSent:   counters.bytesSent.Load(),
		BytesRecvd:  counters.bytesRecvd.Load(),
	}
	report.LatencyMs.P50 = ms(percentile(samples, 0.50))
	report.LatencyMs.P95 = ms(percentile(samples, 0.95))
	report.LatencyMs.P99 = ms(percentile(samples, 0.99))
	report.LatencyMs.Max = ms(percentile(samples, 1))
	return report, nil
}

// readUntil reads packets until accept returns true for one. Server pings
// are answered on the way.
func readUntil(conn benchConn, codec *protocol.Codec, cfg benchConfig, counters *benchCounters,
	send func(protocol.Packet) error, accept func(protocol.Packet) (bool, error)) error {
	for {
		if cfg.Timeout > 0 {
			conn.setReadDeadline(time.Now().Add(cfg.Timeout))
		}
		h, p, err := codec.ReadPacket(conn)
		if err != nil {
			return err
		}
		counters.bytesRecvd.Add(int64(protocol.HeaderSize + h.Length))
		if d, ok := p.(*packets.Disconnect); ok {
			reason := ""
			if d.Reason != nil {
				reason = *d.Reason
			}
			return fmt.Errorf("disconnected: %s", reason)
		}
		if ping, ok := p.(*packets.Ping); ok {
			if err := send(&packets.Pong{ID: ping.ID, Time: ping.Time}); err != nil {
				return err
			}
			continue
		}
		done, err := accept(p)
		if err != nil || done {
			return err
		}
	}
}

func runBenchClient(ctx context.Context, codec *protocol.Codec, cfg benchConfig, id int, counters *benchCounters) ([]time.Duration, error) {
	conn, err := dialBench(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	send := func(p protocol.Packet) error {
		b, err := codec.Encode(p)
		if err != nil {
			return err
		}
		counters.bytesSent.Add(int64(len(b)))
		return conn.writeEnvelope(b)
	}

	err = send(&packets.Connect{
		ProtocolHash: codec.Registry().Fingerprint(),
		UUID:         uuid.NewV4(),
		Language:     "en",
		Username:     fmt.Sprintf("bench-%d", id),
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	err = readUntil(conn, codec, cfg, counters, send, func(p protocol.Packet) (bool, error) {
		switch p := p.(type) {
		case *packets.ConnectAccept:
			if p.RequiresAuth {
				token := cfg.Token
				return false, send(&packets.AuthToken{AccessToken: &token})
			}
		case *packets.JoinWorld:
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	counters.connected.Add(1)

	period := time.Duration(float64(time.Second) / cfg.RPS)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var rtts []time.Duration
	for seq := int32(1); ; seq++ {
		select {
		case <-ctx.Done():
			return rtts, nil
		case <-ticker.C:
		}

		sent := time.Now()
		if err := send(&packets.Ping{ID: seq, Time: sent.UnixNano()}); err != nil {
			return rtts, fmt.Errorf("ping: %w", err)
		}
		counters.pingsSent.Add(1)

		err := readUntil(conn, codec, cfg, counters, send, func(p protocol.Packet) (bool, error) {
			pong, ok := p.(*packets.Pong)
			return ok && pong.ID == seq, nil
		})
		if err != nil {
			return rtts, fmt.Errorf("pong: %w", err)
		}
		counters.pongs.Add(1)
		rtts = append(rtts, time.Since(sent))
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

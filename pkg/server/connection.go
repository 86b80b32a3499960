package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
)

// Connection is one peer. It owns a transport, the active router binding
// and a serialized send path. It implements router.Conn.
type Connection struct {
	// Identity
	id        string
	createdAt time.Time

	transport Transport
	codec     *protocol.Codec
	binding   *router.Binding
	config    *ConnectionConfig

	// Send path
	sendMu sync.Mutex
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once

	// Liveness
	lastActive atomic.Int64 // unix nanoseconds
	pingSeq    atomic.Int32
	latency    atomic.Int64 // last ping round trip, nanoseconds

	// Metrics
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64

	// General-purpose connection data. Protected by dataMu.
	data   map[string]any
	dataMu sync.RWMutex

	logger   *slog.Logger
	metrics  *MetricsCollector
	observer Observer
}

// NewConnection creates a connection bound to the initial router. Serve
// starts its read loop.
func NewConnection(t Transport, codec *protocol.Codec, initial *router.Router, config *ConnectionConfig, logger *slog.Logger) *Connection {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewV4().String()
	now := time.Now()

	c := &Connection{
		id:        id,
		createdAt: now,
		transport: t,
		codec:     codec,
		binding:   router.NewBinding(initial),
		config:    config,
		done:      make(chan struct{}),
		data:      make(map[string]any),
		logger: logger.With(
			"conn_id", id,
			"remote", t.RemoteAddr(),
			"transport", t.Kind(),
		),
		metrics:  NewMetricsCollector(),
		observer: nopObserver{},
	}
	c.lastActive.Store(now.UnixNano())
	return c
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string { return c.transport.RemoteAddr() }

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger { return c.logger }

// Router returns the active router.
func (c *Connection) Router() *router.Router { return c.binding.Load() }

// SetRouter switches the active router. The switch applies from the next
// packet read on.
func (c *Connection) SetRouter(r *router.Router) {
	prev := c.binding.Load()
	c.binding.Store(r)
	c.logger.Info("phase switch", "from", prev.Phase().String(), "to", r.Phase().String())
}

// Value returns a value stored on the connection.
func (c *Connection) Value(key string) any {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.data[key]
}

// SetValue stores a value on the connection.
func (c *Connection) SetValue(key string, value any) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	c.data[key] = value
}

// Done returns a channel that's closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// IsClosed returns whether the connection is closed.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// Latency returns the round trip of the last answered ping.
func (c *Connection) Latency() time.Duration { return time.Duration(c.latency.Load()) }

// Send encodes p and writes it. Concurrent sends are serialized.
func (c *Connection) Send(ctx context.Context, p protocol.Packet) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.send(ctx, p)
}

func (c *Connection) send(ctx context.Context, p protocol.Packet) error {
	b, err := c.codec.Encode(p)
	if err != nil {
		return NewConnectionError(c.id, "encode", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.transport.Write(ctx, b); err != nil {
		c.metrics.RecordWriteError()
		return NewConnectionError(c.id, "write", err)
	}

	id := p.PacketInfo().ID
	c.packetsOut.Add(1)
	c.bytesOut.Add(uint64(len(b)))
	c.metrics.RecordPacketSent(len(b))
	c.observer.PacketSent(id, len(b))
	return nil
}

// Close sends a Disconnect carrying reason, then closes the transport.
// Closing an already closed connection does nothing.
func (c *Connection) Close(reason string) error {
	var err error
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
		defer cancel()
		if ctl := c.config.Control; ctl != nil {
			if serr := c.send(ctx, ctl.Disconnect(reason)); serr != nil {
				c.logger.Debug("disconnect not delivered", "error", serr)
			}
		}
		err = c.shutdown(reason)
	})
	return err
}

// closeSilently closes the transport without a Disconnect, after the peer
// went away.
func (c *Connection) closeSilently(reason string) {
	c.once.Do(func() {
		_ = c.shutdown(reason)
	})
}

func (c *Connection) shutdown(reason string) error {
	c.closed.Store(true)
	close(c.done)
	err := c.transport.Close()

	c.logger.Info("connection closed",
		"reason", reason,
		"packets_in", c.packetsIn.Load(),
		"packets_out", c.packetsOut.Load(),
		"bytes_in", c.bytesIn.Load(),
		"bytes_out", c.bytesOut.Load(),
		"duration", time.Since(c.createdAt))
	return err
}

// Serve runs the read loop until the peer disconnects, a packet fails to
// decode, a handler fails, or ctx is cancelled. A clean disconnect returns
// nil. Serve closes the connection before returning.
func (c *Connection) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		c.Close("server shutting down")
	})
	defer stop()

	if c.config.PingInterval > 0 && c.config.Control != nil {
		go c.heartbeat(ctx)
	}

	for {
		h, p, err := c.readPacket(ctx)
		if err != nil {
			return c.readFailed(err)
		}
		c.lastActive.Store(time.Now().UnixNano())

		if c.handleControl(ctx, p) {
			continue
		}
		if err := c.dispatch(ctx, h, p); err != nil {
			return err
		}
		if c.closed.Load() {
			return nil
		}
	}
}

func (c *Connection) readPacket(ctx context.Context) (protocol.Header, protocol.Packet, error) {
	h, err := c.transport.ReadHeader(ctx)
	if err != nil {
		return h, nil, err
	}
	if _, err := c.codec.CheckHeader(h); err != nil {
		return h, nil, err
	}
	payload, err := c.transport.ReadPayload(ctx, h.Length)
	if err != nil {
		return h, nil, err
	}
	p, err := c.codec.Decode(h, payload)
	if err != nil {
		return h, nil, err
	}

	n := protocol.HeaderSize + h.Length
	c.packetsIn.Add(1)
	c.bytesIn.Add(uint64(n))
	c.metrics.RecordPacketReceived(n)
	c.observer.PacketReceived(h.PacketID, n)
	return h, p, nil
}

// readFailed classifies a read error and closes the connection.
func (c *Connection) readFailed(err error) error {
	switch {
	case c.closed.Load():
		return nil

	case errors.Is(err, io.EOF), isClosed(err):
		c.closeSilently("peer closed")
		return nil

	case errors.Is(err, context.Canceled):
		c.Close("server shutting down")
		return nil

	case isProtocolError(err):
		// Malformed input ends this connection only.
		c.metrics.RecordDecodeError()
		c.observer.DecodeFailed(err)
		c.logger.Warn("decode failed", "error", err, "kind", protocol.KindLabel(err))
		c.Close(fmt.Sprintf("malformed packet (%s)", protocol.KindLabel(err)))
		return NewConnectionError(c.id, "decode", err)

	case isTimeout(err):
		c.logger.Info("read timed out")
		c.Close("timed out")
		return NewConnectionError(c.id, "read", err)

	default:
		c.logger.Info("read failed", "error", err)
		c.closeSilently("read failed")
		return NewConnectionError(c.id, "read", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isProtocolError(err error) bool {
	for _, kind := range []error{
		protocol.ErrFormat,
		protocol.ErrBounds,
		protocol.ErrUnknownPacket,
		protocol.ErrSizeViolation,
		protocol.ErrSchema,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// dispatch hands p to the active router. Unrouted packets are counted and
// dropped; a handler error closes the connection with the error as reason.
func (c *Connection) dispatch(ctx context.Context, h protocol.Header, p protocol.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			name := p.PacketInfo().Name
			c.logger.Error("handler panic",
				"panic", r,
				"packet_id", h.PacketID,
				"packet", name,
				"stack", string(stack))
			c.metrics.RecordHandlerPanic()
			herr := NewHandlerError(c.id, h.PacketID, name, r, stack)
			c.Close("internal error")
			err = herr
		}
	}()

	err = c.binding.Dispatch(ctx, c, p)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, router.ErrNotRouted):
		c.logger.Debug("packet ignored", "packet_id", h.PacketID, "phase", c.Router().Phase().String())
		c.metrics.RecordPacketIgnored()
		c.observer.PacketIgnored(h.PacketID)
		return nil

	default:
		c.logger.Error("handler failed", "packet_id", h.PacketID, "error", err)
		c.Close(err.Error())
		return NewConnectionError(c.id, "dispatch", err)
	}
}

// handleControl answers pings and records pong round trips. It reports
// whether p was consumed.
func (c *Connection) handleControl(ctx context.Context, p protocol.Packet) bool {
	ctl := c.config.Control
	if ctl == nil {
		return false
	}
	if reply, ok := ctl.Reply(p); ok {
		if err := c.Send(ctx, reply); err != nil {
			c.logger.Debug("pong error", "error", err)
		}
		return true
	}

	seq, sent, ok := ctl.Pong(p)
	if !ok {
		return false
	}
	if seq != c.pingSeq.Load() {
		c.logger.Debug("stale pong", "id", seq)
		return true
	}
	if rtt := time.Since(sent); rtt >= 0 {
		c.latency.Store(int64(rtt))
		c.metrics.RecordLatency(rtt)
	}
	return true
}

// heartbeat sends periodic pings until the connection closes.
func (c *Connection) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			seq := c.pingSeq.Add(1)
			if err := c.Send(ctx, c.config.Control.Ping(seq, time.Now())); err != nil {
				c.logger.Debug("ping error", "error", err)
				return
			}

		case <-c.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

// ConnectionInfo is a snapshot of a connection for diagnostics.
type ConnectionInfo struct {
	ID         string        `json:"id"`
	RemoteAddr string        `json:"remote_addr"`
	Transport  string        `json:"transport"`
	Phase      string        `json:"phase"`
	CreatedAt  time.Time     `json:"created_at"`
	LastActive time.Time     `json:"last_active"`
	Latency    time.Duration `json:"latency_ns"`
	PacketsIn  uint64        `json:"packets_in"`
	PacketsOut uint64        `json:"packets_out"`
	BytesIn    uint64        `json:"bytes_in"`
	BytesOut   uint64        `json:"bytes_out"`
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:         c.id,
		RemoteAddr: c.transport.RemoteAddr(),
		Transport:  c.transport.Kind(),
		Phase:      c.Router().Phase().String(),
		CreatedAt:  c.createdAt,
		LastActive: time.Unix(0, c.lastActive.Load()),
		Latency:    c.Latency(),
		PacketsIn:  c.packetsIn.Load(),
		PacketsOut: c.packetsOut.Load(),
		BytesIn:    c.bytesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
	}
}

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

// Transport moves envelopes between the server and one peer. ReadHeader and
// ReadPayload are called from a single goroutine, as is Write.
type Transport interface {
	// ReadHeader blocks until the next envelope header arrives. It returns
	// io.EOF when the peer closed cleanly between envelopes.
	ReadHeader(ctx context.Context) (protocol.Header, error)

	// ReadPayload reads the n payload bytes that follow a header.
	ReadPayload(ctx context.Context, n int) ([]byte, error)

	// Write sends complete envelopes.
	Write(ctx context.Context, b []byte) error

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// Kind names the transport in logs and metrics.
	Kind() string

	// Close closes the underlying connection, unblocking pending reads.
	Close() error
}

// aLongTimeAgo is a non-zero deadline in the past, used to cancel blocking
// network calls.
var aLongTimeAgo = time.Unix(1, 0)

// interruptOnDone sets a past read deadline when ctx is cancelled. Call it
// after setting the regular deadline so cancellation wins.
func interruptOnDone(ctx context.Context, setDeadline func(time.Time) error) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = setDeadline(aLongTimeAgo)
	})
}

// deadline returns the deadline for an I/O call bounded by timeout and ctx.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// isClosed reports whether err means the connection was already closed.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// contextError prefers the context's error over the I/O error it caused.
func contextError(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// StreamTransport carries envelopes back to back over a byte stream such as
// a TCP connection.
type StreamTransport struct {
	conn         net.Conn
	r            *bufio.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewStreamTransport wraps conn.
func NewStreamTransport(conn net.Conn, cfg *ConnectionConfig) *StreamTransport {
	if cfg == nil {
		cfg = DefaultConnectionConfig()
	}
	size := cfg.ReadBufferSize
	if size < protocol.HeaderSize {
		size = protocol.HeaderSize
	}
	return &StreamTransport{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, size),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// setReadDeadline arms the read deadline. A connection closed by either end
// is left to the read that follows, which reports buffered data first and
// then io.EOF or the close.
func (t *StreamTransport) setReadDeadline(ctx context.Context) error {
	err := t.conn.SetReadDeadline(deadline(ctx, t.readTimeout))
	if isClosed(err) {
		return nil
	}
	return err
}

// ReadHeader implements Transport.
func (t *StreamTransport) ReadHeader(ctx context.Context) (protocol.Header, error) {
	if err := t.setReadDeadline(ctx); err != nil {
		return protocol.Header{}, err
	}
	stop := interruptOnDone(ctx, t.conn.SetReadDeadline)
	defer stop()
	h, err := protocol.ReadHeader(t.r)
	return h, contextError(ctx, err)
}

// ReadPayload implements Transport.
func (t *StreamTransport) ReadPayload(ctx context.Context, n int) ([]byte, error) {
	if err := t.setReadDeadline(ctx); err != nil {
		return nil, err
	}
	stop := interruptOnDone(ctx, t.conn.SetReadDeadline)
	defer stop()
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("server: read payload: %w", protocol.ErrTruncated)
		}
		return nil, contextError(ctx, err)
	}
	return buf, nil
}

// Write implements Transport.
func (t *StreamTransport) Write(ctx context.Context, b []byte) error {
	if err := t.conn.SetWriteDeadline(deadline(ctx, t.writeTimeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(b)
	return err
}

// RemoteAddr implements Transport.
func (t *StreamTransport) RemoteAddr() string {
	if a := t.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Kind implements Transport.
func (t *StreamTransport) Kind() string { return "tcp" }

// Close implements Transport.
func (t *StreamTransport) Close() error {
	return t.conn.Close()
}

// WebSocketTransport carries envelopes in binary WebSocket messages. One
// message holds one or more complete envelopes; an envelope never spans
// messages.
type WebSocketTransport struct {
	conn         *websocket.Conn
	pending      []byte
	readTimeout  time.Duration
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// NewWebSocketTransport wraps an upgraded connection.
func NewWebSocketTransport(conn *websocket.Conn, cfg *ConnectionConfig) *WebSocketTransport {
	if cfg == nil {
		cfg = DefaultConnectionConfig()
	}
	return &WebSocketTransport{
		conn:         conn,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// ReadHeader implements Transport.
func (t *WebSocketTransport) ReadHeader(ctx context.Context) (protocol.Header, error) {
	if len(t.pending) == 0 {
		if err := t.nextMessage(ctx); err != nil {
			return protocol.Header{}, err
		}
	}
	h, err := protocol.ParseHeader(t.pending)
	if err != nil {
		return h, err
	}
	t.pending = t.pending[protocol.HeaderSize:]
	return h, nil
}

// ReadPayload implements Transport.
func (t *WebSocketTransport) ReadPayload(_ context.Context, n int) ([]byte, error) {
	if len(t.pending) < n {
		return nil, fmt.Errorf("server: payload of %d bytes spans messages: %w", n, protocol.ErrTruncated)
	}
	payload := t.pending[:n:n]
	t.pending = t.pending[n:]
	return payload, nil
}

func (t *WebSocketTransport) nextMessage(ctx context.Context) error {
	for {
		if err := t.conn.SetReadDeadline(deadline(ctx, t.readTimeout)); err != nil {
			return err
		}
		stop := interruptOnDone(ctx, t.conn.SetReadDeadline)
		typ, msg, err := t.conn.ReadMessage()
		stop()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return io.EOF
			}
			return contextError(ctx, err)
		}
		if typ != websocket.BinaryMessage {
			return ErrUnexpectedMessage
		}
		if len(msg) > 0 {
			t.pending = msg
			return nil
		}
	}
}

// Write implements Transport.
func (t *WebSocketTransport) Write(ctx context.Context, b []byte) error {
	if err := t.conn.SetWriteDeadline(deadline(ctx, t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
}

// RemoteAddr implements Transport.
func (t *WebSocketTransport) RemoteAddr() string {
	if a := t.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Kind implements Transport.
func (t *WebSocketTransport) Kind() string { return "websocket" }

// Close sends a close frame and closes the connection.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = t.conn.Close()
	})
	return err
}

package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common connection and server error conditions.
var (
	// ErrConnectionClosed is returned when an operation is attempted on a closed connection.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrMaxConnections is returned when the maximum number of connections is reached.
	ErrMaxConnections = errors.New("server: max connections reached")

	// ErrDuplicateConnection is returned when a connection id is already tracked.
	ErrDuplicateConnection = errors.New("server: duplicate connection id")

	// ErrServerClosed is returned by Run and Serve after Shutdown.
	ErrServerClosed = errors.New("server: closed")

	// ErrUnexpectedMessage is returned when a WebSocket peer sends a non-binary message.
	ErrUnexpectedMessage = errors.New("server: unexpected websocket message type")
)

// ConnectionError wraps an error with connection context for debugging.
type ConnectionError struct {
	ConnID string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnectionError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: connection %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(connID, op string, err error) *ConnectionError {
	return &ConnectionError{
		ConnID: connID,
		Op:     op,
		Err:    err,
	}
}

// HandlerError wraps a panic that occurred in a packet handler.
type HandlerError struct {
	ConnID   string
	PacketID int32
	Packet   string
	Panic    any
	Stack    []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: handler panic in connection %s, packet %s (%d): %v",
		e.ConnID, e.Packet, e.PacketID, e.Panic)
}

// NewHandlerError creates a new HandlerError.
func NewHandlerError(connID string, packetID int32, packet string, panicVal any, stack []byte) *HandlerError {
	return &HandlerError{
		ConnID:   connID,
		PacketID: packetID,
		Packet:   packet,
		Panic:    panicVal,
		Stack:    stack,
	}
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ConnectionConfig holds configuration for individual connections.
type ConnectionConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for the next packet header.
	// Zero disables the timeout.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a packet.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PingInterval is the time between server pings. Zero disables pings.
	// Default: 15 seconds.
	PingInterval time.Duration

	// Buffers

	// ReadBufferSize is the buffered reader size of stream transports.
	// Default: 16KB.
	ReadBufferSize int

	// Control supplies the Disconnect, Ping and Pong packets of the
	// game's catalog. Nil disables heartbeats and farewell packets.
	Control Control
}

// DefaultConnectionConfig returns a ConnectionConfig with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   15 * time.Second,
		ReadBufferSize: 16 * 1024,
	}
}

// Clone returns a copy of the ConnectionConfig.
func (c *ConnectionConfig) Clone() *ConnectionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ServerConfig holds configuration for the TCP and WebSocket listeners.
type ServerConfig struct {
	// Address is the TCP address to listen on (e.g., ":5520").
	// Empty disables the TCP listener.
	// Default: ":5520".
	Address string

	// WebSocketAddress is the HTTP address serving WebSocket upgrades.
	// Empty disables the WebSocket listener.
	// Default: "".
	WebSocketAddress string

	// WebSocketPath is the upgrade path on WebSocketAddress.
	// Default: "/ws".
	WebSocketPath string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the upgrade request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Connection configuration

	// ConnectionConfig is the configuration for individual connections.
	// Default: DefaultConnectionConfig().
	ConnectionConfig *ConnectionConfig

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// MaxConnections is the maximum number of concurrent connections.
	// 0 means no limit.
	// Default: 0 (no limit).
	MaxConnections int

	// Partitions is the number of lock partitions of the connection table.
	// Default: 32.
	Partitions int
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:          ":5520",
		WebSocketAddress: "",
		WebSocketPath:    "/ws",
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      SameOriginCheck,
		ConnectionConfig: DefaultConnectionConfig(),
		ShutdownTimeout:  30 * time.Second,
		MaxConnections:   0, // No limit
		Partitions:       32,
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (native clients, curl)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}
	return originURL.Host == host
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.ConnectionConfig != nil {
		clone.ConnectionConfig = c.ConnectionConfig.Clone()
	}
	return &clone
}

// applyDefaults fills unset fields from DefaultServerConfig.
func (c *ServerConfig) applyDefaults() {
	defaults := DefaultServerConfig()
	if c.WebSocketPath == "" {
		c.WebSocketPath = defaults.WebSocketPath
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	if c.ConnectionConfig == nil {
		c.ConnectionConfig = defaults.ConnectionConfig
	}
	if c.ConnectionConfig.ReadBufferSize == 0 {
		c.ConnectionConfig.ReadBufferSize = defaults.ConnectionConfig.ReadBufferSize
	}
	if c.ConnectionConfig.WriteTimeout == 0 {
		c.ConnectionConfig.WriteTimeout = defaults.ConnectionConfig.WriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.Partitions == 0 {
		c.Partitions = defaults.Partitions
	}
}

// Validate reports every invalid setting.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Address == "" && c.WebSocketAddress == "" {
		errs = append(errs, errors.New("server: no listener configured"))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("server: max connections %d is negative", c.MaxConnections))
	}
	if c.Partitions < 0 {
		errs = append(errs, fmt.Errorf("server: partitions %d is negative", c.Partitions))
	}
	if cc := c.ConnectionConfig; cc != nil {
		if cc.ReadTimeout < 0 || cc.WriteTimeout < 0 || cc.PingInterval < 0 {
			errs = append(errs, errors.New("server: connection timeouts must not be negative"))
		}
		if cc.PingInterval > 0 && cc.ReadTimeout > 0 && cc.PingInterval >= cc.ReadTimeout {
			errs = append(errs, fmt.Errorf("server: ping interval %s must be shorter than read timeout %s",
				cc.PingInterval, cc.ReadTimeout))
		}
	}
	return errors.Join(errs...)
}

// WithAddress sets the TCP address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithWebSocketAddress sets the WebSocket address and returns the config for chaining.
func (c *ServerConfig) WithWebSocketAddress(addr string) *ServerConfig {
	c.WebSocketAddress = addr
	return c
}

// WithConnectionConfig sets the connection configuration and returns the config for chaining.
func (c *ServerConfig) WithConnectionConfig(cc *ConnectionConfig) *ServerConfig {
	c.ConnectionConfig = cc
	return c
}

// WithMaxConnections sets the maximum connections and returns the config for chaining.
func (c *ServerConfig) WithMaxConnections(limit int) *ServerConfig {
	c.MaxConnections = limit
	return c
}

// WithControl sets the control packets of every connection and returns the
// config for chaining.
func (c *ServerConfig) WithControl(ctl Control) *ServerConfig {
	if c.ConnectionConfig == nil {
		c.ConnectionConfig = DefaultConnectionConfig()
	}
	c.ConnectionConfig.Control = ctl
	return c
}

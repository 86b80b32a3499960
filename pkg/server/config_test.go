package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig()

	if cfg.ReadTimeout != 60*time.Second {
		t.Errorf("ReadTimeout = %v, want 60s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.PingInterval != 15*time.Second {
		t.Errorf("PingInterval = %v, want 15s", cfg.PingInterval)
	}
	if cfg.ReadBufferSize != 16*1024 {
		t.Errorf("ReadBufferSize = %d, want 16384", cfg.ReadBufferSize)
	}
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Address != ":5520" {
		t.Errorf("Address = %q, want :5520", cfg.Address)
	}
	if cfg.WebSocketAddress != "" {
		t.Errorf("WebSocketAddress = %q, want empty", cfg.WebSocketAddress)
	}
	if cfg.WebSocketPath != "/ws" {
		t.Errorf("WebSocketPath = %q, want /ws", cfg.WebSocketPath)
	}
	if cfg.ConnectionConfig == nil {
		t.Fatal("ConnectionConfig should not be nil")
	}
	if cfg.Partitions != 32 {
		t.Errorf("Partitions = %d, want 32", cfg.Partitions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestServerConfigClone(t *testing.T) {
	cfg := DefaultServerConfig()
	clone := cfg.Clone()

	clone.Address = ":9999"
	clone.ConnectionConfig.ReadTimeout = time.Second

	if cfg.Address != ":5520" {
		t.Error("Clone shares Address")
	}
	if cfg.ConnectionConfig.ReadTimeout != 60*time.Second {
		t.Error("Clone shares ConnectionConfig")
	}

	var nilCfg *ServerConfig
	if nilCfg.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestServerConfigApplyDefaults(t *testing.T) {
	cfg := &ServerConfig{Address: ":1234"}
	cfg.applyDefaults()

	if cfg.WebSocketPath != "/ws" {
		t.Errorf("WebSocketPath = %q", cfg.WebSocketPath)
	}
	if cfg.CheckOrigin == nil {
		t.Error("CheckOrigin should default")
	}
	if cfg.ConnectionConfig == nil || cfg.ConnectionConfig.WriteTimeout != 10*time.Second {
		t.Error("ConnectionConfig should default")
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.Address != ":1234" {
		t.Errorf("Address overwritten: %q", cfg.Address)
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ServerConfig)
		want   string
	}{
		{"no listener", func(c *ServerConfig) { c.Address = "" }, "no listener"},
		{"negative max connections", func(c *ServerConfig) { c.MaxConnections = -1 }, "max connections"},
		{"negative partitions", func(c *ServerConfig) { c.Partitions = -2 }, "partitions"},
		{"negative timeout", func(c *ServerConfig) { c.ConnectionConfig.WriteTimeout = -time.Second }, "must not be negative"},
		{"ping not shorter than read timeout", func(c *ServerConfig) {
			c.ConnectionConfig.PingInterval = time.Minute
			c.ConnectionConfig.ReadTimeout = time.Minute
		}, "ping interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestServerConfigValidateJoinsErrors(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Address = ""
	cfg.MaxConnections = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "no listener") || !strings.Contains(msg, "max connections") {
		t.Errorf("Validate() = %q, want both errors", msg)
	}
}

func TestServerConfigSetters(t *testing.T) {
	cc := &ConnectionConfig{ReadTimeout: time.Second}
	cfg := DefaultServerConfig().
		WithAddress(":7000").
		WithWebSocketAddress(":7001").
		WithConnectionConfig(cc).
		WithMaxConnections(5)

	if cfg.Address != ":7000" || cfg.WebSocketAddress != ":7001" {
		t.Errorf("addresses = %q, %q", cfg.Address, cfg.WebSocketAddress)
	}
	if cfg.ConnectionConfig != cc {
		t.Error("WithConnectionConfig not applied")
	}
	if cfg.MaxConnections != 5 {
		t.Errorf("MaxConnections = %d", cfg.MaxConnections)
	}
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "example.com", true},
		{"same origin", "https://example.com", "example.com", true},
		{"cross origin", "https://evil.com", "example.com", false},
		{"bad origin", "://bad", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := SameOriginCheck(r); got != tt.want {
				t.Errorf("SameOriginCheck() = %v, want %v", got, tt.want)
			}
		})
	}
}

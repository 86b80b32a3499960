package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/klauspost/compress/zstd"

	"github.com/lithium-clr/lithium-server-sub002/internal/errors"
	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "lithium.toml"

	// DefaultAddress is the default TCP listen address.
	DefaultAddress = ":5520"

	// DefaultAdminAddress is the default admin HTTP address.
	DefaultAdminAddress = "127.0.0.1:9090"
)

// Auth modes.
const (
	AuthOffline = "offline"
	AuthToken   = "token"
)

var errInvalidDuration = stderrors.New("invalid duration")

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w %q", errInvalidDuration, text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the complete lithium.toml configuration.
type Config struct {
	Server     ServerSection     `toml:"server"`
	WebSocket  WebSocketSection  `toml:"websocket"`
	Connection ConnectionSection `toml:"connection"`
	Protocol   ProtocolSection   `toml:"protocol"`
	Auth       AuthSection       `toml:"auth"`
	Admin      AdminSection      `toml:"admin"`
	Log        LogSection        `toml:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerSection configures the TCP listener and the server identity.
type ServerSection struct {
	// Address is the TCP listen address. Empty disables TCP.
	Address string `toml:"address"`

	// Name and Motd are sent to clients in ServerInfo.
	Name string `toml:"name"`
	Motd string `toml:"motd"`

	// MaxPlayers is advertised to clients and caps open connections.
	// 0 means no limit.
	MaxPlayers int `toml:"max_players"`

	// Partitions is the number of connection table partitions.
	Partitions int `toml:"partitions"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	// WorldHeight is sent to joining clients in WorldSettings.
	WorldHeight int32 `toml:"world_height"`
}

// WebSocketSection configures the WebSocket listener.
type WebSocketSection struct {
	// Address is the HTTP listen address. Empty disables WebSocket.
	Address string `toml:"address"`

	// Path is the upgrade path.
	Path string `toml:"path"`

	ReadBufferSize  int `toml:"read_buffer_size"`
	WriteBufferSize int `toml:"write_buffer_size"`

	// AllowedOrigins lists accepted Origin hosts. Empty means same origin
	// only; "*" accepts any origin.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// ConnectionSection configures every connection.
type ConnectionSection struct {
	ReadTimeout    Duration `toml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	PingInterval   Duration `toml:"ping_interval"`
	ReadBufferSize int      `toml:"read_buffer_size"`
}

// ProtocolSection configures the envelope codec.
type ProtocolSection struct {
	// ZstdLevel is one of "fastest", "default", "better" or "best".
	ZstdLevel string `toml:"zstd_level"`
}

// AuthSection configures the authentication phase.
type AuthSection struct {
	// Mode is "offline" (no authentication phase) or "token".
	Mode string `toml:"mode"`

	// Tokens maps accepted access tokens to player names in token mode.
	Tokens map[string]string `toml:"tokens"`
}

// AdminSection configures the admin HTTP server.
type AdminSection struct {
	// Address is the admin listen address. Empty disables it.
	Address string `toml:"address"`
}

// LogSection configures logging.
type LogSection struct {
	// Level is one of "debug", "info", "warn" or "error".
	Level string `toml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format"`
}

// New creates a new Config with default values.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads lithium.toml from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path. Unset keys
// take their defaults; unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E100").
				WithDetail("No " + filepath.Base(path) + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	cfg.configPath = path
	return cfg, nil
}

// Parse decodes TOML data. name is used in error locations.
func Parse(data []byte, name string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, decodeError(err, data, name)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New("E103").
			WithDetail("Unknown keys in " + name + ": " + strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeError converts a TOML decode failure into a located error.
func decodeError(err error, data []byte, name string) error {
	if stderrors.Is(err, errInvalidDuration) {
		return errors.New("E104").Wrap(err)
	}

	var pe toml.ParseError
	if !stderrors.As(err, &pe) {
		return errors.New("E101").Wrap(err)
	}
	e := errors.New("E101").Wrap(stderrors.New(pe.Message))
	if pe.Usage != "" {
		e.WithSuggestion(strings.TrimSpace(pe.Usage))
	}
	line, col := pe.Position.Line, column(data, pe.Position.Start)
	if _, statErr := os.Stat(name); statErr == nil {
		return e.WithLocation(name, line, col)
	}
	e.Location = &errors.Location{File: name, Line: line, Column: col}
	return e
}

// column returns the 1-based column of byte offset off in data.
func column(data []byte, off int) int {
	if off <= 0 || off > len(data) {
		return 0
	}
	lineStart := strings.LastIndexByte(string(data[:off]), '\n') + 1
	return off - lineStart + 1
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	defaults := server.DefaultServerConfig()
	conn := defaults.ConnectionConfig

	// Server
	if c.Server.Address == "" && c.WebSocket.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.Name == "" {
		c.Server.Name = "Lithium Server"
	}
	if c.Server.Partitions == 0 {
		c.Server.Partitions = defaults.Partitions
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout.Duration = defaults.ShutdownTimeout
	}
	if c.Server.WorldHeight == 0 {
		c.Server.WorldHeight = 320
	}

	// WebSocket
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = defaults.WebSocketPath
	}
	if c.WebSocket.ReadBufferSize == 0 {
		c.WebSocket.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WebSocket.WriteBufferSize == 0 {
		c.WebSocket.WriteBufferSize = defaults.WriteBufferSize
	}

	// Connection
	if c.Connection.ReadTimeout.Duration == 0 {
		c.Connection.ReadTimeout.Duration = conn.ReadTimeout
	}
	if c.Connection.WriteTimeout.Duration == 0 {
		c.Connection.WriteTimeout.Duration = conn.WriteTimeout
	}
	if c.Connection.PingInterval.Duration == 0 {
		c.Connection.PingInterval.Duration = conn.PingInterval
	}
	if c.Connection.ReadBufferSize == 0 {
		c.Connection.ReadBufferSize = conn.ReadBufferSize
	}

	if c.Protocol.ZstdLevel == "" {
		c.Protocol.ZstdLevel = "default"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthOffline
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(detail string) *errors.Error {
		return errors.New("E102").WithDetail(detail)
	}

	if c.Server.Address == "" && c.WebSocket.Address == "" {
		return invalid("At least one of server.address and websocket.address must be set")
	}
	if c.Server.MaxPlayers < 0 {
		return invalid("server.max_players must not be negative").
			WithSuggestion("Use 0 for no limit")
	}
	if c.Server.Partitions < 0 {
		return invalid("server.partitions must not be negative")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return invalid("websocket.path must start with /")
	}
	if c.Connection.ReadTimeout.Duration < 0 || c.Connection.WriteTimeout.Duration < 0 ||
		c.Connection.PingInterval.Duration < 0 {
		return invalid("connection timeouts must not be negative")
	}
	if _, ok := zstdLevels[c.Protocol.ZstdLevel]; !ok {
		return invalid(fmt.Sprintf("protocol.zstd_level %q is not one of fastest, default, better, best", c.Protocol.ZstdLevel))
	}
	switch c.Auth.Mode {
	case AuthOffline:
	case AuthToken:
		if len(c.Auth.Tokens) == 0 {
			return invalid("auth.mode \"token\" needs at least one entry in [auth.tokens]")
		}
	default:
		return invalid(fmt.Sprintf("auth.mode %q is not one of offline, token", c.Auth.Mode))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return invalid(err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid(fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}
	if err := c.ServerConfig().Validate(); err != nil {
		return errors.New("E102").Wrap(err)
	}
	return nil
}

var zstdLevels = map[string]zstd.EncoderLevel{
	"fastest": zstd.SpeedFastest,
	"default": zstd.SpeedDefault,
	"better":  zstd.SpeedBetterCompression,
	"best":    zstd.SpeedBestCompression,
}

// CodecOptions returns the envelope codec options of the [protocol] section.
func (c *Config) CodecOptions() []protocol.CodecOption {
	level, ok := zstdLevels[c.Protocol.ZstdLevel]
	if !ok {
		level = zstd.SpeedDefault
	}
	return []protocol.CodecOption{protocol.WithZstdLevel(level)}
}

// ServerConfig maps the file onto a server configuration.
func (c *Config) ServerConfig() *server.ServerConfig {
	sc := server.DefaultServerConfig().
		WithAddress(c.Server.Address).
		WithWebSocketAddress(c.WebSocket.Address).
		WithMaxConnections(c.Server.MaxPlayers)
	sc.ShutdownTimeout = c.Server.ShutdownTimeout.Duration
	sc.WebSocketPath = c.WebSocket.Path
	sc.ReadBufferSize = c.WebSocket.ReadBufferSize
	sc.WriteBufferSize = c.WebSocket.WriteBufferSize
	sc.Partitions = c.Server.Partitions
	if len(c.WebSocket.AllowedOrigins) > 0 {
		sc.CheckOrigin = originCheck(c.WebSocket.AllowedOrigins)
	}
	sc.ConnectionConfig = &server.ConnectionConfig{
		ReadTimeout:    c.Connection.ReadTimeout.Duration,
		WriteTimeout:   c.Connection.WriteTimeout.Duration,
		PingInterval:   c.Connection.PingInterval.Duration,
		ReadBufferSize: c.Connection.ReadBufferSize,
		Control:        packets.Control{},
	}
	return sc
}

// originCheck accepts requests without an Origin, same-origin requests and
// origins whose host is listed.
func originCheck(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if server.SameOriginCheck(r) {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if a == "*" || strings.HasSuffix(origin, "://"+a) {
				return true
			}
		}
		return false
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}

// NewLogger builds the logger described by the [log] section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

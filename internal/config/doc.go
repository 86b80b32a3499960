// Package config loads the lithium.toml server configuration.
//
// Every key is optional; unset keys take the defaults of pkg/server. Unknown
// keys are rejected so typos do not go unnoticed. Durations are strings.
//
// # Configuration File Structure
//
//	[server]
//	address = ":5520"
//	name = "Lithium Server"
//	motd = "Welcome"
//	max_players = 100
//	shutdown_timeout = "30s"
//
//	[websocket]
//	address = ":8080"
//	path = "/ws"
//	allowed_origins = ["play.example.com"]
//
//	[connection]
//	read_timeout = "60s"
//	write_timeout = "10s"
//	ping_interval = "15s"
//
//	[protocol]
//	zstd_level = "default"
//
//	[auth]
//	mode = "token"
//	[auth.tokens]
//	"s3cret" = "alice"
//
//	[admin]
//	address = "127.0.0.1:9090"
//
//	[log]
//	level = "info"
//	format = "json"
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    errors.PrintError(os.Stderr, err)
//	    os.Exit(1)
//	}
//	srv := server.New(cfg.ServerConfig(), codec, initial)
package config

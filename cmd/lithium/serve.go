package main

import (
	"context"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lithium-clr/lithium-server-sub002/internal/admin"
	"github.com/lithium-clr/lithium-server-sub002/internal/config"
	"github.com/lithium-clr/lithium-server-sub002/internal/errors"
	"github.com/lithium-clr/lithium-server-sub002/internal/handshake"
	"github.com/lithium-clr/lithium-server-sub002/pkg/middleware"
	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/server"
)

type serveOptions struct {
	configPath string
	address    string
	wsAddress  string
	adminAddr  string
	assetsDir  string
	trace      bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Long: `Run the game server until interrupted.

Configuration is read from --config, or from lithium.toml in the working
directory when it exists. Flags override the file.

Examples:
  lithium serve
  lithium serve --config /etc/lithium/lithium.toml
  lithium serve --addr :5520 --ws-addr :8080 --admin-addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default ./lithium.toml if present)")
	cmd.Flags().StringVar(&opts.address, "addr", "", "TCP listen address")
	cmd.Flags().StringVar(&opts.wsAddress, "ws-addr", "", "WebSocket listen address")
	cmd.Flags().StringVar(&opts.adminAddr, "admin-addr", "", "Admin HTTP address")
	cmd.Flags().StringVar(&opts.assetsDir, "assets", "", "Directory of assets sent to joining clients")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Trace game packets with OpenTelemetry")

	return cmd
}

// loadConfig reads the config named by path, or ./lithium.toml, or the
// defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if _, err := os.Stat(config.ConfigFileName); err == nil {
		return config.LoadFile(config.ConfigFileName)
	}
	return config.New(), nil
}

func (o serveOptions) apply(cfg *config.Config) error {
	if o.address != "" {
		cfg.Server.Address = o.address
	}
	if o.wsAddress != "" {
		cfg.WebSocket.Address = o.wsAddress
	}
	if o.adminAddr != "" {
		cfg.Admin.Address = o.adminAddr
	}
	return cfg.Validate()
}

// loadAssets stores every regular file below dir under its slash-separated
// relative path.
func loadAssets(dir string) (*handshake.MemoryAssets, error) {
	store := handshake.NewMemoryAssets()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		store.Put(filepath.ToSlash(rel), data)
		return nil
	})
	if err != nil {
		return nil, errors.New("E160").WithDetail("Failed to load assets from " + dir).Wrap(err)
	}
	return store, nil
}

func registryError(err error) error {
	return errors.New("E141").Wrap(err)
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	reg, err := packets.NewRegistry()
	if err != nil {
		return registryError(err)
	}
	codec, err := protocol.NewCodec(reg, cfg.CodecOptions()...)
	if err != nil {
		return registryError(err)
	}
	defer codec.Close()

	hsConfig := handshake.Config{
		ServerName:  cfg.Server.Name,
		Motd:        cfg.Server.Motd,
		MaxPlayers:  int32(cfg.Server.MaxPlayers),
		WorldHeight: cfg.Server.WorldHeight,
	}
	if cfg.Auth.Mode == config.AuthToken {
		hsConfig.Authenticator = handshake.StaticAuthenticator(cfg.Auth.Tokens)
	}
	if opts.assetsDir != "" {
		store, err := loadAssets(opts.assetsDir)
		if err != nil {
			return err
		}
		hsConfig.Assets = store
	}
	hs := handshake.New(hsConfig, reg, nil)

	collector := middleware.NewCollector()
	for _, r := range hs.Routers() {
		r.Use(collector.Middleware())
	}
	if opts.trace {
		hs.Game().Use(middleware.OpenTelemetry(
			middleware.WithPacketFilter(func(p protocol.Packet) bool {
				_, move := p.(*packets.ClientMovement)
				return !move
			}),
		))
	}

	srv := server.New(cfg.ServerConfig(), codec, hs.Initial())
	srv.SetLogger(logger.With("component", "server"))
	srv.SetObserver(collector)
	hs.SetPeers(handshake.ManagerPeers{ConnectionManager: srv.Connections()})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner()
	info("protocol hash %016x, %d packet types", reg.Fingerprint(), reg.Len())
	if cfg.Server.Address != "" {
		success("TCP on %s", cfg.Server.Address)
	}
	if cfg.WebSocket.Address != "" {
		success("WebSocket on %s%s", cfg.WebSocket.Address, cfg.WebSocket.Path)
	}

	if cfg.Admin.Address != "" {
		a := admin.New(srv, prometheus.DefaultGatherer)
		success("Admin on http://%s", cfg.Admin.Address)
		go func() {
			if err := a.ListenAndServe(ctx, cfg.Admin.Address); err != nil {
				logger.Error("admin server failed", "error", err)
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		var opErr *net.OpError
		if stderrors.As(err, &opErr) {
			return errors.New("E140").Wrap(err)
		}
		return err
	}
	return nil
}

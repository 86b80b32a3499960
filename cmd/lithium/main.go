package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lithium-clr/lithium-server-sub002/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╦  ┬┌┬┐┬ ┬┬┬ ┬┌┬┐
  ║  │ │ ├─┤││ ││││
  ╩═╝┴ ┴ ┴ ┴┴└─┘┴ ┴
`

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lithium",
		Short: "Game server speaking the lithium wire protocol",
		Long: `Lithium is a game server built on a binary, schema-driven wire protocol.

Clients connect over TCP or WebSocket and move through three phases:

  • initial: Connect with the protocol hash
  • authenticating: AuthToken (token mode only)
  • game: chat, movement and asset downloads

The packets, decode and encode-sample commands inspect the protocol
without running a server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		serveCmd(),
		packetsCmd(),
		decodeCmd(),
		encodeSampleCmd(),
		benchCmd(),
		versionCmd(),
	)
	return root
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

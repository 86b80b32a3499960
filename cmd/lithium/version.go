package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print version, commit, build and protocol information.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Println(version)
				return nil
			}

			reg, err := packets.NewRegistry()
			if err != nil {
				return registryError(err)
			}

			printBanner()
			fmt.Println()
			fmt.Printf("  Version:       %s\n", version)
			fmt.Printf("  Commit:        %s\n", commit)
			fmt.Printf("  Built:         %s\n", date)
			fmt.Printf("  Protocol hash: %016x\n", reg.Fingerprint())
			fmt.Printf("  Packet types:  %d\n", reg.Len())
			fmt.Printf("  Go version:    %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")

	return cmd
}

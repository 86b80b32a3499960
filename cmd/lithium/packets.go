package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lithium-clr/lithium-server-sub002/internal/admin"
	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

func packetsCmd() *cobra.Command {
	var (
		asJSON   bool
		describe bool
	)

	cmd := &cobra.Command{
		Use:   "packets",
		Short: "List registered packet types",
		Long: `List every registered packet type with its id, compression, size limit
and wire layout.

Examples:
  lithium packets
  lithium packets --describe
  lithium packets --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := packets.NewRegistry()
			if err != nil {
				return registryError(err)
			}
			return writePackets(os.Stdout, reg, asJSON, describe)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVarP(&describe, "describe", "d", false, "Include field layouts")

	return cmd
}

func writePackets(w io.Writer, reg *protocol.Registry, asJSON, describe bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if !describe {
			return enc.Encode(admin.ListPackets(reg))
		}
		details := make([]admin.PacketDetail, 0, reg.Len())
		for _, e := range reg.Entries() {
			details = append(details, admin.Describe(e))
		}
		return enc.Encode(details)
	}

	fmt.Fprintf(w, "protocol hash %016x\n\n", reg.Fingerprint())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOMPRESSION\tMAX SIZE\tLAYOUT\tFINGERPRINT")
	for _, e := range reg.Entries() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%016x\n",
			e.Info.ID, e.Info.Name, e.Info.Compression, e.Info.MaxSize, e.Schema.Layout, e.Schema.Fingerprint)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if describe {
		for _, e := range reg.Entries() {
			fmt.Fprintln(w)
			fmt.Fprint(w, e.Schema.Describe())
		}
	}
	return nil
}

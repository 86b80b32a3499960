package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	uuid "github.com/satori/go.uuid"
	"github.com/spf13/cobra"

	"github.com/lithium-clr/lithium-server-sub002/internal/errors"
	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

// sampleUUID keeps sample output stable across runs.
var sampleUUID = uuid.FromStringOrNil("6f1c2b9e-3d4a-4e5f-8a7b-9c0d1e2f3a4b")

// samples builds one packet per sample name. Connect needs the registry for
// its protocol hash.
var samples = map[string]func(reg *protocol.Registry) protocol.Packet{
	"asset-initialize": func(*protocol.Registry) protocol.Packet {
		return &packets.AssetInitialize{
			Size:  10,
			Asset: packets.Asset{Hash: strings.Repeat("ab", 32), Name: "textures/stone.png"},
		}
	},
	"chat": func(*protocol.Registry) protocol.Packet {
		msg := "hello world"
		return &packets.ChatMessage{Message: &msg}
	},
	"connect": func(reg *protocol.Registry) protocol.Packet {
		return &packets.Connect{
			ProtocolHash: reg.Fingerprint(),
			ClientType:   packets.ClientGame,
			UUID:         sampleUUID,
			Language:     "en-US",
			Username:     "steve",
		}
	},
	"disconnect": func(*protocol.Registry) protocol.Packet {
		return packets.NewDisconnect("sample")
	},
	"movement": func(*protocol.Registry) protocol.Packet {
		return &packets.ClientMovement{Position: &packets.Vector3d{X: 1.5, Y: 64, Z: -2}, Sprinting: true}
	},
	"ping": func(*protocol.Registry) protocol.Packet {
		return &packets.Ping{ID: 1, Time: 1700000000000000000}
	},
	"player-list": func(*protocol.Registry) protocol.Packet {
		return &packets.ServerPlayerList{
			Players:   []packets.PlayerEntry{{UUID: sampleUUID, Username: "steve"}},
			Latencies: map[uuid.UUID]int32{sampleUUID: 42},
		}
	},
	"world-settings": func(*protocol.Registry) protocol.Packet {
		return &packets.WorldSettings{
			WorldHeight:    320,
			RequiredAssets: []packets.Asset{{Hash: strings.Repeat("cd", 32), Name: "models/tree.bin"}},
		}
	},
}

func sampleNames() []string {
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func encodeSampleCmd() *cobra.Command {
	var (
		list bool
		raw  bool
	)

	cmd := &cobra.Command{
		Use:   "encode-sample [name]",
		Short: "Print a sample packet envelope",
		Long: `Encode a sample packet and print the envelope as hex, or as raw bytes
with --raw. The output can be piped into 'lithium decode'.

Examples:
  lithium encode-sample --list
  lithium encode-sample asset-initialize
  lithium encode-sample connect --raw | nc localhost 5520`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list || len(args) == 0 {
				for _, name := range sampleNames() {
					fmt.Println(name)
				}
				return nil
			}

			reg, err := packets.NewRegistry()
			if err != nil {
				return registryError(err)
			}
			codec, err := protocol.NewCodec(reg)
			if err != nil {
				return registryError(err)
			}
			defer codec.Close()

			return encodeSample(os.Stdout, codec, args[0], raw)
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List sample names")
	cmd.Flags().BoolVar(&raw, "raw", false, "Write raw bytes instead of hex")

	return cmd
}

func encodeSample(w io.Writer, codec *protocol.Codec, name string, raw bool) error {
	build, ok := samples[name]
	if !ok {
		return errors.New("E161").WithDetail(fmt.Sprintf("No sample named %q. Available: %s",
			name, strings.Join(sampleNames(), ", ")))
	}

	b, err := codec.Encode(build(codec.Registry()))
	if err != nil {
		return errors.FromProtocol(err)
	}
	if raw {
		_, err = w.Write(b)
		return err
	}
	_, err = fmt.Fprintln(w, hex.EncodeToString(b))
	return err
}

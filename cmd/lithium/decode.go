package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/lithium-clr/lithium-server-sub002/internal/errors"
	"github.com/lithium-clr/lithium-server-sub002/pkg/packets"
	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
)

func decodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [hex]",
		Short: "Decode hex envelopes into JSON",
		Long: `Decode one or more envelopes given as hexadecimal bytes and print each
packet as JSON. Without an argument the hex is read from stdin.

Examples:
  lithium decode 0a000000280000000300000000000000
  lithium encode-sample asset-initialize | lithium decode`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input []byte
			if len(args) == 1 {
				input = []byte(args[0])
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return errors.New("E160").Wrap(err)
				}
				input = data
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

			return decodeHex(os.Stdout, codec, input)
		},
	}
	return cmd
}

// decodedPacket is the JSON form of one decoded envelope.
type decodedPacket struct {
	ID     int32           `json:"id"`
	Name   string          `json:"name"`
	Length int             `json:"length"`
	Packet protocol.Packet `json:"packet"`
}

// parseHex decodes hex, ignoring whitespace.
func parseHex(input []byte) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, string(input))
	clean = strings.TrimPrefix(clean, "0x")

	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, errors.New("E125").Wrap(err)
	}
	if len(data) == 0 {
		return nil, errors.New("E125").WithDetail("The input contains no bytes.")
	}
	return data, nil
}

func decodeHex(w io.Writer, codec *protocol.Codec, input []byte) error {
	data, err := parseHex(input)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		h, p, err := codec.ReadPacket(r)
		if err != nil {
			return errors.FromProtocol(err)
		}
		out := decodedPacket{ID: h.PacketID, Name: p.PacketInfo().Name, Length: h.Length, Packet: p}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

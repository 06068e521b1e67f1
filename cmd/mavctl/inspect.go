package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danmuck/mavwire/internal/dialect/common"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/decoder"
	"github.com/danmuck/mavwire/internal/protocol/frame"
	"github.com/danmuck/mavwire/internal/signing"
)

func newInspectCommand(a *app) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "inspect HEX...",
		Short: "Decode frame bytes given as hex",
		Long:  "Decodes one frame strictly, or with --stream every frame found in noisy input.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseHex(strings.Join(args, ""))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if stream {
				return inspectStream(out, data)
			}
			f, err := protocol.ParseFrame(data, common.Dialect{})
			if err != nil {
				var crcErr *protocol.InvalidCRCError
				if errors.As(err, &crcErr) {
					describeFrame(out, &crcErr.Frame)
				}
				return err
			}
			describeFrame(out, &f)
			if rest := len(data) - f.Len(); rest > 0 {
				fmt.Fprintf(out, "trailing bytes: %d\n", rest)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "Treat input as a byte stream and resynchronize on noise")
	return cmd
}

// parseHex accepts plain hex as well as bytes separated by spaces, colons or
// 0x prefixes.
func parseHex(raw string) ([]byte, error) {
	cleaned := strings.NewReplacer("0x", "", "0X", "", ":", "", ",", "", " ", "", "\n", "", "\t", "").Replace(raw)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("parse hex: %w", err)
	}
	return data, nil
}

func inspectStream(out io.Writer, data []byte) error {
	buf := decoder.NewBuffer(len(data))
	buf.Write(data)
	dec := decoder.New(common.Dialect{}.ExtraCRC)
	n := dec.DecodeAll(buf, func(f frame.RawV2) {
		describeFrame(out, &f)
		fmt.Fprintln(out)
	})
	s := dec.Stats()
	fmt.Fprintf(out, "frames=%d discarded=%d rejected_headers=%d crc_failures=%d pending=%d\n",
		n, s.DiscardedBytes, s.RejectedHeaders, s.CRCFailures, buf.Len())
	return nil
}

func describeFrame(out io.Writer, f *frame.RawV2) {
	fmt.Fprintf(out, "len=%d incompat=%#02x compat=%#02x seq=%d sys=%d comp=%d msgid=%d crc=%#04x\n",
		f.PayloadLength(), f.IncompatibilityFlags(), f.CompatibilityFlags(),
		f.Sequence(), f.SystemID(), f.ComponentID(), f.MessageID(), f.Checksum())
	if f.Signed() {
		if t, err := signing.ReadTrailer(f); err == nil {
			fmt.Fprintf(out, "signature link=%d timestamp=%d mac=%x\n", t.LinkID, t.Timestamp, t.MAC)
		}
	}
	_, msg, err := protocol.DecodeMessage(f, common.Dialect{})
	if err != nil {
		fmt.Fprintf(out, "payload % x (%v)\n", f.Payload(), err)
		return
	}
	fmt.Fprintf(out, "%s %+v\n", msg.MessageName(), msg)
}

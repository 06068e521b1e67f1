package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/mavwire/internal/capture"
	"github.com/danmuck/mavwire/internal/dialect/common"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

func newPcapCommand(a *app) *cobra.Command {
	var port uint16
	var record string
	cmd := &cobra.Command{
		Use:   "pcap FILE",
		Short: "Extract frames from a pcap of UDP telemetry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			var rec *capture.Recorder
			if record != "" {
				store, err := openCaptureStore(a)
				if err != nil {
					return err
				}
				defer store.Close()
				if rec, err = store.Begin(record, "pcap:"+args[0]); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			d := common.Dialect{}
			stats, err := capture.ReadPcap(file, port, d.ExtraCRC, func(e capture.Entry) error {
				if rec != nil {
					if err := rec.Record(e.At, &e.Frame); err != nil {
						return err
					}
				}
				h, msg, err := protocol.DecodeMessage(&e.Frame, d)
				if err != nil {
					fmt.Fprintf(out, "%s msgid=%d %v\n", e.At.Format("15:04:05.000000"), e.Frame.MessageID(), err)
					return nil
				}
				fmt.Fprintf(out, "%s ", e.At.Format("15:04:05.000000"))
				printMessage(out, h, msg)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "packets=%d udp=%d frames=%d resynced=%d crc_failures=%d\n",
				stats.Packets, stats.UDPPackets, stats.Frames, stats.Resynced, stats.Decoder.CRCFailures)
			return nil
		},
	}
	cmd.Flags().Uint16Var(&port, "port", frame.DefaultUDPPort, "UDP port carrying MAVLink")
	cmd.Flags().StringVar(&record, "record", "", "Also store frames into this capture session")
	return cmd
}

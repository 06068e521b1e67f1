package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/mavwire/internal/capture"
	"github.com/danmuck/mavwire/internal/dialect/common"
	"github.com/danmuck/mavwire/internal/logging"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

func newListenCommand(a *app) *cobra.Command {
	var record string
	var raw bool
	cmd := &cobra.Command{
		Use:   "listen [address]",
		Short: "Print every message received on a link",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := a.address(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			log := logging.Component("listen")

			var rec *capture.Recorder
			if record != "" {
				store, err := openCaptureStore(a)
				if err != nil {
					return err
				}
				defer store.Close()
				if rec, err = store.Begin(record, address); err != nil {
					return err
				}
			}

			link, err := a.openLink(ctx, address)
			if err != nil {
				return err
			}
			defer link.Close()
			defer a.serveMetrics(ctx, address, link)()

			out := cmd.OutOrStdout()
			err = recvLoop(ctx, link, log, func(f frame.RawV2) error {
				if rec != nil {
					if err := rec.Record(time.Now(), &f); err != nil {
						return err
					}
				}
				if raw {
					fmt.Fprintf(out, "% x\n", f.Bytes())
				}
				h, msg, err := protocol.DecodeMessage(&f, common.Dialect{})
				if err != nil {
					var perr *protocol.ParseError
					if errors.As(err, &perr) {
						log.Warn().Err(err).Msg("parse failed")
						return nil
					}
					return err
				}
				printMessage(out, h, msg)
				return nil
			})
			stats := link.Stats()
			log.Info().
				Uint64("frames", stats.Decoder.Frames).
				Uint64("discarded_bytes", stats.Decoder.DiscardedBytes).
				Uint64("crc_failures", stats.Decoder.CRCFailures).
				Msg("listen done")
			return err
		},
	}
	cmd.Flags().StringVar(&record, "record", "", "Record frames into this capture session")
	cmd.Flags().BoolVar(&raw, "raw", false, "Also print frame bytes")
	return cmd
}

func openCaptureStore(a *app) (*capture.Store, error) {
	if a.cfg.Capture.Path == "" {
		return nil, errors.New("capture.path is not set")
	}
	return capture.Open(a.cfg.Capture.Path)
}

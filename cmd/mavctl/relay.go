package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/mavwire/internal/dialect/common"
	"github.com/danmuck/mavwire/internal/logging"
	"github.com/danmuck/mavwire/internal/protocol/frame"
	"github.com/danmuck/mavwire/internal/relay"
)

func newRelayCommand(a *app) *cobra.Command {
	var listen, record string
	var standalone bool
	cmd := &cobra.Command{
		Use:   "relay [upstream-address]",
		Short: "Share one link between many TCP clients",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.Component("relay")
			cfg := relay.Config{
				Listen:   a.cfg.Relay.Listen,
				MaxPeers: a.cfg.Relay.MaxPeers,
				ExtraCRC: common.Dialect{}.ExtraCRC,
			}
			if listen != "" {
				cfg.Listen = listen
			}

			if !standalone {
				address, err := a.address(args)
				if err != nil {
					return err
				}
				link, err := a.openLink(ctx, address)
				if err != nil {
					return err
				}
				defer link.Close()
				defer a.serveMetrics(ctx, address, link)()
				cfg.Upstream = link
			}

			if record != "" {
				store, err := openCaptureStore(a)
				if err != nil {
					return err
				}
				defer store.Close()
				rec, err := store.Begin(record, "relay:"+cfg.Listen)
				if err != nil {
					return err
				}
				cfg.OnFrame = func(source string, f *frame.RawV2) {
					if err := rec.Record(time.Now(), f); err != nil {
						log.Warn().Err(err).Str("source", source).Msg("record failed")
					}
				}
			}

			r, err := relay.Listen(cfg)
			if err != nil {
				return err
			}
			return r.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address for peers, overrides relay.listen")
	cmd.Flags().StringVar(&record, "record", "", "Record every relayed frame into this capture session")
	cmd.Flags().BoolVar(&standalone, "standalone", false, "Run without an upstream link")
	return cmd
}

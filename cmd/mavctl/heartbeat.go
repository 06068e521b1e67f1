package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/mavwire/internal/dialect/common"
	"github.com/danmuck/mavwire/internal/logging"
)

func newHeartbeatCommand(a *app) *cobra.Command {
	var interval time.Duration
	var count int
	cmd := &cobra.Command{
		Use:   "heartbeat [address]",
		Short: "Announce this process as a ground station",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := a.address(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			link, err := a.openLink(ctx, address)
			if err != nil {
				return err
			}
			defer link.Close()
			defer a.serveMetrics(ctx, address, link)()

			log := logging.Component("heartbeat")
			msg := &common.Heartbeat{
				Type:           common.MavTypeGCS,
				Autopilot:      common.MavAutopilotInvalid,
				SystemStatus:   common.MavStateActive,
				MavlinkVersion: 3,
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for sent := 1; ; sent++ {
				n, err := link.Send(ctx, a.cfg.Header(), msg)
				if err != nil {
					return err
				}
				log.Debug().Int("bytes", n).Int("sent", sent).Msg("heartbeat")
				if count > 0 && sent >= count {
					break
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d heartbeats\n", link.Stats().FramesSent)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Time between heartbeats")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many; 0 runs until interrupted")
	return cmd
}

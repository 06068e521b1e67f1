package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/mavwire/internal/capture"
)

func newReplayCommand(a *app) *cobra.Command {
	var speed float64
	cmd := &cobra.Command{
		Use:   "replay SESSION [address]",
		Short: "Send a recorded session to a link, frame for frame",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := a.address(args[1:])
			if err != nil {
				return err
			}
			store, err := openCaptureStore(a)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			link, err := a.openLink(ctx, address)
			if err != nil {
				return err
			}
			defer link.Close()
			defer a.serveMetrics(ctx, address, link)()

			n, err := store.Replay(ctx, args[0], capture.ReplayOptions{Speed: speed}, func(e capture.Entry) error {
				_, err := link.SendRaw(ctx, &e.Frame)
				return err
			})
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d frames\n", n)
			return err
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed; 0 sends as fast as possible")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/mavwire/internal/connection"
	"github.com/danmuck/mavwire/internal/dialect/common"
	"github.com/danmuck/mavwire/internal/logging"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

var errAckReceived = errors.New("ack received")

func newIntervalCommand(a *app) *cobra.Command {
	var message string
	var every, timeout time.Duration
	var targetSystem, targetComponent uint8
	var attempts int
	cmd := &cobra.Command{
		Use:   "interval [address]",
		Short: "Ask a vehicle to stream a message at a fixed interval",
		Long:  "Sends MAV_CMD_SET_MESSAGE_INTERVAL and waits for the COMMAND_ACK. A zero --every restores the default rate; a negative one stops the stream.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := a.address(args)
			if err != nil {
				return err
			}
			id, err := resolveMessageID(message)
			if err != nil {
				return err
			}
			req := setIntervalCommand(id, every, targetSystem, targetComponent)

			ctx := cmd.Context()
			link, err := a.openLink(ctx, address)
			if err != nil {
				return err
			}
			defer link.Close()

			ack, err := sendCommand(ctx, link, a.cfg.Header(), req, timeout, attempts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", ack.Command, ack.Result)
			if ack.Result != common.MavResultAccepted {
				return fmt.Errorf("command rejected: %s", ack.Result)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "Message name or id to stream")
	cmd.Flags().DurationVar(&every, "every", time.Second, "Interval between messages")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Second, "Time to wait for an ack per attempt")
	cmd.Flags().IntVar(&attempts, "attempts", 3, "Send attempts before giving up")
	cmd.Flags().Uint8Var(&targetSystem, "target-system", 1, "Target system id")
	cmd.Flags().Uint8Var(&targetComponent, "target-component", 1, "Target component id")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func resolveMessageID(raw string) (uint32, error) {
	if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
		return uint32(id), nil
	}
	return common.Dialect{}.MessageIDFromName(raw)
}

// setIntervalCommand encodes the interval in microseconds; -1 disables the
// stream and 0 asks for the default rate.
func setIntervalCommand(id uint32, every time.Duration, targetSystem, targetComponent uint8) *common.CommandLong {
	interval := float32(every.Microseconds())
	if every < 0 {
		interval = -1
	}
	return &common.CommandLong{
		Command:         common.MavCmdSetMessageInterval,
		Params:          [7]float32{float32(id), interval},
		TargetSystem:    targetSystem,
		TargetComponent: targetComponent,
	}
}

// sendCommand sends req until a matching COMMAND_ACK arrives. Confirmation
// counts retries as the command protocol expects.
func sendCommand(ctx context.Context, link *connection.Link, h protocol.Header, req *common.CommandLong, timeout time.Duration, attempts int) (*common.CommandAck, error) {
	log := logging.Component("command")
	for attempt := 0; attempt < attempts; attempt++ {
		req.Confirmation = uint8(attempt)
		if _, err := link.Send(ctx, h, req); err != nil {
			return nil, err
		}
		log.Debug().Stringer("command", req.Command).Int("attempt", attempt+1).Msg("command sent")

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		var ack *common.CommandAck
		err := recvLoop(waitCtx, link, log, func(f frame.RawV2) error {
			if f.MessageID() != common.CommandAckID {
				return nil
			}
			_, msg, err := protocol.DecodeMessage(&f, common.Dialect{})
			if err != nil {
				return nil
			}
			if m := msg.(*common.CommandAck); m.Command == req.Command {
				ack = m
				return errAckReceived
			}
			return nil
		})
		cancel()
		if ack != nil {
			return ack, nil
		}
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("no ack for %s after %d attempts", req.Command, attempts)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/danmuck/mavwire/internal/connection"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/frame"
	"github.com/danmuck/mavwire/internal/signing"
)

// recvLoop feeds every valid frame from link to fn until ctx ends. Timeouts
// and rejected signatures are skipped; a dropped stream is reconnected.
func recvLoop(ctx context.Context, link *connection.Link, log zerolog.Logger, fn func(frame.RawV2) error) error {
	for {
		f, err := link.RecvFrame(ctx)
		switch {
		case err == nil:
			if err := fn(f); err != nil {
				return err
			}
		case ctx.Err() != nil, errors.Is(err, connection.ErrClosed):
			return nil
		case connection.IsTimeout(err):
		case errors.Is(err, protocol.ErrBadSignature),
			errors.Is(err, signing.ErrStaleTimestamp),
			errors.Is(err, signing.ErrUnsigned):
			log.Warn().Err(err).Uint32("msgid", f.MessageID()).Msg("frame rejected")
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			log.Warn().Err(err).Msg("stream closed, reconnecting")
			if err := link.Reconnect(ctx); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

func printMessage(out io.Writer, h protocol.Header, msg protocol.Message) {
	fmt.Fprintf(out, "seq=%-3d sys=%-3d comp=%-3d %-20s %+v\n",
		h.Sequence, h.SystemID, h.ComponentID, msg.MessageName(), msg)
}

package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jtwittner/blocklog/blockfmt"
	"github.com/jtwittner/blocklog/dirman"
	"github.com/jtwittner/blocklog/internal/logging"
	"github.com/jtwittner/blocklog/wire"
)

// ackTask reads Acks from fr and prunes the block directory as the remote
// confirms durability. It returns errAckCleanEOF (not an error the outer
// loop logs at error level) on a clean remote disconnect, or a wrapped I/O
// error on anything else.
func (f *Forwarder) ackTask(ctx context.Context, fr *wire.FrameReader) error {
	var prev blockfmt.BlockInfo

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ack wire.Ack
		if err := fr.ReadMessage(&ack); err != nil {
			if errors.Is(err, io.EOF) {
				return errAckCleanEOF
			}
			return fmt.Errorf("forwarder: read ack: %w", err)
		}

		info := ack.Info.ToBlockInfo()
		if info.Number <= prev.Number {
			// Out-of-order or stale ack: retention is driven only by
			// strictly-advancing block numbers.
			continue
		}
		prev = info

		if err := dirman.DeleteBlocksBelow(f.fs, f.dir, uint64(info.Number)); err != nil {
			f.log.Warnf("%sretention delete below block %d failed: %v", logging.NSForwarder, info.Number, err)
		}
	}
}

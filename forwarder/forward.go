package forwarder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jtwittner/blocklog/blockfmt"
	"github.com/jtwittner/blocklog/blockio"
	"github.com/jtwittner/blocklog/dirman"
	"github.com/jtwittner/blocklog/internal/logging"
	"github.com/jtwittner/blocklog/wire"
)

// forwardTask tails the block directory from start, streaming every entry
// it finds to fw as a wire.Record. It returns only when ctx is canceled or
// a genuine transport error occurs while sending — local read failures
// (missing block, corrupt frame) are absorbed by the open-retry-then-skip
// policy in streamBlock and never end the task.
func (f *Forwarder) forwardTask(ctx context.Context, fw *wire.FrameWriter, start blockfmt.BlockInfo) error {
	info := start
	var size uint64

	for {
		var err error
		info, size, err = f.waitForUpdate(ctx, info, size)
		if err != nil {
			return err
		}

		advanced, newSize, skip, err := f.streamBlock(ctx, fw, info)
		if err != nil {
			return err
		}
		if skip {
			info = blockfmt.BlockInfo{Number: info.Number + 1, Offset: 0}
			size = 0
			continue
		}
		info = advanced
		size = newSize
	}
}

// waitForUpdate scans dir for either growth in the current block or the
// next non-empty block, sleeping and retrying until one appears.
func (f *Forwarder) waitForUpdate(ctx context.Context, info blockfmt.BlockInfo, size uint64) (blockfmt.BlockInfo, uint64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return info, size, err
		}

		entries, err := f.fs.ReadDir(f.dir)
		if err != nil {
			f.log.Warnf("%sdirectory scan failed: %v", logging.NSForwarder, err)
			if !sleepCtx(ctx, 5*time.Second) {
				return info, size, ctx.Err()
			}
			continue
		}

		currentName := dirman.BlockFileName(uint64(info.Number))
		var currentSize int64 = -1
		var nextNum uint64
		var nextSize int64
		haveNext := false

		for _, e := range entries {
			n, ok := parseBlockNum(e.Name)
			if !ok {
				continue
			}
			if e.Name == currentName {
				currentSize = e.Size
			}
			if n > uint64(info.Number) && e.Size > 0 {
				if !haveNext || n < nextNum {
					nextNum, nextSize, haveNext = n, e.Size, true
				}
			}
		}

		if currentSize >= 0 && uint64(currentSize) > size {
			return info, uint64(currentSize), nil
		}
		if haveNext {
			return blockfmt.BlockInfo{Number: blockfmt.BlockNum(nextNum), Offset: 0}, uint64(nextSize), nil
		}

		if !sleepCtx(ctx, 1*time.Second) {
			return info, size, ctx.Err()
		}
	}
}

func parseBlockNum(name string) (uint64, bool) {
	return dirman.ParseBlockNum(name)
}

// streamBlock opens block info.Number at info.Offset and streams every
// entry it finds to fw, until the block yields blockfmt.ErrEndOfBlock
// (success: returns the advanced cursor and its last observed size) or the
// open-retry budget for this block is exhausted (skip: the caller moves to
// the next block number). A genuine send error on fw propagates up to
// trigger reconnection.
func (f *Forwarder) streamBlock(ctx context.Context, fw *wire.FrameWriter, info blockfmt.BlockInfo) (advanced blockfmt.BlockInfo, size uint64, skip bool, err error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return info, size, false, err
		}

		// Every retry re-streams from the same starting cursor rather
		// than the partial progress of the failed attempt: a record that
		// was already sent before the failure may be sent again, which
		// at-least-once delivery permits, but a permanently corrupt frame
		// must be retried against, not silently stepped over.
		var readErr error
		advanced, size, readErr = f.streamOnce(ctx, fw, info)
		if readErr == nil {
			return advanced, size, false, nil
		}
		if errors.Is(readErr, errSendFailed) {
			return info, size, false, readErr
		}

		attempts++
		f.log.Warnf("%sblock %d unreadable (attempt %d/%d): %v", logging.NSForwarder, info.Number, attempts, openRetryBudget+1, readErr)
		if attempts > openRetryBudget {
			f.log.Warnf("%smoving to next block after %d failed attempts on block %d", logging.NSForwarder, attempts, info.Number)
			return info, size, true, nil
		}
		if !sleepCtx(ctx, openRetryDelay) {
			return info, size, false, ctx.Err()
		}
	}
}

// errSendFailed marks a streamOnce failure as a transport error (sending
// a Record over fw failed) rather than a local block-read error, so
// streamBlock can tell the two apart.
var errSendFailed = errors.New("forwarder: send failed")

// streamOnce opens the block once and streams entries until
// blockfmt.ErrEndOfBlock, a read error (CRC/header/io), or a send error.
// It returns the cursor advanced past every entry it successfully sent.
func (f *Forwarder) streamOnce(ctx context.Context, fw *wire.FrameWriter, info blockfmt.BlockInfo) (blockfmt.BlockInfo, uint64, error) {
	r, err := blockio.OpenReader(f.fs, f.dir, info)
	if err != nil {
		return info, 0, fmt.Errorf("open block %d: %w", info.Number, err)
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return r.Info(), blockSize(f, info.Number), err
		}

		payload, crc, err := r.NextEntry()
		if err != nil {
			if errors.Is(err, blockfmt.ErrEndOfBlock) {
				return r.Info(), blockSize(f, info.Number), nil
			}
			return r.Info(), blockSize(f, info.Number), fmt.Errorf("read block %d at offset %d: %w", info.Number, r.Info().Offset, err)
		}

		rec := wire.Record{Info: wire.FromBlockInfo(r.Info()), Item: payload, CRC: crc}
		if err := fw.WriteMessage(rec); err != nil {
			return r.Info(), blockSize(f, info.Number), fmt.Errorf("%w: %v", errSendFailed, err)
		}
	}
}

// blockSize returns the current on-disk size of block n, or 0 if it
// cannot be determined (best-effort bookkeeping only; waitForUpdate
// re-derives size authoritatively on its next scan).
func blockSize(f *Forwarder, n blockfmt.BlockNum) uint64 {
	entries, err := f.fs.ReadDir(f.dir)
	if err != nil {
		return 0
	}
	name := dirman.BlockFileName(uint64(n))
	for _, e := range entries {
		if e.Name == name {
			return uint64(e.Size)
		}
	}
	return 0
}

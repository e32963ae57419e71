// Command logcat dumps the entries in a block directory to stdout, in
// order, optionally following the directory for new writes the way `tail
// -f` follows a growing file.
//
// Usage:
//
//	logcat --dir=<path> [--from=<block>] [--follow] [--hex]
//
// Each entry is printed as:
//
//	[block.N@offset] <payload>
//
// Payload framing carries no type information (see spec Non-goals), so
// logcat decodes each payload as a CBOR value for display when --hex is
// not given, falling back to a hex byte dump when the payload isn't valid
// CBOR; --hex always forces the hex dump.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/mattn/go-isatty"

	"github.com/jtwittner/blocklog/blockfmt"
	"github.com/jtwittner/blocklog/blockio"
	"github.com/jtwittner/blocklog/dirman"
	"github.com/jtwittner/blocklog/vfs"
)

var (
	dirPath  = flag.String("dir", "", "Path to the block directory to read (required)")
	from     = flag.Uint64("from", 1, "Block number to start from")
	follow   = flag.Bool("follow", false, "Keep reading as the directory grows, like tail -f")
	hexForce = flag.Bool("hex", false, "Always hex-dump payloads instead of decoding them as CBOR")
	help     = flag.Bool("help", false, "Print usage")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *dirPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --dir is required")
		printUsage()
		os.Exit(1)
	}

	fs := vfs.Default()
	if !fs.IsDir(*dirPath) {
		fmt.Fprintf(os.Stderr, "Error: %q is not a directory\n", *dirPath)
		os.Exit(1)
	}

	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	start := blockfmt.BlockInfo{Number: blockfmt.BlockNum(*from), Offset: 0}
	if err := run(ctx, fs, *dirPath, start, *follow, *hexForce, color); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run walks block files from start.Number onward, printing every entry.
// When follow is true it keeps polling for growth instead of returning at
// the first block with nothing more to read.
func run(ctx context.Context, fs vfs.FS, dir string, start blockfmt.BlockInfo, follow, hexForce, color bool) error {
	num := start.Number
	offset := start.Offset

	for {
		if ctx.Err() != nil {
			return nil
		}

		r, err := blockio.OpenReader(fs, dir, blockfmt.BlockInfo{Number: num, Offset: offset})
		if err != nil {
			if isNotExist(err) {
				if !follow {
					return nil
				}
				if !waitForBlock(ctx, fs, dir, num) {
					return nil
				}
				continue
			}
			return fmt.Errorf("open block %d: %w", num, err)
		}

		for {
			payload, _, err := r.NextEntry()
			if err != nil {
				r.Close()
				if errors.Is(err, blockfmt.ErrEndOfBlock) {
					break
				}
				return fmt.Errorf("read block %d: %w", num, err)
			}
			printEntry(r.Info(), payload, hexForce, color)
		}

		if follow {
			if !waitForGrowthOrNextBlock(ctx, fs, dir, num) {
				return nil
			}
			// Re-read the current block from where this pass stopped if it
			// grew; otherwise move on to the next block.
			if size := blockSizeOf(fs, dir, dirman.BlockFileName(uint64(num))); size > int64(r.Info().Offset) {
				offset = r.Info().Offset
				continue
			}
		}
		num++
		offset = 0
	}
}

// isNotExist reports whether err means "the file does not exist," across
// both vfs.MemFS's own error type and the real OS filesystem's.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || vfs.IsNotExist(err)
}

func printEntry(info blockfmt.BlockInfo, payload []byte, hexForce, color bool) {
	prefix := fmt.Sprintf("[block.%d@%d]", info.Number, info.Offset)
	if color {
		prefix = "\x1b[36m" + prefix + "\x1b[0m"
	}
	fmt.Printf("%s %s\n", prefix, displayPayload(payload, hexForce))
}

// displayPayload decodes payload as a CBOR value and formats it the way
// the original_source logcat used minicbor::display, falling back to a
// hex byte dump when --hex was requested or the payload doesn't decode as
// a single, complete CBOR value.
func displayPayload(payload []byte, hexForce bool) string {
	if !hexForce {
		var v any
		if err := cbor.Unmarshal(payload, &v); err == nil {
			return fmt.Sprintf("%v", v)
		}
	}
	return hex.EncodeToString(payload)
}

// waitForBlock polls until block num's file appears in dir or ctx is
// canceled.
func waitForBlock(ctx context.Context, fs vfs.FS, dir string, num blockfmt.BlockNum) bool {
	name := filepath.Join(dir, dirman.BlockFileName(uint64(num)))
	for {
		if !sleepCtx(ctx, 1*time.Second) {
			return false
		}
		if rc, err := fs.OpenRead(name); err == nil {
			rc.Close()
			return true
		}
	}
}

// waitForGrowthOrNextBlock polls until either the current block grows
// past what has already been read, the next block number appears, or ctx
// is canceled.
func waitForGrowthOrNextBlock(ctx context.Context, fs vfs.FS, dir string, num blockfmt.BlockNum) bool {
	name := dirman.BlockFileName(uint64(num))
	lastSize := blockSizeOf(fs, dir, name)

	for {
		if !sleepCtx(ctx, 1*time.Second) {
			return false
		}
		entries, err := fs.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Name == name && e.Size > lastSize {
				return true
			}
			if n, ok := dirman.ParseBlockNum(e.Name); ok && n > uint64(num) {
				return true
			}
		}
	}
}

func blockSizeOf(fs vfs.FS, dir, name string) int64 {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return -1
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Size
		}
	}
	return -1
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: logcat --dir=<path> [--from=<block>] [--follow] [--hex]")
	flag.PrintDefaults()
}

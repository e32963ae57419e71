// Package dirman implements the directory-level operations the logger and
// forwarder share: finding the highest block number present in a
// directory, and deleting blocks that have fallen below a retention
// threshold. Neither operation holds any lock; both tolerate legacy or
// unrelated files sitting alongside block files.
package dirman

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jtwittner/blocklog/vfs"
)

// BlockFilePrefix is the filename prefix every block file carries; the
// suffix after the first "." is the decimal block number.
const BlockFilePrefix = "block."

// LatestBlockNumber scans dir and returns the highest block number present,
// or zero if no block files exist. Entries that don't match the
// "block.<decimal>" pattern are skipped silently.
func LatestBlockNumber(fs vfs.FS, dir string) (uint64, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("dirman: read dir %q: %w", dir, err)
	}

	var latest uint64
	for _, e := range entries {
		n, ok := parseBlockNum(e.Name)
		if !ok {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}

// DeleteBlocksBelow removes every block file in dir whose number is
// strictly less than to. Deletion is not atomic across files: an I/O error
// partway through aborts the scan but files already removed stay removed.
// Calling DeleteBlocksBelow twice with the same threshold is idempotent.
func DeleteBlocksBelow(fs vfs.FS, dir string, to uint64) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("dirman: read dir %q: %w", dir, err)
	}

	for _, e := range entries {
		n, ok := parseBlockNum(e.Name)
		if !ok || n >= to {
			continue
		}
		name := filepath.Join(dir, e.Name)
		if err := fs.Remove(name); err != nil {
			return fmt.Errorf("dirman: remove %q: %w", name, err)
		}
	}
	return nil
}

// ParseBlockNum extracts the block number from a filename, returning
// ok=false for anything not matching "block.<unsigned decimal>". Exposed
// so the forwarder's directory-tailing loop can reuse the same tolerant
// parser dirman itself uses.
func ParseBlockNum(name string) (uint64, bool) {
	return parseBlockNum(name)
}

// parseBlockNum is the unexported implementation shared by
// LatestBlockNumber, DeleteBlocksBelow, and ParseBlockNum.
func parseBlockNum(name string) (uint64, bool) {
	suffix, ok := strings.CutPrefix(name, BlockFilePrefix)
	if !ok || suffix == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// BlockFileName returns the filename for block number n within a
// directory, e.g. "block.7".
func BlockFileName(n uint64) string {
	return BlockFilePrefix + strconv.FormatUint(n, 10)
}

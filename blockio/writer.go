// Package blockio implements the single-writer EntryWriter and the
// EntryReader that the forwarder tails. Both operate against a vfs.FS so
// they can be exercised in tests without touching the real filesystem.
package blockio

import (
	"bufio"
	"fmt"
	"path/filepath"

	"github.com/jtwittner/blocklog/blockfmt"
	"github.com/jtwittner/blocklog/dirman"
	"github.com/jtwittner/blocklog/vfs"
)

// EntryWriter appends entries to the current block file, rotating to a new
// block when an append would exceed the configured MaxBlockLen. It has
// exclusive ownership of the block file it is currently writing; nothing
// else in the system writes to block files.
type EntryWriter struct {
	fs  vfs.FS
	dir string
	cfg Config

	file   vfs.WritableFile
	buf    *bufio.Writer
	info   blockfmt.BlockInfo
	closed bool
}

// Open scans dir for existing block.* files, starts a new block numbered
// one past the highest found (or 1 if the directory is empty), and
// prepares the writer to append to it. dir must already exist.
func Open(fs vfs.FS, dir string, cfg Config) (*EntryWriter, error) {
	if !fs.IsDir(dir) {
		return nil, ErrNoDir
	}

	latest, err := dirman.LatestBlockNumber(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("blockio: scan %q: %w", dir, err)
	}

	w := &EntryWriter{fs: fs, dir: dir, cfg: cfg}
	if err := w.openBlock(blockfmt.BlockNum(latest + 1)); err != nil {
		return nil, err
	}
	return w, nil
}

// Info returns the writer's current cursor: the block it is appending to
// and the offset one past the last byte written.
func (w *EntryWriter) Info() blockfmt.BlockInfo {
	return w.info
}

// Append writes payload as a new entry frame, rotating to a fresh block
// first if the frame would push the current block past MaxBlockLen.
func (w *EntryWriter) Append(payload []byte) error {
	if w.closed {
		return ErrClosed
	}
	if len(payload) > w.cfg.MaxEntryLen {
		return ErrEntrySize
	}

	frameSize := uint64(blockfmt.FrameSize(len(payload)))
	if w.info.Offset+frameSize > w.cfg.MaxBlockLen {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	frame := blockfmt.EncodeFrame(payload)
	if _, err := w.buf.Write(frame); err != nil {
		return fmt.Errorf("blockio: append: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("blockio: append flush: %w", err)
	}
	w.info.Offset += uint64(len(frame))
	return nil
}

// Sync flushes the write buffer and requests the OS durably persist the
// file's data. A data-only sync is sufficient; metadata sync is not
// required.
func (w *EntryWriter) Sync() error {
	if w.closed {
		return ErrClosed
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("blockio: sync flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("blockio: sync: %w", err)
	}
	return nil
}

// Close flushes and syncs the current block file, then releases its
// handle. The writer must not be used afterward.
func (w *EntryWriter) Close() error {
	if w.closed {
		return nil
	}
	syncErr := w.Sync()
	w.closed = true
	if err := w.file.Close(); err != nil {
		if syncErr != nil {
			return syncErr
		}
		return fmt.Errorf("blockio: close: %w", err)
	}
	return syncErr
}

// rotate closes out the current block (flush+sync) and opens block
// number+1, resetting the offset to just past its header.
func (w *EntryWriter) rotate() error {
	if err := w.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("blockio: rotate close: %w", err)
	}
	return w.openBlock(w.info.Number + 1)
}

// openBlock exclusive-creates block.<num>, writes its header, and resets
// the writer's cursor to (num, blockfmt.HeaderSize).
func (w *EntryWriter) openBlock(num blockfmt.BlockNum) error {
	name := filepath.Join(w.dir, dirman.BlockFileName(uint64(num)))
	f, err := w.fs.CreateExclusive(name)
	if err != nil {
		return fmt.Errorf("blockio: create %q: %w", name, err)
	}

	header := blockfmt.EncodeHeader()
	if _, err := f.Write(header[:]); err != nil {
		return fmt.Errorf("blockio: write header %q: %w", name, err)
	}

	w.file = f
	w.buf = bufio.NewWriterSize(f, w.cfg.MaxBufferLen)
	w.info = blockfmt.BlockInfo{Number: num, Offset: blockfmt.HeaderSize}
	return nil
}

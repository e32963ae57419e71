package blockio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/jtwittner/blocklog/blockfmt"
	"github.com/jtwittner/blocklog/dirman"
	"github.com/jtwittner/blocklog/vfs"
)

// EntryReader reads entry frames sequentially from one block file,
// starting from an arbitrary valid frame boundary. It is the type the
// forwarder tails: NextEntry returning blockfmt.ErrEndOfBlock means
// "nothing more written yet," not corruption.
type EntryReader struct {
	fs   vfs.FS
	dir  string
	r    io.ReadCloser
	info blockfmt.BlockInfo
	err  error
}

// OpenReader opens block.<info.Number>, validates its header, and
// positions the reader at info.Offset (or just past the header if
// info.Offset is zero).
func OpenReader(fs vfs.FS, dir string, info blockfmt.BlockInfo) (*EntryReader, error) {
	name := filepath.Join(dir, dirman.BlockFileName(uint64(info.Number)))
	f, err := fs.OpenRead(name)
	if err != nil {
		return nil, fmt.Errorf("blockio: open %q: %w", name, err)
	}

	var headerBuf [blockfmt.HeaderSize]byte
	if _, err := io.ReadFull(f, headerBuf[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockio: read header %q: %w", name, err)
	}
	version, ok := blockfmt.DecodeHeader(headerBuf)
	if !ok || version != blockfmt.Version {
		f.Close()
		return nil, fmt.Errorf("blockio: %q: %w (version=%d ok=%v)", name, ErrHeader, version, ok)
	}

	offset := info.Offset
	if offset == 0 {
		offset = blockfmt.HeaderSize
	}
	if offset > blockfmt.HeaderSize {
		if err := skip(f, offset-blockfmt.HeaderSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockio: seek %q to offset %d: %w", name, offset, err)
		}
	}

	return &EntryReader{
		fs:   fs,
		dir:  dir,
		r:    f,
		info: blockfmt.BlockInfo{Number: info.Number, Offset: offset},
	}, nil
}

// skip discards n bytes from r by reading and discarding, since
// io.ReadCloser (backed by vfs.FS.OpenRead) is not guaranteed to support
// io.Seeker (an in-memory test double has no seekable handle).
func skip(r io.Reader, n uint64) error {
	_, err := io.CopyN(io.Discard, r, int64(n))
	return err
}

// Info returns the reader's current cursor.
func (r *EntryReader) Info() blockfmt.BlockInfo {
	return r.info
}

// NextEntry reads the next entry frame. It returns blockfmt.ErrEndOfBlock
// when the underlying file has no more bytes written (the tailing
// sentinel); any other error halts this reader permanently — a CRC
// mismatch (blockfmt.ErrCRC) in particular is not skipped or recovered.
func (r *EntryReader) NextEntry() (payload []byte, crc uint32, err error) {
	if r.err != nil {
		return nil, 0, r.err
	}
	payload, crc, err = blockfmt.DecodeFrame(r.r)
	if err != nil {
		if errors.Is(err, blockfmt.ErrEndOfBlock) {
			return nil, 0, err
		}
		r.err = err
		if errors.Is(err, blockfmt.ErrCRC) {
			r.info.Offset += uint64(blockfmt.FrameSize(len(payload)))
			return payload, crc, err
		}
		return nil, 0, err
	}
	r.info.Offset += uint64(blockfmt.FrameSize(len(payload)))
	return payload, crc, nil
}

// Reset re-seeks within the same block file to continue reading from a new
// offset. It is an error to request a different block number: opening a
// different block requires a fresh EntryReader.
func (r *EntryReader) Reset(info blockfmt.BlockInfo) error {
	if info.Number != r.info.Number {
		return fmt.Errorf("blockio: Reset block number mismatch: reader has %d, got %d", r.info.Number, info.Number)
	}
	if info.Offset < r.info.Offset {
		return fmt.Errorf("blockio: Reset cannot seek backward (have %d, want %d)", r.info.Offset, info.Offset)
	}
	if info.Offset > r.info.Offset {
		if err := skip(r.r, info.Offset-r.info.Offset); err != nil {
			return fmt.Errorf("blockio: Reset seek: %w", err)
		}
	}
	r.info.Offset = info.Offset
	return nil
}

// Close releases the underlying file handle.
func (r *EntryReader) Close() error {
	return r.r.Close()
}

package blockfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jtwittner/blocklog/internal/checksum"
)

// FrameHeaderSize is the size of a frame's length prefix.
const FrameHeaderSize = 2

// FrameTrailerSize is the size of a frame's CRC trailer.
const FrameTrailerSize = 4

// FrameOverhead is the number of bytes a frame adds beyond the payload.
const FrameOverhead = FrameHeaderSize + FrameTrailerSize

// MaxPayloadLen is the hard ceiling on a single frame's payload length: the
// length prefix is a uint16, so no payload can exceed 65535 bytes
// regardless of configuration.
const MaxPayloadLen = 1<<16 - 1

// ErrEndOfBlock is returned by DecodeFrame when the underlying reader hits
// a clean EOF before any byte of the length prefix is read. This is the
// tailing sentinel: it means "no more entries written yet," not corruption.
var ErrEndOfBlock = errors.New("blockfmt: end of block")

// ErrCRC is returned by DecodeFrame when the trailing CRC does not match
// the CRC-32C of the payload bytes actually read.
var ErrCRC = errors.New("blockfmt: crc mismatch")

// EncodeFrame returns the on-disk bytes for one entry frame: a big-endian
// uint16 length, the payload verbatim, then the big-endian CRC-32C of the
// payload. Callers are responsible for ensuring len(payload) <=
// MaxPayloadLen before calling.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, FrameHeaderSize+len(payload)+FrameTrailerSize)
	binary.BigEndian.PutUint16(out[:2], uint16(len(payload)))
	copy(out[2:], payload)
	crc := checksum.Value(payload)
	binary.BigEndian.PutUint32(out[2+len(payload):], crc)
	return out
}

// DecodeFrame reads one entry frame from r.
//
// If r returns a clean EOF (zero bytes read, io.EOF) before any byte of the
// length prefix is consumed, DecodeFrame returns ErrEndOfBlock: this is the
// tailing sentinel meaning "nothing more has been written yet." Any other
// short read mid-frame (including a partial length prefix) is reported as
// an I/O error and is not recoverable within this frame.
//
// A mismatched trailing CRC yields ErrCRC after the full frame has been
// consumed from r (so the caller's byte-offset bookkeeping stays correct
// even on a checksum failure).
func DecodeFrame(r io.Reader) (payload []byte, crc uint32, err error) {
	var lenBuf [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, ErrEndOfBlock
		}
		return nil, 0, fmt.Errorf("blockfmt: read frame length: %w", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, fmt.Errorf("blockfmt: read frame payload: %w", err)
	}

	var crcBuf [FrameTrailerSize]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("blockfmt: read frame crc: %w", err)
	}
	crc = binary.BigEndian.Uint32(crcBuf[:])

	if want := checksum.Value(payload); crc != want {
		return payload, crc, ErrCRC
	}
	return payload, crc, nil
}

// FrameSize returns the total on-disk size of a frame carrying a payload
// of the given length.
func FrameSize(payloadLen int) int {
	return FrameOverhead + payloadLen
}

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// maxMessageLen bounds a single framed message, guarding against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxMessageLen = 16 << 20 // 16 MiB

// FrameWriter writes length-delimited CBOR messages: each call to
// WriteMessage encodes v and writes it as one framed unit, a 4-byte
// big-endian length prefix followed by the CBOR bytes.
type FrameWriter struct {
	w    io.Writer
	mode cbor.EncMode
}

// NewFrameWriter wraps w for writing framed CBOR messages.
func NewFrameWriter(w io.Writer) (*FrameWriter, error) {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("wire: build encode mode: %w", err)
	}
	return &FrameWriter{w: w, mode: mode}, nil
}

// WriteMessage encodes v as CBOR and writes it as one length-prefixed
// frame.
func (fw *FrameWriter) WriteMessage(v any) error {
	payload, err := fw.mode.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	if len(payload) > maxMessageLen {
		return fmt.Errorf("wire: encoded message too large (%d bytes)", len(payload))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := fw.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := fw.w.Write(payload); err != nil {
		return fmt.Errorf("wire: write message: %w", err)
	}
	return nil
}

// FrameReader reads length-delimited CBOR messages written by FrameWriter.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader wraps r for reading framed CBOR messages.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadMessage reads one framed message and decodes it into v, which must
// be a pointer. A clean EOF before any byte of the length prefix is
// returned as io.EOF, the "connection closed cleanly" signal the
// forwarder's ack task treats as "connection lost — reconnect."
func (fr *FrameReader) ReadMessage(v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("wire: read length prefix: %w", err)
		}
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxMessageLen {
		return fmt.Errorf("wire: message length %d exceeds maximum %d", length, maxMessageLen)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return fmt.Errorf("wire: read message: %w", err)
	}

	if err := cbor.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}

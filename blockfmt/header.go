// Package blockfmt defines the on-disk layout of a block file: the 8-byte
// header every block starts with, and the length-prefixed, CRC-protected
// entry frames packed after it.
//
// File Format:
//
//	+------------------+------------------+------------------+-----+
//	| header (8 bytes) | entry frame      | entry frame       | ... |
//	+------------------+------------------+------------------+-----+
//
// Header: magic "block" (5 bytes) + version (1 byte) + reserved (2 zero
// bytes), packed as a big-endian uint64.
//
// Entry frame:
//
//	+---------+------------------+---------+
//	| len:u16 | payload (len B)  | crc:u32 |
//	+---------+------------------+---------+
//
// All multi-byte integers are big-endian. crc is CRC-32C (Castagnoli) over
// the payload bytes only; see internal/checksum.
//
// This package is pure and stateless: it only encodes and decodes bytes, it
// never touches the filesystem.
package blockfmt

import "encoding/binary"

// Version is the current block header major version.
const Version uint8 = 1

// magic is the 5-byte ASCII prefix "block" every header starts with.
var magic = [5]byte{'b', 'l', 'o', 'c', 'k'}

// HeaderSize is the size in bytes of an encoded block header.
const HeaderSize = 8

// EncodeHeader returns the 8-byte header for the current version.
func EncodeHeader() [HeaderSize]byte {
	return EncodeHeaderVersion(Version)
}

// EncodeHeaderVersion returns the 8-byte header for an explicit version.
// Exposed mainly for header round-trip testing across all possible
// versions; production code should use EncodeHeader.
func EncodeHeaderVersion(version uint8) [HeaderSize]byte {
	var h uint64
	h |= uint64(magic[0]) << 56
	h |= uint64(magic[1]) << 48
	h |= uint64(magic[2]) << 40
	h |= uint64(magic[3]) << 32
	h |= uint64(magic[4]) << 24
	h |= uint64(version) << 16
	// bits 0-15 reserved, left zero

	var out [HeaderSize]byte
	binary.BigEndian.PutUint64(out[:], h)
	return out
}

// DecodeHeader decodes an 8-byte header. ok is false if the magic bytes
// don't match "block"; otherwise version is the extracted major version
// (callers must separately check it against a supported value).
func DecodeHeader(b [HeaderSize]byte) (version uint8, ok bool) {
	h := binary.BigEndian.Uint64(b[:])
	for i, m := range magic {
		shift := uint(56 - 8*i)
		if byte(h>>shift) != m {
			return 0, false
		}
	}
	return uint8(h >> 16), true
}

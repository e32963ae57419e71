// Package checksum provides the CRC-32C (Castagnoli, iSCSI polynomial)
// checksum used to protect entry frame payloads on disk and on the wire.
//
// Unlike RocksDB's crc32c, the value stored alongside a frame is the raw,
// unmasked CRC-32C: block files are read and written by a single process
// pair (logger and forwarder) rather than embedded inside a larger
// checksummed region, so there is no need to mask against accidental
// self-reference.
package checksum

import "hash/crc32"

// table is the Castagnoli polynomial table used for CRC-32C.
var table = crc32.MakeTable(crc32.Castagnoli)

// Value computes the CRC-32C checksum of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Extend computes the CRC-32C of concat(A, data) where initCRC is the
// CRC-32C of A.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, table, data)
}

// maskDelta is the constant RocksDB adds when masking a CRC. The masking
// helpers below are not used by the frame codec, which stores raw values.
const maskDelta = 0xa282ead8

// Mask rotates crc right by 15 bits and adds maskDelta.
func Mask(crc uint32) uint32 {
	return (crc>>15 | crc<<17) + maskDelta
}

// Unmask reverses Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return rot>>17 | rot<<15
}

// MaskedValue returns Mask(Value(data)).
func MaskedValue(data []byte) uint32 {
	return Mask(Value(data))
}

// Package wire defines the CBOR message schema exchanged between the
// forwarder and a remote collector, plus the length-prefixed framing layer
// that delimits one message from the next on the wire.
//
// Every message type uses integer field keys (`cbor:"N,keyasint"`) rather
// than string keys, matching the original bogger crate's minicbor schema:
// this keeps messages compact and lets a receiver tolerate unknown keys
// for forward compatibility, since CBOR map decoding simply skips keys the
// receiving struct doesn't declare.
package wire

import "github.com/jtwittner/blocklog/blockfmt"

// Handshake is the client's first message: its self-reported identity and
// the highest block number it has observed locally.
type Handshake struct {
	ID     string            `cbor:"0,keyasint"`
	Latest blockfmt.BlockNum `cbor:"1,keyasint"`
}

// BlockInfo mirrors blockfmt.BlockInfo for the wire: a block number plus a
// byte offset within it.
type BlockInfo struct {
	Number uint64 `cbor:"0,keyasint"`
	Offset uint64 `cbor:"1,keyasint"`
}

// FromBlockInfo converts a blockfmt.BlockInfo to its wire representation.
func FromBlockInfo(info blockfmt.BlockInfo) BlockInfo {
	return BlockInfo{Number: uint64(info.Number), Offset: info.Offset}
}

// ToBlockInfo converts a wire BlockInfo back to blockfmt.BlockInfo.
func (b BlockInfo) ToBlockInfo() blockfmt.BlockInfo {
	return blockfmt.BlockInfo{Number: blockfmt.BlockNum(b.Number), Offset: b.Offset}
}

// HandshakeResponseTag discriminates the two possible shapes of a
// HandshakeResponse.
type HandshakeResponseTag uint8

const (
	// TagGo means the server accepted the handshake; Start tells the
	// client where to begin streaming from.
	TagGo HandshakeResponseTag = 0
	// TagAbort means the server rejected the handshake; Message explains
	// why, and the client must treat this as fatal.
	TagAbort HandshakeResponseTag = 1
)

// HandshakeResponse is the server's reply to a Handshake. Exactly one of
// Start (when Tag == TagGo) or Message (when Tag == TagAbort) is
// meaningful; the other is the zero value.
type HandshakeResponse struct {
	Tag     HandshakeResponseTag `cbor:"0,keyasint"`
	Start   BlockInfo            `cbor:"1,keyasint"`
	Message string               `cbor:"2,keyasint"`
}

// Go builds an accepting HandshakeResponse.
func Go(start blockfmt.BlockInfo) HandshakeResponse {
	return HandshakeResponse{Tag: TagGo, Start: FromBlockInfo(start)}
}

// Abort builds a rejecting HandshakeResponse.
func Abort(message string) HandshakeResponse {
	return HandshakeResponse{Tag: TagAbort, Message: message}
}

// Record carries one entry's payload to the server, tagged with the
// post-frame BlockInfo the receiver should resume from if it acks this
// record.
type Record struct {
	Info BlockInfo `cbor:"0,keyasint"`
	Item []byte    `cbor:"1,keyasint"`
	CRC  uint32    `cbor:"2,keyasint"`
}

// Ack is the server's confirmation that every record up to Info has been
// durably received; it authorizes the client to delete all block files
// strictly below Info.Number.
type Ack struct {
	Info BlockInfo `cbor:"0,keyasint"`
}

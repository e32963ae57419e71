package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jtwittner/blocklog/blockfmt"
	"github.com/jtwittner/blocklog/internal/logging"
	"github.com/jtwittner/blocklog/wire"
)

// connect dials addr with the backoff schedule, performs the handshake,
// and returns the open connection plus the BlockInfo the server told us to
// start streaming from.
//
// A failed dial moves one step along the backoff schedule before the next
// attempt. A failed handshake send, a decode error, a clean EOF or an
// unrecognized tag while awaiting the HandshakeResponse instead resets the
// schedule to its first delay. An Abort response is returned at once.
func (f *Forwarder) connect(ctx context.Context) (net.Conn, *wire.FrameReader, *wire.FrameWriter, blockfmt.BlockInfo, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, blockfmt.BlockInfo{}, err
		}

		conn, err := f.dial(ctx, f.addr)
		if err != nil {
			f.log.Warnf("%sconnect to %s failed: %v", logging.NSForwarder, f.addr, err)
			if !sleepCtx(ctx, backoffDelay(attempt)) {
				return nil, nil, nil, blockfmt.BlockInfo{}, ctx.Err()
			}
			attempt++
			continue
		}

		start, fr, fw, err := f.handshake(conn)
		if err == nil {
			return conn, fr, fw, start, nil
		}
		conn.Close()

		if errors.Is(err, ErrAbort) {
			return nil, nil, nil, blockfmt.BlockInfo{}, err
		}
		f.log.Warnf("%shandshake failed: %v", logging.NSForwarder, err)
		attempt = 0
		if !sleepCtx(ctx, backoffDelay(attempt)) {
			return nil, nil, nil, blockfmt.BlockInfo{}, ctx.Err()
		}
	}
}

// handshake sends Handshake{id, latest} over conn and interprets the
// response.
func (f *Forwarder) handshake(conn net.Conn) (blockfmt.BlockInfo, *wire.FrameReader, *wire.FrameWriter, error) {
	fw, err := wire.NewFrameWriter(conn)
	if err != nil {
		return blockfmt.BlockInfo{}, nil, nil, fmt.Errorf("forwarder: build frame writer: %w", err)
	}
	fr := wire.NewFrameReader(conn)

	msg := wire.Handshake{ID: f.id, Latest: f.latest}
	if err := fw.WriteMessage(msg); err != nil {
		return blockfmt.BlockInfo{}, nil, nil, fmt.Errorf("forwarder: send handshake: %w", err)
	}

	var resp wire.HandshakeResponse
	if err := fr.ReadMessage(&resp); err != nil {
		return blockfmt.BlockInfo{}, nil, nil, fmt.Errorf("forwarder: read handshake response: %w", err)
	}

	switch resp.Tag {
	case wire.TagGo:
		return resp.Start.ToBlockInfo(), fr, fw, nil
	case wire.TagAbort:
		return blockfmt.BlockInfo{}, nil, nil, fmt.Errorf("%w: %s", ErrAbort, resp.Message)
	default:
		return blockfmt.BlockInfo{}, nil, nil, fmt.Errorf("forwarder: unrecognized handshake response tag %d", resp.Tag)
	}
}

// sleepCtx sleeps for d or until ctx is canceled, whichever comes first.
// It reports whether the sleep completed normally (false means ctx was
// canceled).
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

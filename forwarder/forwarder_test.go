package forwarder

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jtwittner/blocklog/blockfmt"
	"github.com/jtwittner/blocklog/blockio"
	"github.com/jtwittner/blocklog/dirman"
	"github.com/jtwittner/blocklog/internal/logging"
	"github.com/jtwittner/blocklog/vfs"
	"github.com/jtwittner/blocklog/wire"
)

// testServer is a throwaway in-process TCP collector used to exercise
// handshake/record/ack end-to-end, analogous to the original bogger
// crate's tests/server.rs.
type testServer struct {
	ln        net.Listener
	records   chan wire.Record
	handshake chan wire.Handshake
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return &testServer{ln: ln, records: make(chan wire.Record, 256), handshake: make(chan wire.Handshake, 1)}
}

func (s *testServer) addr() string { return s.ln.Addr().String() }

// serveGo accepts one connection, responds Go{start}, and forwards every
// received Record onto s.records. After each record it sends an Ack
// advancing to the record's block number so retention can proceed.
func (s *testServer) serveGo(t *testing.T, start blockfmt.BlockInfo) {
	t.Helper()
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	fr := wire.NewFrameReader(conn)
	fw, err := wire.NewFrameWriter(conn)
	if err != nil {
		t.Errorf("server NewFrameWriter: %v", err)
		return
	}

	var hs wire.Handshake
	if err := fr.ReadMessage(&hs); err != nil {
		t.Errorf("server read handshake: %v", err)
		return
	}
	s.handshake <- hs

	if err := fw.WriteMessage(wire.Go(start)); err != nil {
		t.Errorf("server write handshake response: %v", err)
		return
	}

	for {
		var rec wire.Record
		if err := fr.ReadMessage(&rec); err != nil {
			return
		}
		s.records <- rec
		_ = fw.WriteMessage(wire.Ack{Info: rec.Info})
	}
}

// serveAbort accepts one connection and immediately rejects the
// handshake.
func (s *testServer) serveAbort(t *testing.T, message string) {
	t.Helper()
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	fr := wire.NewFrameReader(conn)
	fw, err := wire.NewFrameWriter(conn)
	if err != nil {
		return
	}
	var hs wire.Handshake
	if err := fr.ReadMessage(&hs); err != nil {
		return
	}
	_ = fw.WriteMessage(wire.Abort(message))
}

func writeBlocks(t *testing.T, fs vfs.FS, dir string, payloads ...string) {
	t.Helper()
	w, err := blockio.Open(fs, dir, blockio.NewConfig())
	if err != nil {
		t.Fatalf("blockio.Open: %v", err)
	}
	for _, p := range payloads {
		if err := w.Append([]byte(p)); err != nil {
			t.Fatalf("Append(%q): %v", p, err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestForwarder_HandshakeAbort: a fatal Abort response makes Run return
// ErrAbort.
func TestForwarder_HandshakeAbort(t *testing.T) {
	fs := vfs.NewMemFS()

	srv := newTestServer(t)
	defer srv.ln.Close()
	go srv.serveAbort(t, "unknown client")

	f, err := New("client-1", "/data", srv.addr(), WithFS(fs), WithLogger(logging.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = f.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return an error")
	}
	if !errors.Is(err, ErrAbort) {
		t.Fatalf("got %v, want an ErrAbort-wrapping error", err)
	}
}

// TestScenarioS3: the forwarder streams entries starting from the
// server-provided BlockInfo and the server observes them in order.
func TestScenarioS3(t *testing.T) {
	fs := vfs.NewMemFS()
	writeBlocks(t, fs, "/data", "one", "two", "three")

	srv := newTestServer(t)
	defer srv.ln.Close()
	go srv.serveGo(t, blockfmt.BlockInfo{Number: 1, Offset: blockfmt.HeaderSize})

	f, err := New("client-1", "/data", srv.addr(), WithFS(fs), WithLogger(logging.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go f.Run(ctx)

	want := []string{"one", "two", "three"}
	for _, w := range want {
		select {
		case rec := <-srv.records:
			if string(rec.Item) != w {
				t.Fatalf("got %q, want %q", rec.Item, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for record %q", w)
		}
	}
}

// TestScenarioS4: DeleteBlocksBelow(4), the call the ack task makes for an
// Ack at block 4, removes block.1 through block.3.
func TestScenarioS4(t *testing.T) {
	fs := vfs.NewMemFS()
	for n := 1; n <= 3; n++ {
		writeBlocks(t, fs, "/data", "x")
	}
	// writeBlocks always opens a fresh writer scanning for latest+1, so
	// three calls produce block.1, block.2, block.3 in sequence.

	if err := dirman.DeleteBlocksBelow(fs, "/data", 4); err != nil {
		t.Fatalf("delete below 4: %v", err)
	}

	entries, err := fs.ReadDir("/data")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d remaining files, want 0", len(entries))
	}
}

// TestScenarioS5: block.7's second frame has a corrupted CRC. The
// forwarder streams the first (good) frame, exhausts its open-retry
// budget on the corrupted one, and skips ahead to block.8.
func TestScenarioS5(t *testing.T) {
	fs := vfs.NewMemFS()
	writeCorruptBlock(t, fs, "/data/block.7", "good", "bad")
	writeBlocks(t, fs, "/data", "from-block-8") // dirman sees latest=7, so this lands as block.8

	srv := newTestServer(t)
	defer srv.ln.Close()
	go srv.serveGo(t, blockfmt.BlockInfo{Number: 7, Offset: blockfmt.HeaderSize})

	f, err := New("client-1", "/data", srv.addr(), WithFS(fs), WithLogger(logging.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	go f.Run(ctx)

	// streamBlock retries the corrupt block from the same starting cursor
	// every attempt, so the good frame preceding it is legitimately resent
	// (at-least-once delivery) up to openRetryBudget times before the
	// forwarder gives up and skips to block.8.
	goodSeen := 0
	for {
		select {
		case rec := <-srv.records:
			switch string(rec.Item) {
			case "good":
				goodSeen++
				if goodSeen > openRetryBudget+1 {
					t.Fatalf("saw %q sent %d times, want at most %d", "good", goodSeen, openRetryBudget+1)
				}
			case "from-block-8":
				return
			default:
				t.Fatalf("unexpected record %q", rec.Item)
			}
		case <-time.After(6 * time.Second):
			t.Fatal("timed out waiting for the forwarder to skip past the corrupt block")
		}
	}
}

// writeCorruptBlock hand-assembles a block file with a valid header, a
// well-formed first frame, and a second frame whose trailing CRC byte has
// been flipped so EntryReader.NextEntry reports blockfmt.ErrCRC on it.
func writeCorruptBlock(t *testing.T, fs vfs.FS, name string, good, bad string) {
	t.Helper()
	f, err := fs.CreateExclusive(name)
	if err != nil {
		t.Fatalf("CreateExclusive(%q): %v", name, err)
	}
	header := blockfmt.EncodeHeader()
	if _, err := f.Write(header[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := f.Write(blockfmt.EncodeFrame([]byte(good))); err != nil {
		t.Fatalf("write good frame: %v", err)
	}
	badFrame := blockfmt.EncodeFrame([]byte(bad))
	badFrame[len(badFrame)-1] ^= 0xFF
	if _, err := f.Write(badFrame); err != nil {
		t.Fatalf("write bad frame: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}


// Package forwarder implements the TCP connect loop, handshake, tailing
// reader, record streaming, ack handling, and retention pruning that ships
// locally-logged blocks to a remote collector.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jtwittner/blocklog/blockfmt"
	"github.com/jtwittner/blocklog/dirman"
	"github.com/jtwittner/blocklog/internal/logging"
	"github.com/jtwittner/blocklog/vfs"
	"github.com/jtwittner/blocklog/wire"
	"golang.org/x/sync/errgroup"
)

// ErrAbort wraps a fatal handshake Abort from the remote collector: Run
// returns an error wrapping this for the caller (typically cmd/forwarder)
// to treat as fatal process termination.
var ErrAbort = errors.New("forwarder: handshake aborted by remote")

// openRetryBudget is how many times the forward task retries opening (or
// re-reading) a block after its first failed attempt before giving up on
// it and skipping to the next block number. This resolves spec's Open Question #1 in favor of the
// "cleaner" policy: three retries, spaced one second apart, rather than
// preserving the source's accidental 5s-then-1s-then-1s-then-1s sequence.
const openRetryBudget = 3

const openRetryDelay = 1 * time.Second

// backoffSchedule is the connect-retry delay table: five 1-second
// delays, then five 5-second delays, then 10 seconds forever.
var backoffSchedule = []time.Duration{
	1 * time.Second, 1 * time.Second, 1 * time.Second, 1 * time.Second, 1 * time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
}

const steadyStateBackoff = 10 * time.Second

func backoffDelay(attempt int) time.Duration {
	if attempt < len(backoffSchedule) {
		return backoffSchedule[attempt]
	}
	return steadyStateBackoff
}

// DialFunc dials the remote address. It exists so tests can substitute an
// in-process listener instead of a real network connection.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

func defaultDial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Forwarder streams the blocks in a directory to a remote collector and
// deletes blocks once the remote has acknowledged them.
type Forwarder struct {
	id   string
	dir  string
	addr string

	fs     vfs.FS
	dial   DialFunc
	log    logging.Logger
	latest blockfmt.BlockNum
}

// Option configures a Forwarder at construction time.
type Option func(*Forwarder)

// WithFS overrides the filesystem abstraction (default vfs.Default()).
func WithFS(fs vfs.FS) Option {
	return func(f *Forwarder) { f.fs = fs }
}

// WithDialFunc overrides how the forwarder dials addr (default: real TCP).
func WithDialFunc(dial DialFunc) Option {
	return func(f *Forwarder) { f.dial = dial }
}

// WithLogger overrides the diagnostic logger (default: discard).
func WithLogger(log logging.Logger) Option {
	return func(f *Forwarder) { f.log = log }
}

// New verifies dir exists, records its current latest block number for
// the handshake, and returns a Forwarder ready to Run.
func New(id, dir, addr string, opts ...Option) (*Forwarder, error) {
	f := &Forwarder{
		id:   id,
		dir:  dir,
		addr: addr,
		fs:   vfs.Default(),
		dial: defaultDial,
		log:  logging.Discard,
	}
	for _, opt := range opts {
		opt(f)
	}

	if !f.fs.IsDir(dir) {
		return nil, fmt.Errorf("forwarder: %w: %q", errNoDir, dir)
	}
	latest, err := dirman.LatestBlockNumber(f.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("forwarder: scan %q: %w", dir, err)
	}
	f.latest = blockfmt.BlockNum(latest)
	return f, nil
}

var errNoDir = errors.New("directory does not exist")

// Run executes the forwarder's connect/stream/ack loop forever, until ctx
// is canceled or the remote sends a fatal handshake Abort (wrapped in
// ErrAbort).
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, fr, fw, start, err := f.connect(ctx)
		if err != nil {
			if errors.Is(err, ErrAbort) {
				f.log.Errorf("%shandshake aborted: %v", logging.NSForwarder, err)
				return err
			}
			return err
		}

		f.log.Infof("%sconnected, streaming from %s", logging.NSForwarder, start)
		err = f.runConnection(ctx, fr, fw, start)
		conn.Close()

		if err != nil {
			if errors.Is(err, errAckCleanEOF) {
				f.log.Warnf("%sconnection lost, reconnecting", logging.NSForwarder)
			} else if ctx.Err() == nil {
				f.log.Errorf("%sconnection error: %v", logging.NSForwarder, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// errAckCleanEOF distinguishes "ack task observed a clean remote
// disconnect" from a genuine error, for logging purposes only — both
// cases reconnect identically.
var errAckCleanEOF = errors.New("forwarder: ack stream closed cleanly")

// runConnection spawns the forward and ack tasks over one connection.
// Whichever finishes first cancels the other via connCtx; errgroup joins
// both and reports the first non-nil error.
func (f *Forwarder) runConnection(ctx context.Context, fr *wire.FrameReader, fw *wire.FrameWriter, start blockfmt.BlockInfo) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return f.forwardTask(connCtx, fw, start)
	})
	g.Go(func() error {
		defer cancel()
		return f.ackTask(connCtx, fr)
	})
	return g.Wait()
}

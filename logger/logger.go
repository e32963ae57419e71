// Package logger implements the multi-producer, single-consumer actor that
// sits in front of a blockio.EntryWriter: many producers call Add/Sync/
// Close concurrently, and a single goroutine owns the writer, draining
// commands from a bounded queue and performing a timer-driven idle sync.
package logger

import (
	"errors"
	"fmt"
	"time"

	"github.com/jtwittner/blocklog/blockio"
	"github.com/jtwittner/blocklog/internal/logging"
)

// queueCapacity is the bounded command queue's size. add/sync/close
// suspend (block) when the queue is full — this is the system's only
// backpressure mechanism.
const queueCapacity = 100

// idleSyncInterval is how long the actor waits after the last command
// before syncing the writer on its own, if no further command arrives.
const idleSyncInterval = 3 * time.Second

// ErrClosed is returned by Add/Sync/Close once the logger has started
// shutting down.
var ErrClosed = errors.New("logger: closed")

// Encoder marshals a producer-supplied value into the opaque byte payload
// an entry frame carries. Application-level value encoding is outside this
// package's scope (spec §1 Non-goals); callers supply their own.
type Encoder func(v any) ([]byte, error)

type cmdKind int

const (
	cmdAdd cmdKind = iota
	cmdSync
	cmdClose
)

type command struct {
	kind  cmdKind
	value any
	reply chan error
}

// Logger is the multi-producer, single-consumer actor facade over a
// blockio.EntryWriter. The zero value is not usable; construct with New.
// A *Logger is cheap to share: every producer holds the same pointer.
type Logger struct {
	queue   chan command
	encode  Encoder
	done    chan struct{}
	closeCh chan struct{}
}

// New starts the actor loop over w and returns a handle producers can
// share. encode is used to turn each value passed to Add into the byte
// payload written to the block file.
func New(w *blockio.EntryWriter, encode Encoder, log logging.Logger) *Logger {
	l := &Logger{
		queue:   make(chan command, queueCapacity),
		encode:  encode,
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	go l.run(w, logging.OrDefault(log))
	return l
}

// Add enqueues v for encoding and appending. It blocks if the command
// queue is full (backpressure), and returns ErrClosed if the logger has
// already started closing.
func (l *Logger) Add(v any) error {
	return l.send(command{kind: cmdAdd, value: v})
}

// Sync enqueues a request to flush and durably persist the writer. It
// blocks until the sync has actually run.
func (l *Logger) Sync() error {
	return l.send(command{kind: cmdSync})
}

// Close requests the actor drain its queue, perform a final sync, and
// stop. It is safe to call Close more than once or concurrently with
// other calls. Close calls queued before closing began receive the final
// sync's result once the actor has fully stopped; a Close made after
// closing began returns ErrClosed at once.
func (l *Logger) Close() error {
	return l.send(command{kind: cmdClose})
}

// send enqueues cmd (blocking if the queue is full) and waits for its
// reply, unless the logger has already closed.
func (l *Logger) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case <-l.closeCh:
		return ErrClosed
	default:
	}
	select {
	case l.queue <- cmd:
	case <-l.closeCh:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-l.done:
		return ErrClosed
	}
}

// run is the actor loop: single-threaded with respect to w. It drains all
// immediately available commands, then idles until either the next
// command or a one-shot 3-second timer fires a sync. The timer is not
// re-armed after firing until another command arrives, so an idle log
// never busy-syncs.
func (l *Logger) run(w *blockio.EntryWriter, log logging.Logger) {
	var pendingCloses []chan error
	defer func() {
		final := w.Sync()
		w.Close()
		for _, reply := range pendingCloses {
			reply <- final
		}
		close(l.done)
	}()

	var timer *time.Timer
	armTimer := func() {
		if timer == nil {
			timer = time.NewTimer(idleSyncInterval)
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idleSyncInterval)
	}

	closing := false
	for {
		// Drain phase: consume everything immediately available.
		drained := false
		for !drained {
			select {
			case cmd := <-l.queue:
				closing = l.handle(w, log, cmd, &pendingCloses) || closing
			default:
				drained = true
			}
		}

		if closing && len(l.queue) == 0 {
			return
		}

		armTimer()
		select {
		case cmd := <-l.queue:
			closing = l.handle(w, log, cmd, &pendingCloses) || closing
		case <-timer.C:
			if err := w.Sync(); err != nil {
				log.Warnf("%sidle sync failed: %v", logging.NSLogger, err)
			}
			timer = nil
			// Suspend for the next command without re-arming: block here
			// until a command arrives, rather than looping back through
			// the drain phase (which would immediately re-arm the timer).
			cmd := <-l.queue
			closing = l.handle(w, log, cmd, &pendingCloses) || closing
		}

		if closing && len(l.queue) == 0 {
			return
		}
	}
}

// handle applies one command to w, reporting its result on cmd.reply
// (except for Close, whose reply is deferred until the actor fully
// stops). It returns true once the first Close command has been seen.
func (l *Logger) handle(w *blockio.EntryWriter, log logging.Logger, cmd command, pendingCloses *[]chan error) bool {
	switch cmd.kind {
	case cmdAdd:
		payload, err := l.encode(cmd.value)
		if err != nil {
			log.Warnf("%sencode failed: %v", logging.NSLogger, err)
			cmd.reply <- fmt.Errorf("logger: encode: %w", err)
			return false
		}
		if err := w.Append(payload); err != nil {
			log.Warnf("%sappend failed: %v", logging.NSLogger, err)
			cmd.reply <- err
			return false
		}
		cmd.reply <- nil
		return false
	case cmdSync:
		err := w.Sync()
		if err != nil {
			log.Warnf("%ssync failed: %v", logging.NSLogger, err)
		}
		cmd.reply <- err
		return false
	case cmdClose:
		*pendingCloses = append(*pendingCloses, cmd.reply)
		select {
		case <-l.closeCh:
		default:
			close(l.closeCh)
		}
		return true
	default:
		return false
	}
}

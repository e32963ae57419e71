package blockio

import "errors"

// ErrNoDir is returned by Open when the configured directory does not
// exist or is not a directory.
var ErrNoDir = errors.New("blockio: directory does not exist")

// ErrEntrySize is returned by EntryWriter.Append when the payload exceeds
// the configured MaxEntryLen.
var ErrEntrySize = errors.New("blockio: entry exceeds max entry length")

// ErrHeader is returned by EntryReader.Open when a block's header fails to
// decode (bad magic) or carries an unsupported version.
var ErrHeader = errors.New("blockio: unsupported or invalid block header")

// ErrClosed is returned by EntryWriter methods once the writer has been
// closed.
var ErrClosed = errors.New("blockio: writer is closed")

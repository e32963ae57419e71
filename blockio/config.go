package blockio

import "github.com/jtwittner/blocklog/blockfmt"

// Default configuration values, matching the original bogger crate's
// defaults.
const (
	DefaultMaxBufferLen = 8192
	DefaultMaxBlockLen  = 1 << 20 // 1 MiB
	DefaultMaxEntryLen  = 1024
)

// Config bounds an EntryWriter's resource usage. NewConfig starts from the
// defaults and applies options; a Config written as a literal is used as
// given, zero fields included.
type Config struct {
	// MaxBufferLen is the capacity of the writer's internal write buffer.
	MaxBufferLen int
	// MaxBlockLen is the soft ceiling on a block file's size: an append
	// that would push the block past this length rotates first.
	MaxBlockLen uint64
	// MaxEntryLen is the maximum payload length accepted by Append. It
	// can never exceed blockfmt.MaxPayloadLen (65535), the hard ceiling
	// imposed by the frame's 16-bit length prefix.
	MaxEntryLen int
}

// Option configures a Config, in the style of the teacher's own
// options-struct setters.
type Option func(*Config)

// WithMaxBufferLen overrides the write buffer capacity.
func WithMaxBufferLen(n int) Option {
	return func(c *Config) { c.MaxBufferLen = n }
}

// WithMaxBlockLen overrides the block-rotation size threshold.
func WithMaxBlockLen(n uint64) Option {
	return func(c *Config) { c.MaxBlockLen = n }
}

// WithMaxEntryLen overrides the maximum accepted payload length.
func WithMaxEntryLen(n int) Option {
	return func(c *Config) { c.MaxEntryLen = n }
}

// NewConfig returns the default configuration with opts applied.
func NewConfig(opts ...Option) Config {
	c := Config{
		MaxBufferLen: DefaultMaxBufferLen,
		MaxBlockLen:  DefaultMaxBlockLen,
		MaxEntryLen:  DefaultMaxEntryLen,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.MaxEntryLen > blockfmt.MaxPayloadLen {
		c.MaxEntryLen = blockfmt.MaxPayloadLen
	}
	return c
}

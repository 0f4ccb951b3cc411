package stream

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// DefaultBufferSize is the initial capacity of a [BufferedInputStream].
const DefaultBufferSize = 4096

// options holds configuration for [NewBuffered] and [NewData].
type options struct {
	logger      *logiface.Logger[logiface.Event]
	bufferSize  int
	byteOrder   ByteOrder
	newlineType NewlineType
	keepBase    bool
}

// Option configures a [BufferedInputStream] or [DataInputStream].
type Option interface {
	applyStream(*options) error
}

type optionImpl struct {
	applyStreamFunc func(*options) error
}

func (o *optionImpl) applyStream(opts *options) error {
	return o.applyStreamFunc(opts)
}

// WithLogger sets the logger used for diagnostics, e.g. buffer growth, or
// errors suppressed after partial progress. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithBufferSize sets the initial buffer capacity, which must be positive.
func WithBufferSize(size int) Option {
	return &optionImpl{func(opts *options) error {
		if size < 1 {
			return fmt.Errorf("stream: invalid buffer size: %d", size)
		}
		opts.bufferSize = size
		return nil
	}}
}

// WithCloseBase controls whether closing the stream also closes the stream
// it wraps. It defaults to true.
func WithCloseBase(closeBase bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.keepBase = !closeBase
		return nil
	}}
}

// WithByteOrder sets the initial [DataInputStream] byte order.
func WithByteOrder(order ByteOrder) Option {
	return &optionImpl{func(opts *options) error {
		if !order.valid() {
			return fmt.Errorf("stream: invalid byte order: %d", order)
		}
		opts.byteOrder = order
		return nil
	}}
}

// WithNewlineType sets the initial [DataInputStream] newline type.
func WithNewlineType(newlineType NewlineType) Option {
	return &optionImpl{func(opts *options) error {
		if !newlineType.valid() {
			return fmt.Errorf("stream: invalid newline type: %d", newlineType)
		}
		opts.newlineType = newlineType
		return nil
	}}
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyStream(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

package cancellable

import (
	"github.com/joeycumines/logiface"
)

type options struct {
	logger *logiface.Logger[logiface.Event]
	name   string
}

// Option configures a [Cancellable].
type Option interface {
	applyCancellable(*options)
}

type optionImpl struct {
	applyFunc func(*options)
}

func (o *optionImpl) applyCancellable(opts *options) {
	o.applyFunc(opts)
}

// WithLogger sets the logger used for diagnostics, such as a listener panic,
// or a failure to allocate a wakeup descriptor. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) {
		opts.logger = logger
	}}
}

// WithName sets a name, included in log events.
func WithName(name string) Option {
	return &optionImpl{func(opts *options) {
		opts.name = name
	}}
}

func resolveOptions(opts []Option) *options {
	cfg := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyCancellable(cfg)
	}
	return cfg
}

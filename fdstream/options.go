package fdstream

// options holds configuration for [New].
type options struct {
	keepFD bool
}

// Option configures a stream created by [New].
type Option interface {
	applyFD(*options)
}

type optionImpl struct {
	applyFDFunc func(*options)
}

func (o *optionImpl) applyFD(opts *options) {
	o.applyFDFunc(opts)
}

// WithCloseFD controls whether closing the stream closes the descriptor. It
// defaults to true.
func WithCloseFD(closeFD bool) Option {
	return &optionImpl{func(opts *options) {
		opts.keepFD = !closeFD
	}}
}

func resolveOptions(opts []Option) *options {
	cfg := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyFD(cfg)
		}
	}
	return cfg
}

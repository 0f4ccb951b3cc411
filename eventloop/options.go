package eventloop

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger       *logiface.Logger[logiface.Event]
	panicLogRate map[time.Duration]int
	name         string
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the structured logger used by the loop, e.g. to report
// panicking source callbacks. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithName sets a name for the loop, included in log events.
func WithName(name string) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.name = name
		return nil
	}}
}

// WithPanicLogRate limits how often a panic is logged, per source name. The
// rates are as accepted by catrate.NewLimiter, e.g. 5 per second and 60 per
// minute (the default). A nil map disables the limit.
func WithPanicLogRate(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		for d, n := range rates {
			if d <= 0 || n <= 0 {
				return errors.New("eventloop: invalid panic log rate")
			}
		}
		opts.panicLogRate = rates
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		panicLogRate: map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

package eventloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
)

// newPanicLimiter builds the per-source-name limiter for panic logs.
func newPanicLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventloop: invalid panic log rate: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// logPanic reports a recovered panic from a source callback. Reports are
// rate limited per source name.
func (l *Loop) logPanic(s *Source, r any) {
	if _, ok := l.panicLimiter.Allow(s.name); !ok {
		return
	}
	l.logger.Err().
		Str(`loop`, l.name).
		Str(`source`, s.name).
		Uint64(`source_id`, uint64(s.id)).
		Any(`panic`, r).
		Log(`eventloop: source callback panicked`)
}

func (l *Loop) logDebug(msg string) {
	l.logger.Debug().
		Str(`loop`, l.name).
		Log(msg)
}

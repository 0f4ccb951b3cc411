package eventloop

import (
	"time"
)

// NewIdleSource returns a source that is always ready, and dispatches its
// callback (see [Source.SetCallback]) at [PriorityDefaultIdle] until the
// callback returns [SourceRemove].
func NewIdleSource() *Source {
	s := NewSource(`idle`, dispatchCallback)
	s.SetPriority(PriorityDefaultIdle)
	s.readyTime.Store(ReadyImmediate)
	return s
}

// NewTimeoutSource returns a source that dispatches its callback every
// interval, at [PriorityDefault], until the callback returns [SourceRemove].
func NewTimeoutSource(interval time.Duration) *Source {
	interval = max(interval, 0)
	s := NewSource(`timeout`, func(s *Source) bool {
		if !dispatchCallback(s) {
			return SourceRemove
		}
		s.SetReadyTime(deadline(interval))
		return SourceContinue
	})
	s.readyTime.Store(deadline(interval))
	return s
}

func deadline(d time.Duration) int64 {
	// ready times must be positive, 0 is reserved for "immediate"
	return max(MonotonicTime()+int64(d/time.Microsecond), 1)
}

func dispatchCallback(s *Source) bool {
	cb := s.Callback()
	if cb == nil {
		return SourceRemove
	}
	return cb()
}

// Package wakeup implements a level-triggered readiness primitive backed by
// a single OS handle.
//
// A [Wakeup] becomes readable when signalled, and stays readable until it is
// acknowledged. Its handle ([Wakeup.FD]) may be passed to a readiness
// multiplexer (poll, epoll, kqueue, WaitForMultipleObjects) alongside other
// descriptors, which is how a blocked read is woken when a cancellable fires.
//
// Platform backends:
//   - Linux: eventfd (EFD_CLOEXEC|EFD_NONBLOCK)
//   - Darwin and the BSDs: a non-blocking, close-on-exec self-pipe
//   - Windows: a manual-reset event object
package wakeup

import (
	"errors"
)

// ErrClosed is returned by [Wakeup.Wait] after [Wakeup.Close].
var ErrClosed = errors.New("wakeup: closed")

//go:build windows

package wakeup

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/windows"
)

// FD is the pollable handle type, an event object on this platform.
type FD = windows.Handle

// Wakeup is a signalable, waitable handle. See the package docs.
type Wakeup struct {
	handle windows.Handle
	closed atomic.Bool
}

// New allocates a wakeup in the unsignalled state, backed by a manual-reset
// event.
func New() (*Wakeup, error) {
	h, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, err
	}
	return &Wakeup{handle: h}, nil
}

// FD returns the event handle, for use with WaitForMultipleObjects.
func (x *Wakeup) FD() FD {
	return x.handle
}

// Signal sets the event. It is idempotent, and safe to call from any
// goroutine.
func (x *Wakeup) Signal() {
	_ = windows.SetEvent(x.handle)
}

// Acknowledge resets the event.
func (x *Wakeup) Acknowledge() {
	_ = windows.ResetEvent(x.handle)
}

// Wait blocks until the event is set, or the timeout elapses. A negative
// timeout waits indefinitely.
func (x *Wakeup) Wait(timeout time.Duration) (bool, error) {
	if x.closed.Load() {
		return false, ErrClosed
	}
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	ev, err := windows.WaitForSingleObject(x.handle, ms)
	if err != nil {
		return false, err
	}
	return ev == windows.WAIT_OBJECT_0, nil
}

// Close releases the handle. It is idempotent.
func (x *Wakeup) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}
	return windows.CloseHandle(x.handle)
}

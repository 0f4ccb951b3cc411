//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package wakeup

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// FD is the pollable handle type, a file descriptor on this platform.
type FD = int

// Wakeup is a signalable, pollable handle. See the package docs.
type Wakeup struct {
	readFD  int
	writeFD int
	closed  atomic.Bool
}

// New allocates a wakeup in the unsignalled state. It fails if no descriptor
// can be allocated.
func New() (*Wakeup, error) {
	r, w, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	return &Wakeup{readFD: r, writeFD: w}, nil
}

// FD returns the readable end, for use with poll(2) and friends, with read
// interest (POLLIN).
func (x *Wakeup) FD() FD {
	return x.readFD
}

// Signal makes the handle readable. It is idempotent, and safe to call from
// any goroutine.
func (x *Wakeup) Signal() {
	if x.closed.Load() {
		return
	}
	for {
		_, err := unix.Write(x.writeFD, signalPayload)
		if err != unix.EINTR {
			// EAGAIN means a signal is already pending
			return
		}
	}
}

// Acknowledge drains any pending signal, so the handle is no longer readable.
func (x *Wakeup) Acknowledge() {
	if x.closed.Load() {
		return
	}
	var buf [16]byte
	for {
		n, err := unix.Read(x.readFD, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
	}
}

// Wait blocks until the handle is readable, or the timeout elapses. A
// negative timeout waits indefinitely. It does not acknowledge.
func (x *Wakeup) Wait(timeout time.Duration) (bool, error) {
	if x.closed.Load() {
		return false, ErrClosed
	}
	ms := -1
	if timeout >= 0 {
		// round up, so short timeouts do not spin
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(x.readFD), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// Close releases the descriptors. Further use of the wakeup is a programmer
// error, excepting Close, which is idempotent.
func (x *Wakeup) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(x.readFD)
	if x.writeFD != x.readFD {
		if err2 := unix.Close(x.writeFD); err == nil {
			err = err2
		}
	}
	return err
}

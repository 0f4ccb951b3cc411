//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package cancellable

import (
	"testing"
	"time"

	"github.com/joeycumines/go-cancelio/wakeup"
	"golang.org/x/sys/unix"
)

// testFDReadable polls fd for readability, waiting up to timeout.
func testFDReadable(t *testing.T, fd wakeup.FD, timeout time.Duration) bool {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			t.Fatal("poll failed:", err)
		}
		return n > 0 && fds[0].Revents&unix.POLLIN != 0
	}
}

//go:build windows

package cancellable

import (
	"testing"
	"time"

	"github.com/joeycumines/go-cancelio/wakeup"
	"golang.org/x/sys/windows"
)

// testFDReadable waits up to timeout for the event handle to be set.
func testFDReadable(t *testing.T, fd wakeup.FD, timeout time.Duration) bool {
	t.Helper()
	ev, err := windows.WaitForSingleObject(fd, uint32(timeout/time.Millisecond))
	if err != nil {
		t.Fatal("WaitForSingleObject failed:", err)
	}
	return ev == windows.WAIT_OBJECT_0
}

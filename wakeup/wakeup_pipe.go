//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package wakeup

import (
	"syscall"
)

var signalPayload = []byte{'a'}

// createWakeFd creates a self-pipe, returning the read end and the write end.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}

	cleanup := func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	}

	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])

	if err := syscall.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}

	return fds[0], fds[1], nil
}

//go:build linux

package wakeup

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// eventfd counters are read and written as a host-order uint64
var signalPayload = binary.NativeEndian.AppendUint64(nil, 1)

// createWakeFd creates an eventfd, returned as both the read and write ends.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}

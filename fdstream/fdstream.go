//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package fdstream

import (
	"errors"
	"io"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/ioerr"
	"github.com/joeycumines/go-cancelio/stream"
	"golang.org/x/sys/unix"
)

// New returns a stream reading from fd. The descriptor may be blocking or
// non-blocking. It is seekable if fd supports lseek(2).
func New(fd int, opts ...Option) *stream.Stream {
	cfg := resolveOptions(opts)
	return stream.New(&backend{fd: fd, closeFD: !cfg.keepFD})
}

type backend struct {
	fd      int
	closeFD bool
}

func (b *backend) Read(p []byte, c *cancellable.Cancellable) (int, error) {
	for {
		if err := b.waitReadable(c); err != nil {
			return 0, err
		}
		n, err := unix.Read(b.fd, p)
		switch {
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
			continue
		case err != nil:
			return 0, ioerr.Wrap(err, `Error reading from file descriptor`)
		}
		return n, nil
	}
}

// waitReadable blocks until fd is readable (or hung up), or c is cancelled.
func (b *backend) waitReadable(c *cancellable.Cancellable) error {
	fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
	if cfd, ok := c.MakePollFD(); ok {
		defer c.ReleaseFD()
		fds = append(fds, unix.PollFd{Fd: int32(cfd), Events: unix.POLLIN})
	}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return ioerr.Wrap(err, `Error polling file descriptor`)
		}
		break
	}
	return c.ErrorIfCancelled()
}

func (b *backend) Close(*cancellable.Cancellable) error {
	if !b.closeFD {
		return nil
	}
	return ioerr.Wrap(unix.Close(b.fd), `Error closing file descriptor`)
}

func (b *backend) CanSeek() bool {
	_, err := unix.Seek(b.fd, 0, io.SeekCurrent)
	return err == nil
}

func (b *backend) Tell() int64 {
	pos, err := unix.Seek(b.fd, 0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

func (b *backend) Seek(offset int64, whence int, _ *cancellable.Cancellable) (int64, error) {
	pos, err := unix.Seek(b.fd, offset, whence)
	if err != nil {
		return 0, ioerr.Wrap(err, `Error seeking in file descriptor`)
	}
	return pos, nil
}

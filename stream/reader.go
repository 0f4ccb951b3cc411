package stream

import (
	"errors"
	"io"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/ioerr"
)

// maxConsecutiveEmptyReads bounds how many (0, nil) reads an [io.Reader] may
// return in a row, before [FromReader] gives up.
const maxConsecutiveEmptyReads = 100

// FromReader returns a stream reading from r. If r implements [io.Closer],
// closing the stream closes it, and if it implements [io.Seeker], the stream
// is seekable.
//
// Cancellation is only checked between reads, a blocked r.Read is not
// interrupted.
func FromReader(r io.Reader) *Stream {
	b := &readerBackend{r: r}
	if s, ok := r.(io.Seeker); ok {
		return New(&seekReaderBackend{readerBackend: b, s: s})
	}
	return New(b)
}

type readerBackend struct {
	r io.Reader
	// err is deferred from a read that also returned data
	err error
	eof bool
}

func (b *readerBackend) Read(p []byte, c *cancellable.Cancellable) (int, error) {
	if b.err != nil {
		err := b.err
		b.err = nil
		return 0, ioerr.Wrap(err, `Error reading from stream`)
	}
	if b.eof {
		return 0, nil
	}
	for range maxConsecutiveEmptyReads {
		n, err := b.r.Read(p)
		if errors.Is(err, io.EOF) {
			b.eof = true
			return n, nil
		}
		if err != nil {
			if n > 0 {
				b.err = err
				return n, nil
			}
			return 0, ioerr.Wrap(err, `Error reading from stream`)
		}
		if n > 0 {
			return n, nil
		}
		if err := c.ErrorIfCancelled(); err != nil {
			return 0, err
		}
	}
	return 0, ioerr.Wrap(io.ErrNoProgress, `Error reading from stream`)
}

func (b *readerBackend) Close(*cancellable.Cancellable) error {
	if closer, ok := b.r.(io.Closer); ok {
		return ioerr.Wrap(closer.Close(), `Error closing stream`)
	}
	return nil
}

type seekReaderBackend struct {
	*readerBackend
	s   io.Seeker
	pos int64
}

func (b *seekReaderBackend) Read(p []byte, c *cancellable.Cancellable) (int, error) {
	n, err := b.readerBackend.Read(p, c)
	b.pos += int64(n)
	return n, err
}

func (b *seekReaderBackend) CanSeek() bool { return true }

func (b *seekReaderBackend) Tell() int64 { return b.pos }

func (b *seekReaderBackend) Seek(offset int64, whence int, _ *cancellable.Cancellable) (int64, error) {
	pos, err := b.s.Seek(offset, whence)
	if err != nil {
		return 0, ioerr.Wrap(err, `Error seeking in stream`)
	}
	b.pos = pos
	b.eof = false
	b.err = nil
	return pos, nil
}

// AsReader adapts s to an [io.Reader], reading with c. End of stream is
// reported as [io.EOF].
func AsReader(s InputStream, c *cancellable.Cancellable) io.Reader {
	return &streamReader{s: s, c: c}
}

type streamReader struct {
	s InputStream
	c *cancellable.Cancellable
}

func (r *streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.s.Read(p, r.c)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

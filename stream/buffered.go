package stream

import (
	"io"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/eventloop"
	"github.com/joeycumines/go-cancelio/ioerr"
	"github.com/joeycumines/logiface"
)

// BufferedInputStream maintains a look-ahead buffer over another
// [InputStream], so callers can scan ahead without committing to a read
// length.
//
// Reads and skips drain the buffer before touching the base stream, and
// requests larger than the buffer bypass it. Like any [Stream], it is not
// safe for concurrent use.
type BufferedInputStream struct {
	*Stream
	buf *buffer
}

var _ Seeker = (*BufferedInputStream)(nil)

// buffer is the [Backend] of a [BufferedInputStream].
type buffer struct {
	base   InputStream
	logger *logiface.Logger[logiface.Event]
	// data[pos:end] is available
	data      []byte
	pos       int
	end       int
	closeBase bool
}

// NewBuffered returns a buffered stream reading from base.
func NewBuffered(base InputStream, opts ...Option) (*BufferedInputStream, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return newBuffered(base, cfg), nil
}

func newBuffered(base InputStream, cfg *options) *BufferedInputStream {
	if base == nil {
		panic(`stream: nil base stream`)
	}
	b := &buffer{
		base:      base,
		logger:    cfg.logger,
		data:      make([]byte, cfg.bufferSize),
		closeBase: !cfg.keepBase,
	}
	return &BufferedInputStream{Stream: New(b), buf: b}
}

// Base returns the wrapped stream.
func (b *BufferedInputStream) Base() InputStream {
	return b.buf.base
}

// Available returns the number of buffered bytes, that have not been
// consumed.
func (b *BufferedInputStream) Available() int {
	return b.buf.available()
}

// BufferSize returns the buffer capacity.
func (b *BufferedInputStream) BufferSize() int {
	return len(b.buf.data)
}

// SetBufferSize changes the buffer capacity, preserving the available bytes,
// and never shrinking below them. It must not be called while a fill is in
// progress.
func (b *BufferedInputStream) SetBufferSize(size int) {
	b.buf.resize(size)
}

// PeekBuffer returns the available bytes. The slice aliases the buffer, and
// is only valid until the next operation on the stream.
func (b *BufferedInputStream) PeekBuffer() []byte {
	return b.buf.data[b.buf.pos:b.buf.end]
}

// Peek copies available bytes, starting offset bytes in, into p, without
// consuming them. It returns the number of bytes copied.
func (b *BufferedInputStream) Peek(p []byte, offset int) int {
	available := b.buf.available()
	if offset < 0 || offset > available {
		return 0
	}
	return copy(p, b.buf.data[b.buf.pos+offset:b.buf.end])
}

// Fill reads from the base stream until at least count more bytes are
// available, or as many as fit if count is -1. It returns the number of
// bytes added, which may be fewer than requested. A result of 0 means end
// of stream, unless there was no room to fill: count was 0, or the buffer
// was already full (check [BufferedInputStream.Available] against
// [BufferedInputStream.BufferSize]). A failed fill leaves the available
// bytes intact.
func (b *BufferedInputStream) Fill(count int, c *cancellable.Cancellable) (int, error) {
	if count < -1 {
		return 0, ioerr.New(ioerr.InvalidArgument, `Too large count value passed to Fill`)
	}
	if err := b.SetPending(); err != nil {
		return 0, err
	}
	defer b.ClearPending()
	if c != nil {
		c.PushCurrent()
		defer c.PopCurrent()
	}
	return b.buf.fill(count, c)
}

// FillAsync is the asynchronous form of [BufferedInputStream.Fill].
func (b *BufferedInputStream) FillAsync(count int, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[int]) *eventloop.Task[int] {
	if count < -1 {
		task := newTask(`fill`, priority, c, callback)
		task.ReturnError(ioerr.New(ioerr.InvalidArgument, `Too large count value passed to FillAsync`))
		return task
	}
	return startAsync(b.Stream, `fill`, priority, c, callback, func(c *cancellable.Cancellable) (int, error) {
		return b.buf.fill(count, c)
	})
}

// NextByte consumes and returns the next byte, filling the buffer if it is
// empty. It returns [io.EOF] at end of stream.
func (b *BufferedInputStream) NextByte(c *cancellable.Cancellable) (byte, error) {
	if err := b.SetPending(); err != nil {
		return 0, err
	}
	defer b.ClearPending()

	if b.buf.available() == 0 {
		if c != nil {
			c.PushCurrent()
			defer c.PopCurrent()
		}
		b.buf.pos, b.buf.end = 0, 0
		n, err := b.buf.fill(len(b.buf.data), c)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
	}
	v := b.buf.data[b.buf.pos]
	b.buf.pos++
	return v, nil
}

func (x *buffer) available() int {
	return x.end - x.pos
}

func (x *buffer) resize(size int) {
	size = max(size, x.available(), 1)
	if size == len(x.data) {
		return
	}
	data := make([]byte, size)
	x.end = copy(data, x.data[x.pos:x.end])
	x.pos = 0
	x.data = data
}

func (x *buffer) compact() {
	x.end = copy(x.data, x.data[x.pos:x.end])
	x.pos = 0
}

// fill implements [BufferedInputStream.Fill], the caller must hold the
// pending flag.
func (x *buffer) fill(count int, c *cancellable.Cancellable) (int, error) {
	if count == -1 {
		count = len(x.data)
	}
	count = min(count, len(x.data)-x.available())
	if len(x.data)-x.end < count {
		x.compact()
	}
	n, err := x.base.Read(x.data[x.end:x.end+count], c)
	if n > 0 {
		x.end += n
	}
	return n, err
}

func (x *buffer) Read(p []byte, c *cancellable.Cancellable) (int, error) {
	read := copy(p, x.data[x.pos:x.end])
	if read == len(p) {
		x.pos += read
		return read, nil
	}

	// drained the buffer, refill for more
	x.pos, x.end = 0, 0
	p = p[read:]

	var n int
	var err error
	if len(p) > len(x.data) {
		n, err = x.base.Read(p, c)
	} else if n, err = x.fill(len(x.data), c); err == nil {
		n = copy(p, x.data[x.pos:x.end])
		x.pos += n
	}
	if err != nil {
		if read == 0 {
			return 0, err
		}
		x.logSuppressed(`read`, err)
		return read, nil
	}
	return read + n, nil
}

func (x *buffer) Skip(count int64, c *cancellable.Cancellable) (int64, error) {
	available := int64(x.available())
	if count <= available {
		x.pos += int(count)
		return count, nil
	}

	skipped := available
	x.pos, x.end = 0, 0
	count -= available

	var n int64
	var err error
	if count > int64(len(x.data)) {
		n, err = x.base.Skip(count, c)
	} else {
		var filled int
		if filled, err = x.fill(len(x.data), c); err == nil {
			n = min(count, int64(filled))
			x.pos += int(n)
		}
	}
	if err != nil {
		if skipped == 0 {
			return 0, err
		}
		x.logSuppressed(`skip`, err)
		return skipped, nil
	}
	return skipped + n, nil
}

func (x *buffer) Close(c *cancellable.Cancellable) error {
	if !x.closeBase {
		return nil
	}
	return x.base.Close(c)
}

func (x *buffer) CanSeek() bool {
	s, ok := x.base.(Seeker)
	return ok && s.CanSeek()
}

func (x *buffer) Tell() int64 {
	s, ok := x.base.(Seeker)
	if !ok {
		return 0
	}
	return s.Tell() - int64(x.available())
}

func (x *buffer) Seek(offset int64, whence int, c *cancellable.Cancellable) (int64, error) {
	s, ok := x.base.(Seeker)
	if !ok || !s.CanSeek() {
		return 0, ioerr.New(ioerr.NotSupported, `Seek not supported on base stream`)
	}
	if whence == io.SeekCurrent {
		if offset <= int64(x.available()) && offset >= -int64(x.pos) {
			x.pos += int(offset)
			return x.Tell(), nil
		}
		offset -= int64(x.available())
	}
	pos, err := s.Seek(offset, whence, c)
	if err != nil {
		return 0, err
	}
	x.pos, x.end = 0, 0
	return pos, nil
}

func (x *buffer) logSuppressed(op string, err error) {
	x.logger.Debug().
		Str(`op`, op).
		Err(err).
		Log(`stream: error after partial progress suppressed`)
}

package stream

import (
	"io"
	"sync"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/eventloop"
	"github.com/joeycumines/go-cancelio/ioerr"
)

// skipChunkSize is the scratch buffer size used to skip by reading.
const skipChunkSize = 8192

type (
	// InputStream is a cancellable source of bytes.
	//
	// Only one operation may be outstanding at a time, attempting another
	// fails with an [ioerr.Pending] error. Once closed, all operations fail
	// with an [ioerr.Closed] error, except Close, which is idempotent.
	InputStream interface {
		// Read reads up to len(p) bytes, blocking until at least one byte is
		// available, end of stream is reached (0, nil), or an error occurs.
		Read(p []byte, c *cancellable.Cancellable) (int, error)
		// Skip discards up to n bytes, returning how many were discarded.
		Skip(n int64, c *cancellable.Cancellable) (int64, error)
		// Close releases the stream's resources.
		Close(c *cancellable.Cancellable) error

		ReadAsync(p []byte, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[int]) *eventloop.Task[int]
		SkipAsync(n int64, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[int64]) *eventloop.Task[int64]
		CloseAsync(priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[struct{}]) *eventloop.Task[struct{}]

		IsClosed() bool
		HasPending() bool
		// SetPending marks the stream as having an outstanding operation,
		// failing if it already has one, or is closed.
		SetPending() error
		ClearPending()
	}

	// Backend is implemented by concrete byte sources. It is not required to
	// be safe for concurrent use, see [New].
	Backend interface {
		// Read is as per [InputStream.Read], p is never empty.
		Read(p []byte, c *cancellable.Cancellable) (int, error)
		// Close is called at most once.
		Close(c *cancellable.Cancellable) error
	}

	// Skipper may be implemented by a [Backend] that can discard bytes more
	// efficiently than by reading them.
	Skipper interface {
		Skip(n int64, c *cancellable.Cancellable) (int64, error)
	}

	// Seeker may be implemented by a [Backend], or a stream, that supports
	// repositioning. Whence is as per [io.Seeker].
	Seeker interface {
		CanSeek() bool
		Tell() int64
		Seek(offset int64, whence int, c *cancellable.Cancellable) (int64, error)
	}
)

// Stream implements [InputStream] over a [Backend].
type Stream struct {
	backend Backend
	mu      sync.Mutex
	pending bool
	closed  bool
}

var (
	_ InputStream = (*Stream)(nil)
	_ Seeker      = (*Stream)(nil)
)

// New returns a stream reading from backend.
func New(backend Backend) *Stream {
	if backend == nil {
		panic(`stream: nil backend`)
	}
	return &Stream{backend: backend}
}

// Backend returns the backend passed to [New].
func (s *Stream) Backend() Backend {
	return s.backend
}

func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Stream) SetPending() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ioerr.New(ioerr.Closed, `Stream is already closed`)
	}
	if s.pending {
		return ioerr.New(ioerr.Pending, `Stream has outstanding operation`)
	}
	s.pending = true
	return nil
}

func (s *Stream) ClearPending() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

func (s *Stream) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Stream) Read(p []byte, c *cancellable.Cancellable) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.SetPending(); err != nil {
		return 0, err
	}
	defer s.ClearPending()
	return s.read(p, c)
}

// read performs the backend read, the caller must hold the pending flag.
func (s *Stream) read(p []byte, c *cancellable.Cancellable) (int, error) {
	if err := c.ErrorIfCancelled(); err != nil {
		return 0, err
	}
	if c != nil {
		c.PushCurrent()
		defer c.PopCurrent()
	}
	return s.backend.Read(p, c)
}

func (s *Stream) Skip(n int64, c *cancellable.Cancellable) (int64, error) {
	if n < 0 {
		return 0, ioerr.New(ioerr.InvalidArgument, `Negative count value passed to Skip`)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.SetPending(); err != nil {
		return 0, err
	}
	defer s.ClearPending()
	return s.skip(n, c)
}

func (s *Stream) skip(n int64, c *cancellable.Cancellable) (int64, error) {
	if err := c.ErrorIfCancelled(); err != nil {
		return 0, err
	}
	if c != nil {
		c.PushCurrent()
		defer c.PopCurrent()
	}

	if skipper, ok := s.backend.(Skipper); ok {
		return skipper.Skip(n, c)
	}

	if seeker, ok := s.backend.(Seeker); ok && seeker.CanSeek() {
		start := seeker.Tell()
		if end, err := seeker.Seek(0, io.SeekEnd, c); err == nil {
			if start > end-n {
				return end - start, nil
			}
			if _, err := seeker.Seek(start+n, io.SeekStart, c); err != nil {
				return 0, err
			}
			return n, nil
		}
	}

	// not seekable, or the seek failed: read and discard
	buf := make([]byte, min(n, skipChunkSize))
	var skipped int64
	for n > 0 {
		nr, err := s.backend.Read(buf[:min(n, int64(len(buf)))], c)
		if err != nil {
			if skipped > 0 && ioerr.KindOf(err) == ioerr.Cancelled {
				return skipped, nil
			}
			return skipped, err
		}
		if nr == 0 {
			break
		}
		n -= int64(nr)
		skipped += int64(nr)
	}
	return skipped, nil
}

// Close closes the backend, if the stream is not already closed. The stream
// is closed even if the backend fails.
func (s *Stream) Close(c *cancellable.Cancellable) error {
	if s.IsClosed() {
		return nil
	}
	if err := s.SetPending(); err != nil {
		return err
	}
	defer s.markClosed()
	defer s.ClearPending()
	return s.close(c)
}

func (s *Stream) close(c *cancellable.Cancellable) error {
	if c != nil {
		c.PushCurrent()
		defer c.PopCurrent()
	}
	return s.backend.Close(c)
}

// CanSeek reports whether the backend supports [Stream.Seek].
func (s *Stream) CanSeek() bool {
	seeker, ok := s.backend.(Seeker)
	return ok && seeker.CanSeek()
}

// Tell returns the current position, or 0 if the backend is not seekable.
func (s *Stream) Tell() int64 {
	if seeker, ok := s.backend.(Seeker); ok {
		return seeker.Tell()
	}
	return 0
}

// Seek repositions the stream, returning the new offset.
func (s *Stream) Seek(offset int64, whence int, c *cancellable.Cancellable) (int64, error) {
	seeker, ok := s.backend.(Seeker)
	if !ok || !seeker.CanSeek() {
		return 0, ioerr.New(ioerr.NotSupported, `Seek not supported on stream`)
	}
	if err := s.SetPending(); err != nil {
		return 0, err
	}
	defer s.ClearPending()
	if err := c.ErrorIfCancelled(); err != nil {
		return 0, err
	}
	return seeker.Seek(offset, whence, c)
}

func (s *Stream) ReadAsync(p []byte, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[int]) *eventloop.Task[int] {
	return startAsync(s, `read`, priority, c, callback, func(c *cancellable.Cancellable) (int, error) {
		if len(p) == 0 {
			return 0, nil
		}
		return s.read(p, c)
	})
}

func (s *Stream) SkipAsync(n int64, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[int64]) *eventloop.Task[int64] {
	if n < 0 {
		task := newTask(`skip`, priority, c, callback)
		task.ReturnError(ioerr.New(ioerr.InvalidArgument, `Negative count value passed to SkipAsync`))
		return task
	}
	return startAsync(s, `skip`, priority, c, callback, func(c *cancellable.Cancellable) (int64, error) {
		if n == 0 {
			return 0, nil
		}
		return s.skip(n, c)
	})
}

func (s *Stream) CloseAsync(priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[struct{}]) *eventloop.Task[struct{}] {
	if s.IsClosed() {
		task := newTask(`close`, priority, c, callback)
		task.Return(struct{}{})
		return task
	}
	return startAsync(s, `close`, priority, c, callback, func(c *cancellable.Cancellable) (struct{}, error) {
		defer s.markClosed()
		return struct{}{}, s.close(c)
	})
}

func newTask[T any](name string, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[T]) *eventloop.Task[T] {
	task := eventloop.NewTask(c, callback)
	task.SetName(name)
	task.SetPriority(priority)
	// the result reflects what the operation did, bytes may have been consumed
	task.SetCheckCancellable(false)
	return task
}

// startAsync runs fn on another goroutine, holding s's pending flag until the
// result is available. The flag is cleared before the callback is delivered.
func startAsync[T any](s *Stream, name string, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[T], fn func(c *cancellable.Cancellable) (T, error)) *eventloop.Task[T] {
	task := newTask(name, priority, c, callback)
	if err := s.SetPending(); err != nil {
		task.ReturnError(err)
		return task
	}
	task.RunInGoroutine(func(_ *eventloop.Task[T], c *cancellable.Cancellable) (T, error) {
		defer s.ClearPending()
		return fn(c)
	})
	return task
}

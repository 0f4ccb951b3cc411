package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/eventloop"
	"github.com/joeycumines/go-cancelio/ioerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_ReadZeroCountDoesNoIO(t *testing.T) {
	b := &chunkBackend{chunks: [][]byte{[]byte(`abc`)}}
	s := New(b)
	n, err := s.Read(nil, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, b.reads)
}

func TestStream_ReadCancelledBeforeIO(t *testing.T) {
	b := &chunkBackend{chunks: [][]byte{[]byte(`abc`)}}
	s := New(b)
	c := cancellable.New()
	c.Cancel()

	n, err := s.Read(make([]byte, 3), c)
	assert.Zero(t, n)
	assert.Equal(t, ioerr.Cancelled, ioerr.KindOf(err))
	assert.Zero(t, b.reads)
	assert.False(t, s.HasPending())
}

func TestStream_CurrentCancellableDuringRead(t *testing.T) {
	c := cancellable.New()
	var current *cancellable.Cancellable
	s := New(readFunc(func(p []byte, _ *cancellable.Cancellable) (int, error) {
		current = cancellable.Current()
		return 0, nil
	}))
	_, err := s.Read(make([]byte, 1), c)
	require.NoError(t, err)
	assert.Same(t, c, current)
	assert.Nil(t, cancellable.Current())
}

type readFunc func(p []byte, c *cancellable.Cancellable) (int, error)

func (f readFunc) Read(p []byte, c *cancellable.Cancellable) (int, error) { return f(p, c) }

func (f readFunc) Close(*cancellable.Cancellable) error { return nil }

func TestStream_Pending(t *testing.T) {
	s := newChunks(`abc`)
	require.NoError(t, s.SetPending())
	assert.True(t, s.HasPending())

	_, err := s.Read(make([]byte, 1), nil)
	assert.ErrorIs(t, err, ioerr.ErrPending)
	assert.EqualError(t, err, `Stream has outstanding operation`)
	assert.ErrorIs(t, s.SetPending(), ioerr.ErrPending)

	s.ClearPending()
	n, err := s.Read(make([]byte, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	b := &chunkBackend{chunks: [][]byte{[]byte(`abc`)}}
	s := New(b)
	require.NoError(t, s.Close(nil))
	require.NoError(t, s.Close(nil))
	assert.True(t, s.IsClosed())
	assert.Equal(t, 1, b.closed)

	_, err := s.Read(make([]byte, 1), nil)
	assert.ErrorIs(t, err, ioerr.ErrClosed)
	_, err = s.Skip(1, nil)
	assert.ErrorIs(t, err, ioerr.ErrClosed)
}

func TestStream_SkipNegative(t *testing.T) {
	s := newChunks(`abc`)
	_, err := s.Skip(-1, nil)
	assert.ErrorIs(t, err, ioerr.ErrInvalidArgument)
	n, err := s.Skip(0, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestStream_SkipByReading(t *testing.T) {
	s := FromReader(iotest.OneByteReader(bytes.NewReader(bytes.Repeat([]byte{'x'}, 20000))))
	n, err := s.Skip(19000, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(19000), n)

	n, err = s.Skip(5000, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n, "short skip at end of stream")
}

func TestStream_SkipBySeeking(t *testing.T) {
	s := NewMemory([]byte(`hello`), []byte(` world`))
	require.True(t, s.CanSeek())

	n, err := s.Skip(6, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, int64(6), s.Tell())

	n, err = s.Skip(100, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, int64(11), s.Tell())
}

func TestStream_SkipCancelledAfterProgress(t *testing.T) {
	c := cancellable.New()
	reads := 0
	s := New(readFunc(func(p []byte, c *cancellable.Cancellable) (int, error) {
		reads++
		if reads == 2 {
			c.Cancel()
			return 0, c.ErrorIfCancelled()
		}
		return len(p), nil
	}))
	n, err := s.Skip(3*skipChunkSize, c)
	require.NoError(t, err, "partial progress is reported instead of the cancellation")
	assert.Equal(t, int64(skipChunkSize), n)
}

func TestStream_Seek(t *testing.T) {
	s := NewMemory([]byte(`0123456789`))
	pos, err := s.Seek(-3, io.SeekEnd, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)

	buf := make([]byte, 10)
	n, err := s.Read(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, `789`, string(buf[:n]))

	_, err = s.Seek(-1, io.SeekStart, nil)
	assert.ErrorIs(t, err, ioerr.ErrInvalidArgument)

	_, err = newChunks(`x`).Seek(0, io.SeekStart, nil)
	assert.ErrorIs(t, err, ioerr.ErrNotSupported)
}

func TestFromReader(t *testing.T) {
	s := FromReader(iotest.HalfReader(strings.NewReader(`hello world`)))
	assert.False(t, s.CanSeek())
	b, err := io.ReadAll(AsReader(s, nil))
	require.NoError(t, err)
	assert.Equal(t, `hello world`, string(b))

	n, err := s.Read(make([]byte, 4), nil)
	assert.NoError(t, err)
	assert.Zero(t, n, "end of stream is sticky")
}

func TestFromReader_ErrorAfterData(t *testing.T) {
	want := errors.New(`boom`)
	s := FromReader(iotest.DataErrReader(io.MultiReader(strings.NewReader(`ab`), iotest.ErrReader(want))))
	buf := make([]byte, 8)

	n, err := s.Read(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, `ab`, string(buf[:n]))

	_, err = s.Read(buf, nil)
	assert.ErrorIs(t, err, want)
	assert.ErrorIs(t, err, ioerr.ErrIO)
}

func TestFromReader_SeekableAndCloser(t *testing.T) {
	s := FromReader(strings.NewReader(`abcdef`))
	require.True(t, s.CanSeek())
	_, err := s.Seek(2, io.SeekStart, nil)
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = s.Read(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, `cd`, string(buf))
	assert.Equal(t, int64(4), s.Tell())

	rc := &closeRecorder{Reader: strings.NewReader(``)}
	require.NoError(t, FromReader(rc).Close(nil))
	assert.True(t, rc.closed)
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestStream_ReadAsync(t *testing.T) {
	loop := testLoop(t)
	s := NewMemory([]byte(`abc`))

	buf := make([]byte, 8)
	done := make(chan struct{})
	var pendingInCallback bool
	task := s.ReadAsync(buf, eventloop.PriorityDefault, nil, func(task *eventloop.Task[int]) {
		defer close(done)
		pendingInCallback = s.HasPending()
		n, err := task.Propagate()
		require.NoError(t, err)
		assert.Equal(t, `abc`, string(buf[:n]))
	})
	assert.Same(t, loop, task.Loop())

	iterateUntil(t, loop, done)
	assert.False(t, pendingInCallback, "pending is cleared before the callback")
}

func TestStream_SecondAsyncOperationIsPending(t *testing.T) {
	testLoop(t)
	data := make(chan []byte)
	s := New(&blockingBackend{data: data})

	first := s.ReadAsync(make([]byte, 4), eventloop.PriorityDefault, nil, nil)
	second := s.ReadAsync(make([]byte, 4), eventloop.PriorityDefault, nil, nil)

	<-second.Done()
	_, err := second.Propagate()
	assert.ErrorIs(t, err, ioerr.ErrPending)

	data <- []byte(`ok`)
	<-first.Done()
	n, err := first.Propagate()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, s.HasPending())
}

func TestStream_AsyncCancellation(t *testing.T) {
	testLoop(t)
	s := New(&blockingBackend{data: make(chan []byte)})
	c := cancellable.New()

	task := s.ReadAsync(make([]byte, 4), eventloop.PriorityDefault, c, nil)
	c.Cancel()
	<-task.Done()
	_, err := task.Propagate()
	assert.Equal(t, ioerr.Cancelled, ioerr.KindOf(err))
	assert.False(t, s.HasPending())
}

func TestStream_SkipAndCloseAsync(t *testing.T) {
	s := NewMemory([]byte(`abcdef`))

	skip := s.SkipAsync(4, eventloop.PriorityDefault, nil, nil)
	<-skip.Done()
	n, err := skip.Propagate()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	negative := s.SkipAsync(-1, eventloop.PriorityDefault, nil, nil)
	_, err = negative.Propagate()
	assert.ErrorIs(t, err, ioerr.ErrInvalidArgument)

	closing := s.CloseAsync(eventloop.PriorityDefault, nil, nil)
	<-closing.Done()
	_, err = closing.Propagate()
	require.NoError(t, err)
	assert.True(t, s.IsClosed())

	again := s.CloseAsync(eventloop.PriorityDefault, nil, nil)
	_, err = again.Propagate()
	assert.NoError(t, err)
}

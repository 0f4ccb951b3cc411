package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/eventloop"
	"github.com/joeycumines/go-cancelio/ioerr"
)

// chunkBackend yields its chunks one read at a time, then end of stream,
// optionally failing with err once the chunks are exhausted.
type chunkBackend struct {
	chunks [][]byte
	err    error
	reads  int
	closed int
}

func (b *chunkBackend) Read(p []byte, c *cancellable.Cancellable) (int, error) {
	b.reads++
	if len(b.chunks) == 0 {
		return 0, b.err
	}
	n := copy(p, b.chunks[0])
	if n == len(b.chunks[0]) {
		b.chunks = b.chunks[1:]
	} else {
		b.chunks[0] = b.chunks[0][n:]
	}
	return n, nil
}

func (b *chunkBackend) Close(*cancellable.Cancellable) error {
	b.closed++
	return nil
}

func newChunks(chunks ...string) *Stream {
	b := &chunkBackend{}
	for _, chunk := range chunks {
		b.chunks = append(b.chunks, []byte(chunk))
	}
	return New(b)
}

// blockingBackend blocks each read until data is sent, or the cancellable
// is cancelled.
type blockingBackend struct {
	data chan []byte
}

func (b *blockingBackend) Read(p []byte, c *cancellable.Cancellable) (int, error) {
	cancelled := make(chan struct{})
	var once sync.Once
	id := c.Connect(func(*cancellable.Cancellable, any) {
		once.Do(func() { close(cancelled) })
	}, nil, nil)
	defer c.Disconnect(id)
	select {
	case data, ok := <-b.data:
		if !ok {
			return 0, nil
		}
		return copy(p, data), nil
	case <-cancelled:
		return 0, ioerr.NewCancelled()
	}
}

func (b *blockingBackend) Close(*cancellable.Cancellable) error { return nil }

func mustData(t *testing.T, base InputStream, opts ...Option) *DataInputStream {
	t.Helper()
	d, err := NewData(base, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// testLoop returns a loop pushed as the calling goroutine's thread default,
// for the duration of the test.
func testLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	if err != nil {
		t.Fatal(err)
	}
	loop.PushThreadDefault()
	t.Cleanup(func() {
		loop.PopThreadDefault()
		if err := loop.Close(); err != nil && !errors.Is(err, eventloop.ErrLoopTerminated) {
			t.Error(err)
		}
	})
	return loop
}

// iterateUntil drives loop until done is closed.
func iterateUntil(t *testing.T, loop *eventloop.Loop, done <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			t.Fatal("timed out waiting for the loop")
		default:
		}
		loop.Iterate(false)
		time.Sleep(time.Millisecond)
	}
}

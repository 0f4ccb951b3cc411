package cancellable

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-cancelio/ioerr"
	"github.com/joeycumines/goroutineid"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCancellable_NilReceiver(t *testing.T) {
	var c *Cancellable
	assert.False(t, c.IsCancelled())
	assert.NoError(t, c.ErrorIfCancelled())
	assert.Equal(t, ListenerID(0), c.Connect(func(*Cancellable, any) { t.Error("must not be called") }, nil, nil))
	_, ok := c.MakePollFD()
	assert.False(t, ok)
	c.Cancel()
	c.Reset()
	c.ReleaseFD()
	c.Disconnect(1)
}

func TestCancellable_CancelIsMonotonic(t *testing.T) {
	c := New()
	assert.False(t, c.IsCancelled())
	assert.NoError(t, c.ErrorIfCancelled())

	c.Cancel()
	assert.True(t, c.IsCancelled())
	err := c.ErrorIfCancelled()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ioerr.ErrCancelled))

	c.Cancel()
	assert.True(t, c.IsCancelled())
}

// TestCancellable_ListenerOrderAndReentrancy registers three listeners, the
// second of which observes the token from inside the dispatch.
func TestCancellable_ListenerOrderAndReentrancy(t *testing.T) {
	c := New()
	var order []string
	var sawCancelled bool

	caller := goroutineid.Get()
	for _, name := range []string{"L1", "L2", "L3"} {
		id := c.Connect(func(cc *Cancellable, data any) {
			assert.Same(t, c, cc)
			assert.Equal(t, caller, goroutineid.Get(), "listeners run on the cancelling goroutine")
			order = append(order, data.(string))
			if data == "L2" {
				sawCancelled = cc.IsCancelled()
			}
		}, name, nil)
		require.NotZero(t, id)
	}

	c.Cancel()
	c.Cancel()

	assert.Equal(t, []string{"L1", "L2", "L3"}, order)
	assert.True(t, sawCancelled)
}

func TestCancellable_ListenerRunsWithoutLock(t *testing.T) {
	c := New()
	var nested atomic.Int32
	c.Connect(func(cc *Cancellable, _ any) {
		// each of these take the token's mutex
		fd, ok := cc.MakePollFD()
		if assert.True(t, ok) {
			assert.True(t, testFDReadable(t, fd, 0))
			cc.ReleaseFD()
		}
		id := cc.Connect(func(*Cancellable, any) { nested.Add(1) }, nil, nil)
		assert.Zero(t, id)
		other := New()
		other.Cancel()
	}, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Cancel()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel deadlocked")
	}
	assert.Equal(t, int32(1), nested.Load())
}

func TestCancellable_ConnectAfterCancel(t *testing.T) {
	c := New()
	c.Cancel()

	var events []string
	id := c.Connect(
		func(cc *Cancellable, data any) {
			assert.Same(t, c, cc)
			events = append(events, "callback:"+data.(string))
		},
		"data",
		func(data any) {
			events = append(events, "destroy:"+data.(string))
		},
	)
	assert.Equal(t, ListenerID(0), id)
	assert.Equal(t, []string{"callback:data", "destroy:data"}, events)

	// disconnecting the shortcut id is a no-op
	c.Disconnect(id)
	assert.Len(t, events, 2)
}

func TestCancellable_DisconnectBeforeCancel(t *testing.T) {
	c := New()
	var called, destroyed atomic.Int32
	id := c.Connect(func(*Cancellable, any) { called.Add(1) }, nil, func(any) { destroyed.Add(1) })
	require.NotZero(t, id)

	c.Disconnect(id)
	assert.Equal(t, int32(1), destroyed.Load())

	c.Cancel()
	assert.Zero(t, called.Load())

	c.Disconnect(id)
	assert.Equal(t, int32(1), destroyed.Load(), "second disconnect of the same id does nothing")
}

func TestCancellable_DisconnectWaitsForDispatch(t *testing.T) {
	c := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	id := c.Connect(func(*Cancellable, any) {
		close(entered)
		<-release
		finished.Store(true)
	}, nil, nil)

	go c.Cancel()
	<-entered

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		c.Disconnect(id)
		assert.True(t, finished.Load(), "disconnect returned before the listener finished")
	}()

	select {
	case <-disconnected:
		t.Fatal("disconnect did not wait for the in-flight listener")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect never returned")
	}
}

func TestCancellable_DetachDoesNotWait(t *testing.T) {
	c := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var secondCalled atomic.Bool

	c.Connect(func(*Cancellable, any) {
		close(entered)
		<-release
	}, nil, nil)
	second := c.Connect(func(*Cancellable, any) { secondCalled.Store(true) }, nil, nil)

	cancelled := make(chan struct{})
	go func() {
		defer close(cancelled)
		c.Cancel()
	}()
	<-entered

	detached := make(chan struct{})
	go func() {
		defer close(detached)
		c.Detach(second)
	}()
	select {
	case <-detached:
	case <-time.After(5 * time.Second):
		t.Fatal("detach blocked on the in-flight dispatch")
	}

	close(release)
	<-cancelled
	assert.False(t, secondCalled.Load(), "a detached listener not yet reached must be skipped")
}

func TestCancellable_ConcurrentCancelInvokesOnce(t *testing.T) {
	for range 100 {
		c := New()
		var calls atomic.Int32
		c.Connect(func(*Cancellable, any) { calls.Add(1) }, nil, nil)

		var g errgroup.Group
		for range 8 {
			g.Go(func() error {
				c.Cancel()
				if !c.IsCancelled() {
					return errors.New("not cancelled after Cancel returned")
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		require.Equal(t, int32(1), calls.Load())
	}
}

func TestCancellable_PollFD(t *testing.T) {
	c := New()

	fd, ok := c.MakePollFD()
	require.True(t, ok)
	assert.False(t, testFDReadable(t, fd, 0))

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Cancel()
	}()
	assert.True(t, testFDReadable(t, fd, 5*time.Second), "cancel must wake a poller")
	c.ReleaseFD()

	fd, ok = c.MakePollFD()
	require.True(t, ok)
	assert.True(t, testFDReadable(t, fd, 0), "pollfd made after cancel must be immediately readable")

	fd2, ok := c.MakePollFD()
	require.True(t, ok)
	assert.Equal(t, fd, fd2, "descriptor is shared while refs are outstanding")
	c.ReleaseFD()
	c.ReleaseFD()
}

// TestCancellable_PollFDCycleReleasesCleanup ensures repeated make/release
// cycles on a long-lived token do not accumulate cleanup records.
func TestCancellable_PollFDCycleReleasesCleanup(t *testing.T) {
	c := New()

	for range 3 {
		_, ok := c.MakePollFD()
		require.True(t, ok)
		assert.NotEqual(t, runtime.Cleanup{}, c.wakeupCleanup)
		c.ReleaseFD()
		assert.Equal(t, runtime.Cleanup{}, c.wakeupCleanup)
		assert.Nil(t, c.wakeup)
	}

	heapAlloc := func() uint64 {
		runtime.GC()
		runtime.GC()
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.HeapAlloc
	}

	const cycles = 100000
	before := heapAlloc()
	for range cycles {
		if _, ok := c.MakePollFD(); !ok {
			t.Fatal("MakePollFD failed")
		}
		c.ReleaseFD()
	}
	after := heapAlloc()
	runtime.KeepAlive(c)

	// a retained record per cycle would be several MB
	if after > before {
		assert.Less(t, after-before, uint64(1<<20), "heap grew by %d bytes over %d cycles", after-before, cycles)
	}
}

func TestCancellable_Reset(t *testing.T) {
	c := New()
	var calls atomic.Int32
	c.Connect(func(*Cancellable, any) { calls.Add(1) }, nil, nil)

	fd, ok := c.MakePollFD()
	require.True(t, ok)

	c.Cancel()
	assert.True(t, testFDReadable(t, fd, 0))

	c.Reset()
	assert.False(t, c.IsCancelled())
	assert.False(t, testFDReadable(t, fd, 0), "reset must acknowledge the wakeup")
	c.ReleaseFD()

	fd, ok = c.MakePollFD()
	require.True(t, ok)
	assert.False(t, testFDReadable(t, fd, 0), "fresh pollfd after reset must not be readable")
	c.ReleaseFD()

	// listeners stay connected, and fire again on the next edge
	c.Cancel()
	assert.Equal(t, int32(2), calls.Load())

	// reset of an uncancelled token is a no-op
	c.Reset()
	c.Reset()
	assert.False(t, c.IsCancelled())
}

func TestCancellable_ResetWaitsForDispatch(t *testing.T) {
	c := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	c.Connect(func(*Cancellable, any) {
		close(entered)
		<-release
	}, nil, nil)

	go c.Cancel()
	<-entered

	reset := make(chan struct{})
	go func() {
		defer close(reset)
		c.Reset()
	}()
	select {
	case <-reset:
		t.Fatal("reset did not wait for the dispatch")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, c.IsCancelled())

	close(release)
	<-reset
	assert.False(t, c.IsCancelled())
}

func TestCancellable_ListenerPanic(t *testing.T) {
	var sink testLogSink
	c := New(WithLogger(sink.Logger()), WithName("panicky"))

	var third atomic.Bool
	c.Connect(func(*Cancellable, any) {}, nil, nil)
	c.Connect(func(*Cancellable, any) { panic("boom") }, nil, nil)
	id := c.Connect(func(*Cancellable, any) { third.Store(true) }, nil, nil)

	assert.PanicsWithValue(t, "boom", c.Cancel)
	assert.True(t, c.IsCancelled())
	assert.False(t, third.Load(), "listeners after a panic are not invoked")

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Disconnect(id)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch state leaked after panic")
	}

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, logiface.LevelCritical, events[0].level)
	assert.Equal(t, "cancellable: listener panicked", events[0].msg)
	assert.Equal(t, "panicky", events[0].fields["cancellable"])
}

func TestCancellable_ReleaseFDUnderflowLogged(t *testing.T) {
	var sink testLogSink
	c := New(WithLogger(sink.Logger()))
	c.ReleaseFD()
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, logiface.LevelError, events[0].level)
}

// TestCancellable_ThreadedDisconnectRace stresses connect, cancel, and
// disconnect racing across goroutines: destroy must run exactly once per
// listener, and never while the listener is running.
func TestCancellable_ThreadedDisconnectRace(t *testing.T) {
	iterations := 10000
	if testing.Short() {
		iterations = 1000
	}
	for i := range iterations {
		c := New()
		var running, destroyed atomic.Int32
		id := c.Connect(
			func(*Cancellable, any) {
				running.Add(1)
				if destroyed.Load() != 0 {
					t.Error("listener invoked after destroy")
				}
				running.Add(-1)
			},
			nil,
			func(any) {
				if running.Load() != 0 {
					t.Error("destroy invoked while listener running")
				}
				destroyed.Add(1)
			},
		)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Cancel()
		}()
		go func() {
			defer wg.Done()
			c.Disconnect(id)
		}()
		wg.Wait()

		if destroyed.Load() != 1 {
			t.Fatalf("iteration %d: destroyed %d times", i, destroyed.Load())
		}
	}
}

func TestCancellable_MultipleConcurrentWaiters(t *testing.T) {
	c := New()
	const waiters = 10

	var g errgroup.Group
	var ready sync.WaitGroup
	ready.Add(waiters)
	for range waiters {
		g.Go(func() error {
			fd, ok := c.MakePollFD()
			ready.Done()
			if !ok {
				return errors.New("MakePollFD failed")
			}
			defer c.ReleaseFD()
			if !testFDReadable(t, fd, 5*time.Second) {
				return errors.New("waiter was not woken")
			}
			return nil
		})
	}
	ready.Wait()
	time.Sleep(10 * time.Millisecond)
	c.Cancel()
	require.NoError(t, g.Wait())
}

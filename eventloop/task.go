package eventloop

import (
	"context"
	"errors"
	"sync"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/ioerr"
)

// ErrGoexit is the task error when a task func exits via runtime.Goexit().
var ErrGoexit = errors.New("eventloop: task goroutine exited via runtime.Goexit")

// ReadyFunc is invoked once a [Task] completes. Use [Task.Propagate] to
// obtain the result.
type ReadyFunc[T any] func(t *Task[T])

// TaskFunc is the body of a task run via [Task.RunInGoroutine].
type TaskFunc[T any] func(t *Task[T], c *cancellable.Cancellable) (T, error)

// Task represents an asynchronous operation, that completes exactly once.
//
// A task captures the thread-default loop (see [ThreadDefault]) of the
// goroutine that created it. On completion, the callback is queued on that
// loop at the task's priority, and never invoked from within the call that
// completed the task. Tasks created without a thread-default loop invoke the
// callback directly, on the completing goroutine, as do tasks whose loop has
// terminated.
type Task[T any] struct {
	result      T
	err         error
	loop        *Loop
	cancellable *cancellable.Cancellable
	callback    ReadyFunc[T]
	done        chan struct{}
	name        string

	mu               sync.Mutex
	priority         int
	listener         cancellable.ListenerID
	checkCancellable bool
	returnOnCancel   bool
	running          bool
	returned         bool
}

// NewTask creates a task, bound to the calling goroutine's thread-default
// loop. The cancellable and callback may be nil.
func NewTask[T any](c *cancellable.Cancellable, callback ReadyFunc[T]) *Task[T] {
	return &Task[T]{
		loop:             ThreadDefault(),
		cancellable:      c,
		callback:         callback,
		done:             make(chan struct{}),
		checkCancellable: true,
	}
}

// Loop returns the loop the callback will be delivered to, or nil.
func (t *Task[T]) Loop() *Loop { return t.loop }

// Cancellable returns the task's cancellable, which may be nil.
func (t *Task[T]) Cancellable() *cancellable.Cancellable { return t.cancellable }

// SetName sets a name, for diagnostics.
func (t *Task[T]) SetName(name string) {
	t.mu.Lock()
	t.name = name
	t.mu.Unlock()
}

// Name returns the name set by [Task.SetName].
func (t *Task[T]) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// SetPriority sets the priority the callback is delivered at.
func (t *Task[T]) SetPriority(priority int) {
	t.mu.Lock()
	t.priority = priority
	t.mu.Unlock()
}

// Priority returns the priority set by [Task.SetPriority].
func (t *Task[T]) Priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// SetCheckCancellable controls whether [Task.Propagate] reports a cancelled
// error whenever the cancellable is cancelled, regardless of the returned
// result. It defaults to true.
func (t *Task[T]) SetCheckCancellable(check bool) {
	t.mu.Lock()
	t.checkCancellable = check
	t.mu.Unlock()
}

// SetReturnOnCancel controls whether a task running via
// [Task.RunInGoroutine] completes with a cancelled error as soon as its
// cancellable is cancelled, discarding whatever the task func later returns.
//
// It returns false if the task has already completed, in which case the
// setting has no effect.
func (t *Task[T]) SetReturnOnCancel(returnOnCancel bool) bool {
	t.mu.Lock()
	if t.returned {
		t.mu.Unlock()
		return false
	}
	t.returnOnCancel = returnOnCancel
	connect := returnOnCancel && t.running && t.listener == 0
	t.mu.Unlock()
	if connect {
		t.connectReturnOnCancel()
	}
	return true
}

func (t *Task[T]) connectReturnOnCancel() {
	id := t.cancellable.Connect(func(*cancellable.Cancellable, any) {
		t.mu.Lock()
		enabled := t.returnOnCancel
		t.mu.Unlock()
		if enabled {
			t.ReturnError(ioerr.NewCancelled())
		}
	}, nil, nil)
	t.mu.Lock()
	if t.returned {
		t.mu.Unlock()
		t.cancellable.Detach(id)
		return
	}
	t.listener = id
	t.mu.Unlock()
}

// Return completes the task successfully. Only the first completion takes
// effect, later calls return false.
func (t *Task[T]) Return(v T) bool {
	return t.ReturnResult(v, nil)
}

// ReturnError completes the task with an error.
func (t *Task[T]) ReturnError(err error) bool {
	var zero T
	return t.ReturnResult(zero, err)
}

// ReturnResult completes the task with either a value or an error.
func (t *Task[T]) ReturnResult(v T, err error) bool {
	t.mu.Lock()
	if t.returned {
		t.mu.Unlock()
		return false
	}
	t.returned = true
	t.result, t.err = v, err
	listener := t.listener
	t.listener = 0
	priority := t.priority
	t.mu.Unlock()

	close(t.done)
	// may be running within the listener itself
	t.cancellable.Detach(listener)

	if t.callback != nil {
		if t.loop == nil || t.loop.SubmitInternal(priority, t.invokeCallback) != nil {
			t.invokeCallback()
		}
	}
	return true
}

func (t *Task[T]) invokeCallback() {
	t.callback(t)
}

// RunInGoroutine runs fn on a new goroutine, completing the task with its
// result. A panic completes the task with a [PanicError], and
// runtime.Goexit with [ErrGoexit].
func (t *Task[T]) RunInGoroutine(fn TaskFunc[T]) {
	t.mu.Lock()
	t.running = true
	connect := t.returnOnCancel && t.listener == 0
	t.mu.Unlock()
	if connect {
		t.connectReturnOnCancel()
	}

	go func() {
		completed := false
		defer func() {
			if r := recover(); r != nil {
				t.ReturnError(PanicError{Value: r})
			} else if !completed {
				t.ReturnError(ErrGoexit)
			}
		}()
		v, err := fn(t, t.cancellable)
		completed = true
		t.ReturnResult(v, err)
	}()
}

// Completed reports whether the task has a result.
func (t *Task[T]) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.returned
}

// Done is closed once the task has a result.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// HadError reports whether [Task.Propagate] would return an error.
func (t *Task[T]) HadError() bool {
	_, err := t.Propagate()
	return err != nil
}

// Propagate returns the task's result. If the task was configured to check
// its cancellable (the default), and the cancellable is cancelled, a
// cancelled error is returned instead.
func (t *Task[T]) Propagate() (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.returned {
		return zero, ErrTaskNotComplete
	}
	if t.checkCancellable && t.cancellable.IsCancelled() {
		return zero, ioerr.NewCancelled()
	}
	if t.err != nil {
		return zero, t.err
	}
	return t.result, nil
}

// Wait blocks until the task has a result, or ctx is done, then propagates.
// It does not wait for the callback.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.Propagate()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

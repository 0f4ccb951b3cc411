package cancellable

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-cancelio/ioerr"
	"github.com/joeycumines/go-cancelio/wakeup"
	"github.com/joeycumines/logiface"
)

// ListenerID identifies a listener registered via [Cancellable.Connect].
// Zero is reserved: it is returned when the listener was invoked immediately,
// because the cancellable was already cancelled.
type ListenerID uint64

// ListenerFunc is invoked when the cancellable it is connected to is
// cancelled, with the user data passed to [Cancellable.Connect].
type ListenerFunc func(c *Cancellable, data any)

type listener struct {
	cb      ListenerFunc
	data    any
	destroy func(data any)
	id      ListenerID
	removed atomic.Bool
}

// Cancellable is a thread-safe, monotonic cancellation token.
//
// It may be observed by polling [Cancellable.IsCancelled], by waiting on the
// descriptor from [Cancellable.MakePollFD], or by registering a listener with
// [Cancellable.Connect]. Use [New] to create one.
//
// Methods that only observe state (IsCancelled, ErrorIfCancelled) are safe to
// call on a nil receiver, which behaves as a token that is never cancelled.
type Cancellable struct {
	logger *logiface.Logger[logiface.Event]
	wakeup *wakeup.Wakeup
	// closes wakeup if the token is dropped with FDs outstanding
	wakeupCleanup runtime.Cleanup
	cond   sync.Cond
	name   string

	listeners []*listener

	mu         sync.Mutex
	fdRefcount int
	nextID     ListenerID

	// cancelled is deliberately outside mu, IsCancelled must not lock
	cancelled        atomic.Bool
	cancelledRunning bool
	waitersPresent   bool
}

// New returns a new, uncancelled, Cancellable.
func New(opts ...Option) *Cancellable {
	cfg := resolveOptions(opts)
	c := &Cancellable{
		logger: cfg.logger,
		name:   cfg.name,
	}
	c.cond.L = &c.mu
	return c
}

// Name returns the name configured via [WithName], if any.
func (c *Cancellable) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// IsCancelled reports whether the token has been cancelled. It never blocks.
func (c *Cancellable) IsCancelled() bool {
	return c != nil && c.cancelled.Load()
}

// ErrorIfCancelled returns an [ioerr.Cancelled] error if the token has been
// cancelled, or nil.
func (c *Cancellable) ErrorIfCancelled() error {
	if !c.IsCancelled() {
		return nil
	}
	return ioerr.NewCancelled()
}

// Cancel cancels the token. The first call performs the transition, signals
// the wakeup (if any descriptor is outstanding), then invokes every connected
// listener in registration order, on the calling goroutine, with no lock
// held. Subsequent calls return immediately, even if that dispatch is still
// in progress on another goroutine.
//
// If a listener panics, the remaining listeners are not invoked, and the
// panic propagates to the caller, after any goroutine waiting in
// [Cancellable.Disconnect] or [Cancellable.Reset] has been released.
func (c *Cancellable) Cancel() {
	if c == nil || c.cancelled.Load() {
		return
	}

	c.mu.Lock()
	if c.cancelled.Load() {
		c.mu.Unlock()
		return
	}
	c.cancelled.Store(true)
	c.cancelledRunning = true
	if c.wakeup != nil {
		c.wakeup.Signal()
	}
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	defer c.finishDispatch()

	for _, l := range listeners {
		if l.removed.Load() {
			continue
		}
		l.cb(c, l.data)
	}

	// a listener may drop what was the last other reference
	runtime.KeepAlive(c)
}

func (c *Cancellable) finishDispatch() {
	r := recover()
	if r != nil {
		c.logger.Crit().
			Str(`cancellable`, c.name).
			Any(`panic`, r).
			Log(`cancellable: listener panicked`)
	}

	c.mu.Lock()
	c.cancelledRunning = false
	if c.waitersPresent {
		c.cond.Broadcast()
		c.waitersPresent = false
	}
	c.mu.Unlock()

	if r != nil {
		panic(r)
	}
}

// waitDispatchLocked blocks until no cancel dispatch is in progress.
// c.mu must be held.
func (c *Cancellable) waitDispatchLocked() {
	for c.cancelledRunning {
		c.waitersPresent = true
		c.cond.Wait()
	}
}

// Reset returns a cancelled token to the uncancelled state, acknowledging the
// wakeup. If a cancel dispatch is in progress on another goroutine, Reset
// blocks until it completes.
//
// Resetting a token that is concurrently being observed by an in-flight
// operation has undefined results; reset only tokens that are idle.
func (c *Cancellable) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitDispatchLocked()
	if c.cancelled.Load() {
		if c.wakeup != nil {
			c.wakeup.Acknowledge()
		}
		c.cancelled.Store(false)
	}
}

// Connect registers cb to be invoked on cancellation, returning an id for use
// with [Cancellable.Disconnect].
//
// If the token is already cancelled, cb is invoked immediately on the calling
// goroutine, followed by destroy (if non-nil), and the returned id is 0.
// Otherwise destroy is invoked when the listener is disconnected.
//
// Listeners remain connected after they fire, so a token that is reset and
// cancelled again will invoke them again. A nil receiver returns 0 without
// invoking anything.
func (c *Cancellable) Connect(cb ListenerFunc, data any, destroy func(data any)) ListenerID {
	if c == nil {
		return 0
	}
	if cb == nil {
		panic(`cancellable: nil listener`)
	}

	c.mu.Lock()
	if c.cancelled.Load() {
		c.mu.Unlock()
		cb(c, data)
		if destroy != nil {
			destroy(data)
		}
		return 0
	}
	c.nextID++
	l := &listener{
		id:      c.nextID,
		cb:      cb,
		data:    data,
		destroy: destroy,
	}
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()

	return l.id
}

// Disconnect removes a listener. If the listener is being invoked on another
// goroutine, Disconnect blocks until that dispatch has completed, so on
// return the listener either never ran, or has finished running. The
// listener's destroy func, if any, is invoked before returning.
//
// Disconnect must not be called from a listener of the same token, as it
// would wait on the dispatch it is part of. An id of 0 is ignored.
func (c *Cancellable) Disconnect(id ListenerID) {
	if c == nil || id == 0 {
		return
	}
	c.mu.Lock()
	c.waitDispatchLocked()
	l := c.removeLocked(id)
	c.mu.Unlock()
	if l != nil && l.destroy != nil {
		l.destroy(l.data)
	}
}

// Detach removes a listener without waiting for an in-flight dispatch. If a
// dispatch has already passed the listener, it may still be running (or about
// to run) when Detach returns. A dispatch that has not yet reached the
// listener will skip it. The destroy func, if any, is invoked before
// returning.
//
// Detach is safe to call from within a listener.
func (c *Cancellable) Detach(id ListenerID) {
	if c == nil || id == 0 {
		return
	}
	c.mu.Lock()
	l := c.removeLocked(id)
	c.mu.Unlock()
	if l != nil && l.destroy != nil {
		l.destroy(l.data)
	}
}

func (c *Cancellable) removeLocked(id ListenerID) *listener {
	i := slices.IndexFunc(c.listeners, func(l *listener) bool { return l.id == id })
	if i < 0 {
		return nil
	}
	l := c.listeners[i]
	l.removed.Store(true)
	c.listeners = slices.Delete(c.listeners, i, i+1)
	return l
}

// MakePollFD returns a descriptor that becomes readable when the token is
// cancelled, for use with poll(2) (POLLIN) or equivalent. If the token is
// already cancelled, the descriptor is readable immediately.
//
// Each successful call must be balanced by [Cancellable.ReleaseFD]. The
// boolean is false if c is nil, or no descriptor could be allocated.
func (c *Cancellable) MakePollFD() (wakeup.FD, bool) {
	var fd wakeup.FD
	if c == nil {
		return fd, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wakeup == nil {
		w, err := wakeup.New()
		if err != nil {
			c.logger.Warning().
				Str(`cancellable`, c.name).
				Err(err).
				Log(`cancellable: failed to create wakeup`)
			return fd, false
		}
		c.wakeupCleanup = runtime.AddCleanup(c, func(w *wakeup.Wakeup) { _ = w.Close() }, w)
		c.wakeup = w
		if c.cancelled.Load() {
			w.Signal()
		}
	}

	c.fdRefcount++
	return c.wakeup.FD(), true
}

// FD is an alias for [Cancellable.MakePollFD].
func (c *Cancellable) FD() (wakeup.FD, bool) {
	return c.MakePollFD()
}

// ReleaseFD releases a descriptor acquired by [Cancellable.MakePollFD]. When
// the last is released, the underlying wakeup is closed.
func (c *Cancellable) ReleaseFD() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fdRefcount == 0 {
		c.logger.Err().
			Str(`cancellable`, c.name).
			Log(`cancellable: ReleaseFD called without a matching MakePollFD`)
		return
	}

	c.fdRefcount--
	if c.fdRefcount == 0 {
		c.wakeupCleanup.Stop()
		c.wakeupCleanup = runtime.Cleanup{}
		if err := c.wakeup.Close(); err != nil {
			c.logger.Warning().
				Str(`cancellable`, c.name).
				Err(err).
				Log(`cancellable: failed to close wakeup`)
		}
		c.wakeup = nil
	}
}

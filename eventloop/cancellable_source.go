package eventloop

import (
	"runtime"
	"weak"

	"github.com/joeycumines/go-cancelio/cancellable"
)

// CancellableSource is a [Source] that becomes ready when its cancellable is
// cancelled, dispatching its callback with the cancellable.
type CancellableSource struct {
	*Source
	cancellable *cancellable.Cancellable
	callback    func(c *cancellable.Cancellable) bool
	listener    cancellable.ListenerID
}

// NewCancellableSource returns a source that becomes ready once c is
// cancelled. If c is nil, the source never becomes ready.
//
// After dispatch the ready time is returned to [ReadyNever], since
// cancellation is monotonic and there is nothing further to report, unless
// the cancellable is reset and cancelled again.
func NewCancellableSource(c *cancellable.Cancellable) *CancellableSource {
	cs := &CancellableSource{cancellable: c}
	cs.Source = NewSource(`cancellable`, cs.dispatch)

	if c == nil {
		return cs
	}

	// the listener must not keep the source alive, an unattached source
	// that is dropped is cleaned up below
	ref := weak.Make(cs)
	cs.listener = c.Connect(func(*cancellable.Cancellable, any) {
		if s := ref.Value(); s != nil && !s.IsDestroyed() {
			s.SetReadyTime(ReadyImmediate)
		}
	}, nil, nil)

	cs.Source.SetDisposeFunc(func(*Source) {
		// must not wait: the dispose may run on the goroutine that is
		// currently dispatching the cancellable's listeners
		c.Detach(cs.listener)
	})
	runtime.AddCleanup(cs, func(detach cancellableDetach) {
		detach.c.Detach(detach.id)
	}, cancellableDetach{c: c, id: cs.listener})

	return cs
}

type cancellableDetach struct {
	c  *cancellable.Cancellable
	id cancellable.ListenerID
}

// Cancellable returns the cancellable the source watches, which may be nil.
func (cs *CancellableSource) Cancellable() *cancellable.Cancellable {
	return cs.cancellable
}

// SetCallback sets the func dispatched on cancellation. Returning
// [SourceRemove] destroys the source.
func (cs *CancellableSource) SetCallback(fn func(c *cancellable.Cancellable) bool) {
	cs.Source.mu.Lock()
	cs.callback = fn
	cs.Source.mu.Unlock()
}

// SetDisposeFunc sets a func called when the source is destroyed, after the
// listener on the cancellable has been detached.
func (cs *CancellableSource) SetDisposeFunc(fn func(*Source)) {
	cs.Source.SetDisposeFunc(func(s *Source) {
		cs.cancellable.Detach(cs.listener)
		if fn != nil {
			fn(s)
		}
	})
}

func (cs *CancellableSource) dispatch(s *Source) bool {
	s.SetReadyTime(ReadyNever)
	s.mu.Lock()
	cb := cs.callback
	s.mu.Unlock()
	if cb == nil {
		return SourceRemove
	}
	return cb(cs.cancellable)
}

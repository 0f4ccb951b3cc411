package eventloop

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Source priorities. Lower values are dispatched first.
const (
	PriorityHigh        = -100
	PriorityDefault     = 0
	PriorityHighIdle    = 100
	PriorityDefaultIdle = 200
	PriorityLow         = 300
)

// Ready times with special meaning, see [Source.SetReadyTime].
const (
	ReadyNever     int64 = -1
	ReadyImmediate int64 = 0
)

// Callback return values for [Source] dispatch and callbacks.
const (
	SourceContinue = true
	SourceRemove   = false
)

var monotonicEpoch = time.Now()

// MonotonicTime returns the loop clock, in microseconds. Ready times are
// expressed against it.
func MonotonicTime() int64 {
	return int64(time.Since(monotonicEpoch) / time.Microsecond)
}

// DispatchFunc is called by the loop when a source is ready. Returning
// [SourceRemove] destroys the source.
type DispatchFunc func(s *Source) bool

// Source is a unit of work the [Loop] dispatches when it becomes ready.
//
// A source is ready when its ready time has been reached (0 meaning
// immediately, -1 never), or when any of its child sources is ready. The
// ready time may be changed from any goroutine, and doing so wakes the loop
// the source is attached to.
//
// A source is not dispatched recursively: while its dispatch is running it
// is not considered ready.
type Source struct {
	dispatch DispatchFunc
	callback func() bool

	// guarded by mu
	dispose  func(*Source)
	loop     *Loop
	parent   *Source
	children []*Source

	name string

	readyTime atomic.Int64
	priority  atomic.Int32

	mu sync.Mutex

	// guarded by loop.mu once attached
	seq         uint64
	dispatching bool

	id        uint32
	destroyed atomic.Bool
}

// NewSource returns an unattached source, that calls dispatch when ready.
// The ready time is initially [ReadyNever].
func NewSource(name string, dispatch DispatchFunc) *Source {
	if dispatch == nil {
		panic(`eventloop: nil dispatch func`)
	}
	s := &Source{dispatch: dispatch, name: name}
	s.readyTime.Store(ReadyNever)
	return s
}

// Name returns the name the source was created with.
func (s *Source) Name() string {
	return s.name
}

// ID returns the id assigned by [Source.Attach], or 0.
func (s *Source) ID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Loop returns the loop the source is attached to, or nil.
func (s *Source) Loop() *Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// SetCallback sets the callback invoked by the dispatch func of the
// built-in idle and timeout sources.
func (s *Source) SetCallback(fn func() bool) {
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

// Callback returns the callback set by [Source.SetCallback].
func (s *Source) Callback() func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callback
}

// SetDisposeFunc sets a func called exactly once when the source is
// destroyed, after it has been removed from its loop.
func (s *Source) SetDisposeFunc(fn func(*Source)) {
	s.mu.Lock()
	s.dispose = fn
	s.mu.Unlock()
}

// Priority returns the dispatch priority.
func (s *Source) Priority() int {
	return int(s.priority.Load())
}

// SetPriority sets the dispatch priority of the source and its children.
func (s *Source) SetPriority(priority int) {
	s.priority.Store(int32(priority))
	s.mu.Lock()
	children := slices.Clone(s.children)
	s.mu.Unlock()
	for _, child := range children {
		child.SetPriority(priority)
	}
}

// ReadyTime returns the ready time, see [Source.SetReadyTime].
func (s *Source) ReadyTime() int64 {
	return s.readyTime.Load()
}

// SetReadyTime sets when the source becomes ready: [ReadyImmediate],
// [ReadyNever], or a [MonotonicTime] deadline. It is safe to call from any
// goroutine, and wakes the loop the source is attached to.
func (s *Source) SetReadyTime(t int64) {
	if s.readyTime.Swap(t) == t {
		return
	}
	if l := s.Loop(); l != nil {
		l.wake()
	}
}

// IsDestroyed reports whether [Source.Destroy] has been called.
func (s *Source) IsDestroyed() bool {
	return s.destroyed.Load()
}

// Attach adds the source (and its children) to l, returning the source id.
func (s *Source) Attach(l *Loop) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed.Load() {
		return 0, ErrSourceDestroyed
	}
	if s.loop != nil {
		return 0, ErrSourceAttached
	}
	if err := l.add(s); err != nil {
		return 0, err
	}
	s.loop = l
	for _, child := range s.children {
		if _, err := child.Attach(l); err != nil {
			l.logger.Warning().
				Str(`source`, child.name).
				Err(err).
				Log(`eventloop: failed to attach child source`)
		}
	}
	l.wake()
	return s.id, nil
}

// Destroy removes the source from its loop, destroys its children, and calls
// the dispose func. It is idempotent, and may be called from any goroutine,
// including from the source's own dispatch.
func (s *Source) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	l := s.loop
	children := s.children
	s.children = nil
	parent := s.parent
	dispose := s.dispose
	s.dispose = nil
	s.mu.Unlock()

	if l != nil {
		l.remove(s)
	}
	if parent != nil {
		parent.RemoveChildSource(s)
	}
	for _, child := range children {
		child.Destroy()
	}
	if dispose != nil {
		dispose(s)
	}
}

// AddChildSource makes child part of s: it is attached with s, shares its
// priority, makes s ready whenever it is ready, and is destroyed with s.
// Both are still dispatched.
func (s *Source) AddChildSource(child *Source) {
	if child == s {
		panic(`eventloop: source cannot be its own child`)
	}
	child.mu.Lock()
	if child.parent != nil {
		child.mu.Unlock()
		panic(`eventloop: source already has a parent`)
	}
	child.parent = s
	child.mu.Unlock()

	child.SetPriority(s.Priority())

	s.mu.Lock()
	s.children = append(s.children, child)
	l := s.loop
	s.mu.Unlock()

	if l != nil {
		if _, err := child.Attach(l); err != nil {
			l.logger.Warning().
				Str(`source`, child.name).
				Err(err).
				Log(`eventloop: failed to attach child source`)
		}
	}
}

// RemoveChildSource detaches child from s, destroying it.
func (s *Source) RemoveChildSource(child *Source) {
	s.mu.Lock()
	i := slices.Index(s.children, child)
	if i >= 0 {
		s.children = slices.Delete(s.children, i, i+1)
	}
	s.mu.Unlock()
	if i < 0 {
		return
	}
	child.mu.Lock()
	child.parent = nil
	child.mu.Unlock()
	child.Destroy()
}

// isReady reports whether s, or any of its children, is ready at now.
func (s *Source) isReady(now int64) bool {
	if t := s.readyTime.Load(); t == ReadyImmediate || (t > 0 && t <= now) {
		return true
	}
	s.mu.Lock()
	children := s.children
	s.mu.Unlock()
	for _, child := range children {
		if !child.IsDestroyed() && child.isReady(now) {
			return true
		}
	}
	return false
}

// nextDeadline returns the earliest future ready time of s and its
// children, or ReadyNever.
func (s *Source) nextDeadline() int64 {
	next := ReadyNever
	if t := s.readyTime.Load(); t > 0 {
		next = t
	}
	s.mu.Lock()
	children := s.children
	s.mu.Unlock()
	for _, child := range children {
		if t := child.nextDeadline(); t > 0 && (next == ReadyNever || t < next) {
			next = t
		}
	}
	return next
}

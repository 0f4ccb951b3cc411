package eventloop

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-cancelio/wakeup"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/goroutineid"
	"github.com/joeycumines/logiface"
)

// Loop dispatches [Source] instances, on a single goroutine at a time.
//
// Sources may be attached, and their ready times changed, from any
// goroutine. The loop sleeps on a [wakeup.Wakeup] until the earliest ready
// time, and any change to the set of sources or their ready times signals it.
//
// Each iteration dispatches the ready sources of the most urgent priority
// present, oldest first.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	logger       *logiface.Logger[logiface.Event]
	panicLimiter *catrate.Limiter
	wakeup       *wakeup.Wakeup
	done         chan struct{}
	name         string

	// guarded by mu
	sources []*Source

	mu      sync.Mutex
	nextSeq uint64
	nextID  uint32

	state    loopState
	owner    atomic.Int64
	depth    int // only touched by the owner
	stopOnce sync.Once
	running  atomic.Bool
}

// New creates a loop. It fails if the wakeup descriptor cannot be allocated,
// or an option is invalid.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	limiter, err := newPanicLimiter(cfg.panicLogRate)
	if err != nil {
		return nil, err
	}

	w, err := wakeup.New()
	if err != nil {
		return nil, err
	}

	return &Loop{
		logger:       cfg.logger,
		panicLimiter: limiter,
		wakeup:       w,
		done:         make(chan struct{}),
		name:         cfg.name,
	}, nil
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Done is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// wake signals the wakeup, unless it has been closed. Holding mu orders it
// against the close in terminate.
func (l *Loop) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Load() != StateTerminated {
		l.wakeup.Signal()
	}
}

func (l *Loop) add(s *Source) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return ErrLoopTerminated
	}
	l.nextID++
	if l.nextID == 0 {
		l.nextID++
	}
	s.id = l.nextID
	l.nextSeq++
	s.seq = l.nextSeq
	l.sources = append(l.sources, s)
	return nil
}

func (l *Loop) remove(s *Source) {
	l.mu.Lock()
	if i := slices.Index(l.sources, s); i >= 0 {
		l.sources = slices.Delete(l.sources, i, i+1)
	}
	l.mu.Unlock()
}

// FindSourceByID returns the attached source with the given id, or nil.
func (l *Loop) FindSourceByID(id uint32) *Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.sources {
		if s.id == id {
			return s
		}
	}
	return nil
}

// acquire makes the calling goroutine the dispatcher, reentrantly.
func (l *Loop) acquire() bool {
	self := goroutineid.Get()
	if l.owner.CompareAndSwap(0, self) || l.owner.Load() == self {
		l.depth++
		return true
	}
	return false
}

func (l *Loop) release() {
	l.depth--
	if l.depth == 0 {
		l.owner.Store(0)
	}
}

// IsOwner reports whether the calling goroutine is currently dispatching l.
func (l *Loop) IsOwner() bool {
	return l.owner.Load() == goroutineid.Get()
}

// Iterate runs a single iteration: dispatching the ready sources of the most
// urgent priority. If mayBlock is true and nothing is ready, it first waits
// until something is. It returns true if any source was dispatched.
//
// Iterate may be called on a loop that is not running, to drive it from the
// calling goroutine, and may be nested within a dispatch. It returns false
// immediately if another goroutine is dispatching l, or l has terminated.
//
// While dispatching, l is the thread-default loop of the calling goroutine.
func (l *Loop) Iterate(mayBlock bool) bool {
	if l.state.Load() == StateTerminated || !l.acquire() {
		return false
	}
	defer l.release()

	ready, timeout := l.collect()
	if len(ready) == 0 && mayBlock && !l.state.IsTerminal() {
		l.state.TryTransition(StateRunning, StateSleeping)
		if _, err := l.wakeup.Wait(timeout); err != nil {
			l.logger.Err().
				Str(`loop`, l.name).
				Err(err).
				Log(`eventloop: wait failed`)
		}
		l.state.TryTransition(StateSleeping, StateRunning)
		ready, _ = l.collect()
	}
	if len(ready) == 0 {
		return false
	}

	pushed := ThreadDefault() != l
	if pushed {
		l.PushThreadDefault()
	}
	for _, s := range ready {
		l.dispatchSource(s)
	}
	if pushed {
		l.PopThreadDefault()
	}
	return true
}

// collect acknowledges the wakeup, then gathers the ready sources of the
// most urgent priority, marking them as dispatching. If none are ready, it
// returns how long to wait for the earliest deadline (negative: forever).
func (l *Loop) collect() ([]*Source, time.Duration) {
	l.wakeup.Acknowledge()

	l.mu.Lock()
	candidates := make([]*Source, 0, len(l.sources))
	for _, s := range l.sources {
		if !s.dispatching {
			candidates = append(candidates, s)
		}
	}
	l.mu.Unlock()

	now := MonotonicTime()
	var ready []*Source
	next := ReadyNever
	for _, s := range candidates {
		if s.IsDestroyed() {
			continue
		}
		if s.isReady(now) {
			ready = append(ready, s)
		} else if t := s.nextDeadline(); t > 0 && (next == ReadyNever || t < next) {
			next = t
		}
	}

	if len(ready) == 0 {
		if next == ReadyNever {
			return nil, -1
		}
		return nil, time.Duration(next-now) * time.Microsecond
	}

	// ready sources of the most urgent priority, FIFO by attach order
	best := slices.MinFunc(ready, func(a, b *Source) int {
		return cmp.Compare(a.Priority(), b.Priority())
	}).Priority()
	ready = slices.DeleteFunc(ready, func(s *Source) bool { return s.Priority() != best })

	l.mu.Lock()
	slices.SortFunc(ready, func(a, b *Source) int { return cmp.Compare(a.seq, b.seq) })
	ready = slices.DeleteFunc(ready, func(s *Source) bool { return s.dispatching || s.IsDestroyed() })
	for _, s := range ready {
		s.dispatching = true
	}
	l.mu.Unlock()

	return ready, 0
}

func (l *Loop) dispatchSource(s *Source) {
	keep := SourceRemove
	defer func() {
		l.mu.Lock()
		s.dispatching = false
		l.mu.Unlock()
		if !keep {
			s.Destroy()
		}
	}()
	if s.IsDestroyed() {
		return
	}
	keep = l.safeDispatch(s)
}

// safeDispatch runs the dispatch func, recovering (and logging) a panic,
// which removes the source.
func (l *Loop) safeDispatch(s *Source) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logPanic(s, r)
			keep = SourceRemove
		}
	}()
	return s.dispatch(s)
}

// Run dispatches sources until the loop is shut down or ctx is done, in
// which case ctx.Err() is returned. A loop may only be run once.
func (l *Loop) Run(ctx context.Context) error {
	if l.IsOwner() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.IsTerminal() {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}
	l.running.Store(true)
	l.logDebug(`eventloop: run started`)

	stopWatch := context.AfterFunc(ctx, l.requestStop)
	defer stopWatch()

	for !l.state.IsTerminal() {
		l.Iterate(true)
	}

	l.terminate()
	l.logDebug(`eventloop: run stopped`)
	return ctx.Err()
}

// requestStop moves the loop to StateTerminating, and wakes it.
func (l *Loop) requestStop() {
	for {
		current := l.state.Load()
		if current == StateTerminating || current == StateTerminated {
			return
		}
		if l.state.TryTransition(current, StateTerminating) {
			l.wake()
			return
		}
	}
}

// terminate destroys all remaining sources and releases the wakeup.
func (l *Loop) terminate() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		remaining := l.sources
		l.sources = nil
		l.mu.Unlock()

		for _, s := range remaining {
			s.Destroy()
		}

		l.mu.Lock()
		l.state.Store(StateTerminated)
		_ = l.wakeup.Close()
		l.mu.Unlock()
		close(l.done)
	})
}

// Shutdown stops the loop. If it is running, the current iteration completes,
// then remaining sources are destroyed. Shutdown blocks until termination
// completes, or ctx is done. It must not be called from the loop itself, use
// [Loop.Quit] instead.
func (l *Loop) Shutdown(ctx context.Context) error {
	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}
	l.requestStop()
	if !l.running.Load() {
		l.terminate()
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit requests the loop stop, without waiting.
func (l *Loop) Quit() {
	l.requestStop()
	if !l.running.Load() {
		l.terminate()
	}
}

// Close is [Loop.Quit], returning [ErrLoopTerminated] if already terminated.
func (l *Loop) Close() error {
	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}
	l.Quit()
	return nil
}

// Submit queues fn to run once on the loop, at [PriorityDefault].
func (l *Loop) Submit(fn func()) error {
	return l.SubmitInternal(PriorityDefault, fn)
}

// SubmitInternal queues fn to run once on the loop, at the given priority.
func (l *Loop) SubmitInternal(priority int, fn func()) error {
	s := NewIdleSource()
	s.SetPriority(priority)
	s.SetCallback(func() bool {
		fn()
		return SourceRemove
	})
	_, err := s.Attach(l)
	return err
}

// ScheduleTimer runs fn once on the loop, after delay.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (*Source, error) {
	s := NewTimeoutSource(delay)
	s.SetCallback(func() bool {
		fn()
		return SourceRemove
	})
	if _, err := s.Attach(l); err != nil {
		return nil, err
	}
	return s, nil
}

package eventloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateAwake → StateRunning            [Run()]
//	StateRunning → StateSleeping         [Iterate, waiting on the wakeup]
//	StateSleeping → StateRunning         [wakeup signalled or timeout]
//	StateAwake/Running/Sleeping → StateTerminating [Shutdown(), Close(), ctx done]
//	StateTerminating → StateTerminated   [sources destroyed, wakeup closed]
//	StateTerminated → (terminal)
//
// A loop that is never Run may still be driven via [Loop.Iterate], in which
// case it remains StateAwake until shut down.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = 0
	// StateTerminated indicates the loop has been stopped and is fully shut down.
	StateTerminated LoopState = 1
	// StateSleeping indicates the loop is blocked waiting for a source to become ready.
	StateSleeping LoopState = 2
	// StateRunning indicates the loop is actively dispatching sources.
	StateRunning LoopState = 3
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating LoopState = 4
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a CAS-driven state cell.
type loopState struct {
	v atomic.Uint64
}

// Load returns the current state atomically.
func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store unconditionally sets the state. Only valid for irreversible states.
func (s *loopState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to move from one state to another, returning false
// if the current state was not from.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal reports whether the loop is terminating or terminated.
func (s *loopState) IsTerminal() bool {
	st := s.Load()
	return st == StateTerminating || st == StateTerminated
}

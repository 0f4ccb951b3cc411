package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("eventloop: cannot call Run() from within the loop")

	// ErrSourceAttached is returned when attaching a source that is already attached.
	ErrSourceAttached = errors.New("eventloop: source is already attached")

	// ErrSourceDestroyed is returned when attaching a source that has been destroyed.
	ErrSourceDestroyed = errors.New("eventloop: source has been destroyed")

	// ErrTaskNotComplete is returned by Task.Propagate before the task has completed.
	ErrTaskNotComplete = errors.New("eventloop: task has not completed")
)

// PanicError wraps a value recovered from a panicking task function.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("eventloop: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As].
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

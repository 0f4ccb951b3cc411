// Package cancellable implements a thread-safe, single-shot cancellation
// token, observable without locking, via a pollable descriptor, or via
// ordered listener callbacks.
//
// # Dispatch
//
// [Cancellable.Cancel] transitions the token exactly once. While holding the
// token's mutex it marks a dispatch as running, and signals the wakeup
// descriptor (if one is outstanding). It then releases the mutex, and invokes
// the listeners registered at that point, in registration order, on the
// calling goroutine. Listeners may therefore call back into any cancellable,
// including this one, with two exceptions: [Cancellable.Disconnect] and
// [Cancellable.Reset] on the same token wait for the dispatch to finish, and
// would deadlock.
//
// # Descriptors
//
// [Cancellable.MakePollFD] lazily allocates a [wakeup.Wakeup], refcounted by
// [Cancellable.ReleaseFD]. Blocking backends poll it alongside their own
// descriptor, so a cancel from another goroutine interrupts the wait.
//
// # Current stack
//
// For APIs that cannot take a cancellable parameter, each goroutine has a
// stack of "current" cancellables, see [Cancellable.PushCurrent] and
// [Current].
package cancellable

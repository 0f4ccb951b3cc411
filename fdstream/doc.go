// Package fdstream provides a [stream.Stream] backend that reads from a raw
// POSIX file descriptor, such as a pipe or socket.
//
// Blocking reads wait for the descriptor, and the cancellable's poll
// descriptor (see [cancellable.Cancellable.MakePollFD]), so cancelling from
// another goroutine interrupts a read that is waiting for data.
package fdstream

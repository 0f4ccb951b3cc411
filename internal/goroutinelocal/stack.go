// Package goroutinelocal provides goroutine-confined stacks.
//
// Go deliberately has no thread-local storage. The few APIs that need an
// implicit "current" value (the current cancellable, the thread-default event
// loop) use [Stack] instead, which confines each entry to the goroutine that
// pushed it, keyed by [goroutineid.Get].
package goroutinelocal

import (
	"sync"

	"github.com/joeycumines/goroutineid"
)

// Stack is a LIFO of values, one per goroutine. The zero value is ready to use.
//
// Push and Pop must be balanced on the goroutine that performed the Push.
// Entries are removed once empty, so goroutines that exit with a balanced
// stack leave nothing behind.
type Stack[T comparable] struct {
	m sync.Map // int64 -> *[]T
}

// Push adds v to the top of the calling goroutine's stack.
func (x *Stack[T]) Push(v T) {
	id := goroutineid.Get()
	if s, ok := x.m.Load(id); ok {
		p := s.(*[]T)
		*p = append(*p, v)
		return
	}
	s := []T{v}
	x.m.Store(id, &s)
}

// Pop removes and returns the top of the calling goroutine's stack.
func (x *Stack[T]) Pop() (v T, ok bool) {
	id := goroutineid.Get()
	s, found := x.m.Load(id)
	if !found {
		return v, false
	}
	p := s.(*[]T)
	n := len(*p)
	v = (*p)[n-1]
	if n == 1 {
		x.m.Delete(id)
	} else {
		var zero T
		(*p)[n-1] = zero
		*p = (*p)[:n-1]
	}
	return v, true
}

// Top returns the top of the calling goroutine's stack without removing it.
func (x *Stack[T]) Top() (v T, ok bool) {
	s, found := x.m.Load(goroutineid.Get())
	if !found {
		return v, false
	}
	p := s.(*[]T)
	return (*p)[len(*p)-1], true
}

// Len returns the depth of the calling goroutine's stack.
func (x *Stack[T]) Len() int {
	s, found := x.m.Load(goroutineid.Get())
	if !found {
		return 0
	}
	return len(*s.(*[]T))
}

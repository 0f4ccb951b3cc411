package cancellable

import (
	"github.com/joeycumines/go-cancelio/internal/goroutinelocal"
)

var currentStack goroutinelocal.Stack[*Cancellable]

// PushCurrent makes c the current cancellable for the calling goroutine, see
// [Current]. It must be balanced by a [Cancellable.PopCurrent] on the same
// goroutine.
//
// Prefer passing the cancellable explicitly. The current stack exists for
// code that cannot accept one as a parameter.
func (c *Cancellable) PushCurrent() {
	if c == nil {
		panic(`cancellable: PushCurrent on nil cancellable`)
	}
	currentStack.Push(c)
}

// PopCurrent undoes the matching [Cancellable.PushCurrent]. It panics if c
// is not at the top of the calling goroutine's stack.
func (c *Cancellable) PopCurrent() {
	if top, ok := currentStack.Top(); !ok || top != c {
		panic(`cancellable: PopCurrent called on a cancellable that is not current`)
	}
	currentStack.Pop()
}

// Current returns the top of the calling goroutine's current stack, or nil.
func Current() *Cancellable {
	c, _ := currentStack.Top()
	return c
}

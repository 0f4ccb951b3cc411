package eventloop

import (
	"github.com/joeycumines/go-cancelio/internal/goroutinelocal"
)

var threadDefault goroutinelocal.Stack[*Loop]

// PushThreadDefault makes l the thread-default loop of the calling
// goroutine. Asynchronous operations started on this goroutine deliver their
// completions to it. It must be balanced by [Loop.PopThreadDefault].
func (l *Loop) PushThreadDefault() {
	threadDefault.Push(l)
}

// PopThreadDefault undoes the matching [Loop.PushThreadDefault], panicking
// if l is not the calling goroutine's thread-default loop.
func (l *Loop) PopThreadDefault() {
	if top, ok := threadDefault.Top(); !ok || top != l {
		panic(`eventloop: PopThreadDefault called on a loop that is not the thread default`)
	}
	threadDefault.Pop()
}

// ThreadDefault returns the calling goroutine's thread-default loop, or nil.
func ThreadDefault() *Loop {
	l, _ := threadDefault.Top()
	return l
}

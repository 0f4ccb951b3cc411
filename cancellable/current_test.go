package cancellable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent_PushPop(t *testing.T) {
	assert.Nil(t, Current())

	a, b := New(), New()
	a.PushCurrent()
	assert.Same(t, a, Current())
	b.PushCurrent()
	assert.Same(t, b, Current())

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Nil(t, Current(), "the current stack is confined to its goroutine")
	}()
	<-done

	b.PopCurrent()
	assert.Same(t, a, Current())
	a.PopCurrent()
	assert.Nil(t, Current())
}

func TestCurrent_PopMismatchPanics(t *testing.T) {
	a, b := New(), New()
	a.PushCurrent()
	defer a.PopCurrent()
	assert.Panics(t, b.PopCurrent)
	assert.Same(t, a, Current(), "a failed pop must leave the stack untouched")
}

func TestCurrent_PopEmptyPanics(t *testing.T) {
	assert.Panics(t, New().PopCurrent)
	assert.Panics(t, func() { (*Cancellable)(nil).PushCurrent() })
}

package cancellable

import (
	"context"

	"github.com/joeycumines/go-cancelio/ioerr"
)

type contextKey struct{}

// NewContext returns a copy of ctx carrying c, see [FromContext].
func NewContext(ctx context.Context, c *Cancellable) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the cancellable stored by [NewContext], or nil.
func FromContext(ctx context.Context) *Cancellable {
	c, _ := ctx.Value(contextKey{}).(*Cancellable)
	return c
}

// WithContext bridges a context and a new cancellable. The cancellable is
// cancelled when parent is done, and the returned context (which also
// carries the cancellable, see [FromContext]) is cancelled, with an
// [ioerr.Cancelled] cause, when the cancellable is.
//
// The stop func releases the link, and cancels the returned context. It
// must not be called from a listener of the returned cancellable.
func WithContext(parent context.Context, opts ...Option) (*Cancellable, context.Context, func()) {
	c := New(opts...)
	ctx, cancel := context.WithCancelCause(parent)
	id := c.Connect(func(*Cancellable, any) {
		cancel(ioerr.NewCancelled())
	}, nil, nil)
	stopAfter := context.AfterFunc(parent, c.Cancel)
	stop := func() {
		stopAfter()
		c.Disconnect(id)
		cancel(context.Canceled)
	}
	return c, NewContext(ctx, c), stop
}

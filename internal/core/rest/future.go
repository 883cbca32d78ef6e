package rest

import (
	"context"
	"sync"
)

// Future is the pending result of a submitted request. It is resolved
// exactly once with either an envelope or an error.
type Future struct {
	once sync.Once
	done chan struct{}
	env  *Envelope
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func failedFuture(err error) *Future {
	f := newFuture()
	f.resolve(nil, err)
	return f
}

func (f *Future) resolve(env *Envelope, err error) {
	f.once.Do(func() {
		f.env, f.err = env, err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result blocks until the request finishes.
func (f *Future) Result() (*Envelope, error) {
	<-f.done
	return f.env, f.err
}

// Wait blocks until the request finishes or ctx ends. Giving up does not
// cancel the request; it still completes and updates rate-limit state.
func (f *Future) Wait(ctx context.Context) (*Envelope, error) {
	select {
	case <-f.done:
		return f.env, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

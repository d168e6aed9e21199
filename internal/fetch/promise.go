package fetch

import (
	"context"
	"sync"
)

// Promise is a single-assignment result slot. It may be settled from any
// goroutine and awaited by any number of goroutines; only the first
// settlement wins, later attempts are dropped.
type Promise[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve fulfills the promise with val. Reports whether this call was the
// one that settled it.
func (p *Promise[T]) Resolve(val T) bool {
	return p.settle(val, nil)
}

// Reject fails the promise with err.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

func (p *Promise[T]) settle(val T, err error) bool {
	won := false
	p.once.Do(func() {
		p.val = val
		p.err = err
		won = true
		close(p.done)
	})
	return won
}

// Done is closed once the promise is settled.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles or ctx is cancelled. It does not
// consume the result; repeated calls return the same outcome.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

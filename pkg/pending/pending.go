// Package pending provides a settle-once asynchronous result.
//
// A Result is created unsettled and later resolved with a value or rejected
// with an error, exactly once. Continuations registered with Then run on their
// own goroutine after the result settles.
package pending

import (
	"context"
	"sync"
)

// Result is an eventually-settled value.
type Result struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

// New creates an unsettled result.
func New() *Result {
	return &Result{done: make(chan struct{})}
}

// Resolved creates a result already resolved with v.
func Resolved(v any) *Result {
	r := New()
	r.Resolve(v)
	return r
}

// Rejected creates a result already rejected with err.
func Rejected(err error) *Result {
	r := New()
	r.Reject(err)
	return r
}

// Go runs fn on a new goroutine and settles the result with its outcome.
func Go(fn func() (any, error)) *Result {
	r := New()
	go func() {
		v, err := fn()
		if err != nil {
			r.Reject(err)
			return
		}
		r.Resolve(v)
	}()
	return r
}

// Resolve settles r with v. It reports false if r was already settled.
func (r *Result) Resolve(v any) bool {
	settled := false
	r.once.Do(func() {
		r.value = v
		close(r.done)
		settled = true
	})
	return settled
}

// Reject settles r with err. It reports false if r was already settled.
func (r *Result) Reject(err error) bool {
	settled := false
	r.once.Do(func() {
		r.err = err
		close(r.done)
		settled = true
	})
	return settled
}

// Done is closed once r settles.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Settled reports whether r has settled.
func (r *Result) Settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Await blocks until r settles or ctx ends.
func (r *Result) Await(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then registers continuations. Either may be nil.
func (r *Result) Then(onSuccess func(any), onError func(error)) {
	go func() {
		<-r.done
		if r.err != nil {
			if onError != nil {
				onError(r.err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(r.value)
		}
	}()
}

// Pipe settles to with r's outcome once r settles.
func (r *Result) Pipe(to *Result) {
	r.Then(func(v any) { to.Resolve(v) }, func(err error) { to.Reject(err) })
}

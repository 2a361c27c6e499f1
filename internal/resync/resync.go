// Package resync provides the Mediator and Resyncer rendezvous
// primitives: a one-shot channel that lets a worker goroutine hand a
// result or an error back to a waiter, with a bounded-time Get.
//
// The reference implementation polls a lock with exponential backoff
// because its underlying primitive has no native timed-wait. Go's
// context.Context plus a close-once channel gives the same externally
// observable behavior -- immediate return if the result is already set,
// block otherwise, honor a deadline -- without hand-rolled polling. This
// is the "native timed wait primitive" spec.md's design notes call for.
package resync

import (
	"context"
	"errors"
)

// ErrWaitTimeout is returned by Get when its context is done before a
// result or error has been set.
var ErrWaitTimeout = errors.New("resync: wait timed out before a result was available")

// Mediator is a one-shot future: exactly one of SetResult/SetError is
// expected to be called, and at most one goroutine is expected to call
// Get.
type Mediator struct {
	done  chan struct{}
	ok    bool
	value any
	err   error
}

// NewMediator returns an unready Mediator.
func NewMediator() *Mediator {
	return &Mediator{done: make(chan struct{})}
}

// SetResult marks m ready with a successful value. Must be called at
// most once across SetResult/SetError.
func (m *Mediator) SetResult(v any) {
	m.value = v
	m.ok = true
	close(m.done)
}

// SetError marks m ready with a failure. Must be called at most once
// across SetResult/SetError.
func (m *Mediator) SetError(err error) {
	m.err = err
	m.ok = false
	close(m.done)
}

// Get blocks until a result is available or ctx is done. If ctx carries
// no deadline, Get blocks indefinitely. On timeout, returns
// ErrWaitTimeout. Otherwise returns the stored value, or the stored
// error if SetError was called.
func (m *Mediator) Get(ctx context.Context) (any, error) {
	select {
	case <-m.done:
		if m.ok {
			return m.value, nil
		}
		return nil, m.err
	case <-ctx.Done():
		select {
		case <-m.done:
			// Result landed concurrently with the deadline; prefer it.
			if m.ok {
				return m.value, nil
			}
			return nil, m.err
		default:
			return nil, ErrWaitTimeout
		}
	}
}

// Resyncer wraps an arbitrary func() (any, error) with a Mediator: Start
// runs it in a goroutine, Get delegates to the Mediator.
type Resyncer struct {
	fn func() (any, error)
	m  *Mediator
}

// NewResyncer builds a Resyncer around fn. Start must be called before
// Get can return anything but a timeout.
func NewResyncer(fn func() (any, error)) *Resyncer {
	return &Resyncer{fn: fn, m: NewMediator()}
}

// Start runs fn in a new goroutine, forwarding its return value or
// error to the underlying Mediator.
func (r *Resyncer) Start() {
	go func() {
		v, err := r.fn()
		if err != nil {
			r.m.SetError(err)
			return
		}
		r.m.SetResult(v)
	}()
}

// Get delegates to the underlying Mediator.
func (r *Resyncer) Get(ctx context.Context) (any, error) {
	return r.m.Get(ctx)
}

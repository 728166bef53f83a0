// Package future carries one result from the owning thread back to whoever is
// waiting for it. A Future is a single-slot channel: it settles at most once,
// can be awaited from any goroutine, and can be polled by a task that wants to
// be woken instead of blocking.
package future

import (
	"context"
	"errors"
	"sync"

	"github.com/xkilldash9x/browser-window/internal/dispatch"
	"github.com/xkilldash9x/browser-window/internal/native"
)

// ErrDisconnected is reported when the sending side went away without a result.
var ErrDisconnected = dispatch.ErrDisconnected

// Waker is notified when a polled future settles.
type Waker interface {
	Wake()
}

// Future is the receiving side of a single-slot result channel.
type Future[T any] struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	value   T
	err     error
	wakers  []Waker
}

// Sender is the producing side of a Future. Only the first settle counts;
// settling with nobody waiting is fine.
type Sender[T any] struct {
	f *Future[T]
}

// Pending returns a connected sender and future.
func Pending[T any]() (Sender[T], *Future[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return Sender[T]{f: f}, f
}

// Ready returns a future already settled with v.
func Ready[T any](v T) *Future[T] {
	tx, f := Pending[T]()
	tx.Send(v)
	return f
}

// Failed returns a future already settled with err.
func Failed[T any](err error) *Future[T] {
	tx, f := Pending[T]()
	tx.Fail(err)
	return f
}

// Send settles the future with v. It reports whether this call settled it.
func (s Sender[T]) Send(v T) bool {
	return s.f.settle(v, nil)
}

// Fail settles the future with err. A nil err counts as a disconnect.
func (s Sender[T]) Fail(err error) bool {
	if err == nil {
		err = ErrDisconnected
	}
	var zero T
	return s.f.settle(zero, err)
}

// Close disconnects the future if it was not settled yet.
func (s Sender[T]) Close() {
	s.Fail(ErrDisconnected)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value, f.err = v, err
	wakers := f.wakers
	f.wakers = nil
	close(f.done)
	f.mu.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
	return true
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx ends. Giving up on ctx only
// abandons interest in the result; the producing work keeps running.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Poll returns the result if the future settled. Otherwise it registers w to
// be woken on settlement and reports false.
func (f *Future[T]) Poll(w Waker) (T, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return f.value, f.err, true
	}
	if w != nil {
		f.wakers = append(f.wakers, w)
	}
	var zero T
	return zero, nil, false
}

func (f *Future[T]) result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Call dispatches fn to the owning thread and returns a future for its result.
// fn runs strictly before the future settles with its value. If the engine
// refuses the dispatch, the future fails with dispatch.ErrScheduleRejected; if
// fn panics or is never delivered, it fails with ErrDisconnected.
func Call[T any](b *dispatch.Bridge, fn func(engine native.Engine) (T, error)) *Future[T] {
	tx, f := Pending[T]()
	b.DispatchUnit(func(engine native.Engine) {
		v, err := fn(engine)
		if err != nil {
			tx.Fail(err)
			return
		}
		tx.Send(v)
	}, func(err error) {
		tx.Fail(err)
	})
	return f
}

// IsDisconnected reports whether err means the producer vanished.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}

type forwarder[T any] struct {
	from *Future[T]
	to   Sender[T]
}

func (fw forwarder[T]) Wake() {
	if v, err, ok := fw.from.Poll(nil); ok {
		fw.to.f.settle(v, err)
	}
}

// Forward settles to with the outcome of from, without a goroutine: the
// settling thread of from also settles to.
func Forward[T any](from *Future[T], to Sender[T]) {
	fw := forwarder[T]{from: from, to: to}
	if v, err, ok := from.Poll(fw); ok {
		to.f.settle(v, err)
	}
}

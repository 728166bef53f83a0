// Package task drives a single asynchronous computation to completion on the
// owning thread, using nothing but dispatches. There is no executor: a task's
// waker re-dispatches one poll, and the poll runs inside the dispatched unit.
package task

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/dispatch"
	"github.com/xkilldash9x/browser-window/internal/future"
	"github.com/xkilldash9x/browser-window/internal/native"
)

var (
	// ErrAbandoned is reported when a wake could not be dispatched because the
	// event loop stopped accepting work.
	ErrAbandoned = errors.New("task abandoned: event loop no longer accepts work")
	// ErrNotOwner is returned by SpawnLocal off the owning thread.
	ErrNotOwner = errors.New("task: not on the owning thread")
)

// Poller is an asynchronous computation. Poll is called on the owning thread,
// never concurrently with itself. It returns true once the computation is
// complete. When it returns false it must have arranged for w to be woken.
type Poller interface {
	Poll(w *Waker) bool
}

// PollFunc adapts a function to Poller.
type PollFunc func(w *Waker) bool

// Poll implements Poller.
func (f PollFunc) Poll(w *Waker) bool { return f(w) }

const (
	stateIdle int32 = iota
	stateScheduled
	statePolling
	statePollingWoken
	stateDone
)

// Task is a spawned computation.
type Task struct {
	bridge *dispatch.Bridge
	logger *zap.Logger
	waker  *Waker

	state atomic.Int32
	polls atomic.Int64

	// poller is only touched by the poll in flight, and cleared on completion.
	poller Poller

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// Waker reschedules its task. It may be copied freely, and Wake may be called
// any number of times from any goroutine.
type Waker struct {
	t *Task
}

// Wake requests another poll.
func (w *Waker) Wake() {
	if w != nil && w.t != nil {
		w.t.wake()
	}
}

var _ future.Waker = (*Waker)(nil)

func newTask(b *dispatch.Bridge, p Poller, logger *zap.Logger) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Task{
		bridge: b,
		logger: logger.Named("task"),
		poller: p,
		done:   make(chan struct{}),
	}
	t.waker = &Waker{t: t}
	return t
}

// Spawn schedules the first poll of p through the bridge and returns at once.
// Safe from any goroutine.
func Spawn(b *dispatch.Bridge, p Poller, logger *zap.Logger) *Task {
	t := newTask(b, p, logger)
	t.state.Store(stateScheduled)
	t.schedule()
	return t
}

// SpawnLocal polls p immediately on the calling goroutine, which must be the
// owning thread. Later polls go through the bridge.
func SpawnLocal(b *dispatch.Bridge, p Poller, logger *zap.Logger) (*Task, error) {
	if !b.Engine().OnOwnerThread() {
		return nil, ErrNotOwner
	}
	t := newTask(b, p, logger)
	t.state.Store(stateScheduled)
	t.poll()
	return t, nil
}

// Done is closed when the task completed or was abandoned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns nil for a completed task, ErrAbandoned or a panic error
// otherwise. Only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Polls returns how many polls ran so far.
func (t *Task) Polls() int64 { return t.polls.Load() }

func (t *Task) wake() {
	for {
		switch s := t.state.Load(); s {
		case stateIdle:
			if t.state.CompareAndSwap(stateIdle, stateScheduled) {
				t.schedule()
				return
			}
		case statePolling:
			if t.state.CompareAndSwap(statePolling, statePollingWoken) {
				return
			}
		default:
			// Already scheduled, already woken, or finished.
			return
		}
	}
}

func (t *Task) schedule() {
	if !t.bridge.DispatchUnit(func(native.Engine) { t.poll() }, t.abandon) {
		t.logger.Debug("Task wake could not be dispatched.")
	}
}

// abandon ends a task whose poll will never run.
func (t *Task) abandon(err error) {
	if errors.Is(err, dispatch.ErrScheduleRejected) {
		t.finish(ErrAbandoned)
		return
	}
	t.finish(fmt.Errorf("%w: %w", ErrAbandoned, err))
}

func (t *Task) poll() {
	if !t.state.CompareAndSwap(stateScheduled, statePolling) {
		return
	}
	t.polls.Add(1)

	ready, err := t.pollOnce()
	if err != nil {
		t.finish(err)
		return
	}
	if ready {
		t.finish(nil)
		return
	}
	if t.state.CompareAndSwap(statePolling, stateIdle) {
		return
	}
	// Woken while polling: queue exactly one more poll.
	if t.state.CompareAndSwap(statePollingWoken, stateScheduled) {
		t.schedule()
	}
}

func (t *Task) pollOnce() (ready bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Recovered from panic in task poll.",
				zap.Any("panic_value", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.poller.Poll(t.waker), nil
}

func (t *Task) finish(err error) {
	t.errOnce.Do(func() {
		t.state.Store(stateDone)
		t.poller = nil
		t.err = err
		close(t.done)
	})
}

// Await returns a poller that completes once f settles, handing the result to
// then on the owning thread.
func Await[T any](f *future.Future[T], then func(v T, err error)) Poller {
	return PollFunc(func(w *Waker) bool {
		v, err, ok := f.Poll(w)
		if !ok {
			return false
		}
		if then != nil {
			then(v, err)
		}
		return true
	})
}

// Sequence returns a poller that runs steps one after the other. Each step is
// polled until it completes before the next one starts.
func Sequence(steps ...Poller) Poller {
	i := 0
	return PollFunc(func(w *Waker) bool {
		for i < len(steps) {
			if !steps[i].Poll(w) {
				return false
			}
			i++
		}
		return true
	})
}

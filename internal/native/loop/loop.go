// Package loop implements a single-threaded FIFO event loop. The goroutine that
// calls Run is locked to its OS thread for the lifetime of the loop and becomes
// the owning thread: every posted job runs there, in posting order.
package loop

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/osthread"
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateExited
	stateFinished
)

// Loop is a FIFO job queue drained by a single owning thread.
type Loop struct {
	logger *zap.Logger

	mu       sync.Mutex
	queue    []func()
	state    state
	exitReq  bool
	exitCode int

	wake chan struct{}

	ownerTID atomic.Int64
	inJob    atomic.Bool
}

// New creates an idle loop. Jobs posted before Run are kept and executed after
// the ready callback.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		logger: logger.Named("loop"),
		wake:   make(chan struct{}, 1),
	}
	l.ownerTID.Store(-1)
	return l
}

// Run pins the calling goroutine to its OS thread, runs ready, then drains
// jobs until Exit is called. It returns the exit code. A loop runs at most once;
// later calls return -1 immediately.
func (l *Loop) Run(ready func()) int {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.mu.Lock()
	if l.state != stateIdle {
		l.mu.Unlock()
		l.logger.Warn("Run called on a loop that already ran.")
		return -1
	}
	l.state = stateRunning
	l.ownerTID.Store(int64(osthread.ID()))
	if ready != nil {
		l.queue = append([]func(){ready}, l.queue...)
	}
	l.mu.Unlock()

	l.logger.Debug("Event loop started.", zap.Int64("owner_tid", l.ownerTID.Load()))

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.exitReq {
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		if l.exitReq {
			code := l.exitCode
			l.state = stateExited
			pending := len(l.queue)
			l.mu.Unlock()
			l.ownerTID.Store(-1)
			l.logger.Debug("Event loop exited.", zap.Int("exit_code", code), zap.Int("pending_jobs", pending))
			return code
		}
		job := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.runJob(job)
	}
}

// runJob isolates the loop from panicking jobs so the owning thread survives
// any single unit of work.
func (l *Loop) runJob(job func()) {
	l.inJob.Store(true)
	defer l.inJob.Store(false)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered from panic in loop job.",
				zap.Any("panic_value", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	job()
}

// Post appends job to the queue. It returns false once the loop has exited.
// Safe for concurrent use.
func (l *Loop) Post(job func()) bool {
	l.mu.Lock()
	if l.state == stateExited || l.state == stateFinished || l.exitReq {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, job)
	l.mu.Unlock()
	l.signal()
	return true
}

// Exit makes Run return code after the current job. Only the first request
// counts. Intended for the owning thread; see ExitAsync otherwise.
func (l *Loop) Exit(code int) {
	l.mu.Lock()
	if l.exitReq || l.state == stateExited || l.state == stateFinished {
		l.mu.Unlock()
		return
	}
	l.exitReq = true
	l.exitCode = code
	l.mu.Unlock()
	l.signal()
}

// ExitAsync queues an exit request behind the jobs already posted. Safe for
// concurrent use.
func (l *Loop) ExitAsync(code int) {
	l.Post(func() { l.Exit(code) })
}

// Finish discards any jobs left in the queue and refuses new ones. It returns
// the number of discarded jobs.
func (l *Loop) Finish() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := len(l.queue)
	l.queue = nil
	l.state = stateFinished
	return dropped
}

// OnLoop reports whether the caller executes on the owning thread.
func (l *Loop) OnLoop() bool {
	if !osthread.Supported() {
		return l.inJob.Load()
	}
	tid := l.ownerTID.Load()
	return tid >= 0 && int64(osthread.ID()) == tid
}

// Running reports whether Run is currently draining the queue.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateRunning
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

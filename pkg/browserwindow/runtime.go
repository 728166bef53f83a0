// Package browserwindow drives a browser engine that lives on a single event
// loop thread. Work from other goroutines is carried onto that thread by a
// dispatch bridge, and results come back as futures.
//
// Every engine object has two handle types over one shared core: a
// thread-affine one (Application, Browser) whose methods must run on the
// event loop thread, and a thread-safe one (ApplicationAsync,
// BrowserThreaded) whose methods dispatch onto it.
package browserwindow

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/dispatch"
	"github.com/xkilldash9x/browser-window/internal/future"
	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/task"
)

// Future is a single result produced on the event loop thread.
type Future[T any] = future.Future[T]

// Task is a computation driven to completion by dispatch cycles.
type Task = task.Task

// Poller is a computation a Task polls until it reports completion.
type Poller = task.Poller

// PollFunc adapts a function to Poller.
type PollFunc = task.PollFunc

// Waker reschedules the task that polled it.
type Waker = task.Waker

// Stats is a snapshot of the dispatch bridge counters.
type Stats = dispatch.Stats

// Await returns a poller that completes once f settles, passing the outcome
// to then on the event loop thread.
func Await[T any](f *Future[T], then func(v T, err error)) Poller {
	return task.Await(f, then)
}

// Sequence returns a poller that completes steps in order.
func Sequence(steps ...Poller) Poller {
	return task.Sequence(steps...)
}

// Runtime owns one engine and the bridge onto its event loop.
type Runtime struct {
	engine native.Engine
	bridge *dispatch.Bridge
	logger *zap.Logger

	ran        atomic.Bool
	finishOnce sync.Once
}

// New wraps an engine that has not run yet.
func New(engine native.Engine, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browserwindow").With(zap.String("engine", engine.Name()))
	return &Runtime{
		engine: engine,
		bridge: dispatch.New(engine, logger),
		logger: logger,
	}
}

// App returns the thread-safe application handle. It is valid before, during
// and after Run; dispatches outside of Run are queued or rejected depending on
// the engine state.
func (rt *Runtime) App() ApplicationAsync {
	return ApplicationAsync{rt: rt}
}

// Run turns the calling goroutine into the event loop thread and blocks until
// the application exits. onReady runs first, on that thread. Run returns the
// exit code, or -1 if the runtime already ran.
func (rt *Runtime) Run(onReady func(app Application)) int {
	if rt.ran.Swap(true) {
		rt.logger.Warn("Run called twice.", zap.Error(ErrAlreadyRan))
		return -1
	}
	rt.logger.Debug("Entering event loop.")
	code := rt.bridge.Run(func(native.Engine) {
		if onReady != nil {
			onReady(Application{rt: rt})
		}
	})
	rt.logger.Debug("Event loop returned.", zap.Int("exit_code", code))
	return code
}

// Spawn drives p to completion on the event loop thread. Safe from any
// goroutine, before or during Run.
func (rt *Runtime) Spawn(p Poller) *Task {
	return task.Spawn(rt.bridge, p, rt.logger)
}

// RunTask is Run with p as the entry point: p is first polled on the event
// loop thread and driven from there. Something p does is expected to end the
// loop; RunTask returns its exit code.
func (rt *Runtime) RunTask(p Poller) int {
	return rt.Run(func(app Application) {
		if _, err := app.Spawn(p); err != nil {
			rt.logger.Error("Failed to start the entry task.", zap.Error(err))
			_ = app.Exit(1)
		}
	})
}

// Finish releases the engine after Run returned. Work that was scheduled but
// never delivered is dropped, and the futures waiting on it fail with
// ErrDisconnected. It returns the number of dropped units. Later calls
// return 0.
func (rt *Runtime) Finish() int {
	n := 0
	rt.finishOnce.Do(func() {
		rt.engine.Finish()
		n = rt.bridge.Reclaim()
		s := rt.bridge.Stats()
		rt.logger.Debug("Runtime finished.",
			zap.Uint64("scheduled", s.Scheduled),
			zap.Uint64("delivered", s.Delivered),
			zap.Uint64("rejected", s.Rejected),
			zap.Uint64("duplicates", s.Duplicates),
			zap.Uint64("panics", s.Panics),
			zap.Int("reclaimed", n),
		)
	})
	return n
}

// Stats returns the bridge counters.
func (rt *Runtime) Stats() Stats {
	return rt.bridge.Stats()
}

// EngineName returns the name of the backend in use.
func (rt *Runtime) EngineName() string {
	return rt.engine.Name()
}

func (rt *Runtime) onOwner() error {
	if !rt.engine.OnOwnerThread() {
		return ErrNotOwner
	}
	return nil
}

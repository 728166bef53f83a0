// Package gojaengine is an in-process engine backend. Windows are headless
// JavaScript realms, each with its own goja runtime, all driven by one
// goja_nodejs event loop. The loop goroutine is pinned to an OS thread on its
// first job and is the owning thread for every window. Work posted before
// that job is held back and queued right after the ready callback.
package gojaengine

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/osthread"
)

// Name is the backend identifier used in configuration.
const Name = "goja"

// DefaultEvalTimeout bounds a single script evaluation when Options leaves it
// unset.
const DefaultEvalTimeout = 30 * time.Second

// Options configures the engine.
type Options struct {
	// EvalTimeout interrupts scripts that run longer than this.
	EvalTimeout time.Duration
	// UserAgent is exposed to scripts as navigator.userAgent.
	UserAgent string
}

// Engine implements native.Engine on top of a goja_nodejs event loop.
type Engine struct {
	opts   Options
	logger *zap.Logger
	loop   *eventloop.EventLoop

	mu       sync.Mutex
	started  bool
	pinned   bool
	early    []func()
	windows  map[string]*Window
	exitCode int
	exitCh   chan struct{}

	exited   atomic.Bool
	finished atomic.Bool
	ownerTID atomic.Int64
	inJob    atomic.Bool

	jar *jar
}

// New creates an engine. The loop starts in Run.
func New(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = DefaultEvalTimeout
	}
	e := &Engine{
		opts:    opts,
		logger:  logger.Named("goja_engine"),
		loop:    eventloop.NewEventLoop(eventloop.EnableConsole(false)),
		windows: make(map[string]*Window),
		exitCh:  make(chan struct{}),
	}
	e.ownerTID.Store(-1)
	e.jar = &jar{engine: e, store: native.NewCookieStore()}
	return e
}

// Name implements native.Engine.
func (e *Engine) Name() string { return Name }

// Run implements native.Engine. The loop runs on its own goroutine; Run blocks
// until Exit or ExitAsync and then stops the loop.
func (e *Engine) Run(ready native.DispatchFunc, token native.Token) int {
	e.mu.Lock()
	if e.started || e.finished.Load() {
		e.mu.Unlock()
		e.logger.Warn("Run called on an engine that already ran.")
		return -1
	}
	e.started = true
	e.mu.Unlock()

	e.loop.Start()
	e.loop.RunOnLoop(func(*goja.Runtime) {
		e.runJob(func() {
			// The loop goroutine lives until Stop, so pinning it here makes its
			// thread the owner for the whole run.
			runtime.LockOSThread()
			e.ownerTID.Store(int64(osthread.ID()))
			e.logger.Debug("Event loop started.", zap.Int64("owner_tid", e.ownerTID.Load()))
			if ready != nil {
				ready(e, token)
			}
		})
		e.flushEarly()
	})

	<-e.exitCh
	e.loop.Stop()
	e.ownerTID.Store(-1)

	e.mu.Lock()
	code := e.exitCode
	e.mu.Unlock()
	e.logger.Debug("Event loop exited.", zap.Int("exit_code", code))
	return code
}

// post queues job on the loop, marking it so OnOwnerThread works on platforms
// without thread ids. Until the loop thread is pinned, jobs are parked in
// e.early.
func (e *Engine) post(job func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pinned {
		if e.finished.Load() {
			return false
		}
		e.early = append(e.early, job)
		return true
	}
	return e.loop.RunOnLoop(func(*goja.Runtime) {
		e.runJob(job)
	})
}

// flushEarly moves parked jobs onto the loop in submission order. Later posts
// queue behind them.
func (e *Engine) flushEarly() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, job := range e.early {
		e.loop.RunOnLoop(func(*goja.Runtime) {
			e.runJob(job)
		})
	}
	if n := len(e.early); n > 0 {
		e.logger.Debug("Queued work posted before the loop started.", zap.Int("jobs", n))
	}
	e.early = nil
	e.pinned = true
}

func (e *Engine) runJob(job func()) {
	e.inJob.Store(true)
	defer e.inJob.Store(false)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic in loop job.", zap.Any("panic_value", r))
		}
	}()
	job()
}

// Dispatch implements native.Engine.
func (e *Engine) Dispatch(fn native.DispatchFunc, token native.Token) bool {
	if e.exited.Load() || e.finished.Load() {
		return false
	}
	return e.post(func() { fn(e, token) })
}

// Exit implements native.Engine. Only the first exit request counts.
func (e *Engine) Exit(code int) {
	if e.exited.Swap(true) {
		return
	}
	e.mu.Lock()
	e.exitCode = code
	e.mu.Unlock()
	close(e.exitCh)
}

// ExitAsync implements native.Engine.
func (e *Engine) ExitAsync(code int) {
	if e.exited.Load() {
		return
	}
	if !e.post(func() { e.Exit(code) }) {
		e.Exit(code)
	}
}

// Finish implements native.Engine. Open windows are torn down without running
// any more script, and pending timers are cleared so none fires after the
// loop is gone.
func (e *Engine) Finish() {
	if e.finished.Swap(true) {
		return
	}
	e.mu.Lock()
	windows := make([]*Window, 0, len(e.windows))
	for _, w := range e.windows {
		windows = append(windows, w)
	}
	e.windows = map[string]*Window{}
	started := e.started
	parked := len(e.early)
	e.early = nil
	e.mu.Unlock()

	for _, w := range windows {
		w.vm.Interrupt(native.ErrEngineFinished)
	}
	if started {
		e.loop.Terminate()
	}
	e.logger.Debug("Engine finished.", zap.Int("open_windows", len(windows)), zap.Int("parked_jobs", parked))
}

// OnOwnerThread implements native.Engine.
func (e *Engine) OnOwnerThread() bool {
	if !osthread.Supported() {
		return e.inJob.Load()
	}
	tid := e.ownerTID.Load()
	return tid >= 0 && int64(osthread.ID()) == tid
}

// CreateWindow implements native.Engine.
func (e *Engine) CreateWindow(opts native.WindowOptions) (native.Window, error) {
	if e.finished.Load() {
		return nil, native.ErrEngineFinished
	}
	w, err := newWindow(e, uuid.NewString(), opts)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.windows[w.id] = w
	e.mu.Unlock()
	e.logger.Debug("Window created.", zap.String("window_id", w.id), zap.String("title", opts.Title))
	return w, nil
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.windows, id)
	e.mu.Unlock()
}

// Cookies implements native.Engine.
func (e *Engine) Cookies() native.CookieJar { return e.jar }

// jar delivers cookie results through the loop, never from inside the call.
type jar struct {
	engine *Engine
	store  *native.CookieStore
}

func (j *jar) Store(rawURL string, c native.Cookie, cb native.StoreFunc, token native.Token) {
	var nerr *native.Error
	if err := j.store.Put(rawURL, c); err != nil {
		nerr = native.WrapError(native.CodeCookie, err)
	}
	j.engine.post(func() { cb(token, nerr) })
}

func (j *jar) Iterate(rawURL string, includeHTTPOnly bool, cb native.IterateFunc, token native.Token) {
	var nerr *native.Error
	cookies, err := j.store.Match(rawURL, includeHTTPOnly, time.Now())
	if err != nil {
		nerr = native.WrapError(native.CodeCookie, err)
	}
	j.engine.post(func() { cb(token, cookies, nerr) })
}

func (j *jar) Delete(rawURL, name string, cb native.DeleteFunc, token native.Token) {
	deleted := j.store.Remove(rawURL, name, time.Now())
	j.engine.post(func() { cb(token, deleted) })
}

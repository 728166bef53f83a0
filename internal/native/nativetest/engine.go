// Package nativetest provides a scriptable in-process engine for tests. It owns
// a real event loop thread, and lets a test misbehave on purpose: refuse
// dispatches, deliver a callback twice, or never deliver it at all.
package nativetest

import (
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/native/loop"
)

// Delivery selects how the fake engine honors Dispatch.
type Delivery int32

const (
	// DeliverOnce is the contract every real engine follows.
	DeliverOnce Delivery = iota
	// DeliverTwice invokes each callback twice.
	DeliverTwice
	// DeliverNever accepts the callback and silently drops it.
	DeliverNever
)

// EvalResult scripts the outcome of one EvalJS call.
type EvalResult struct {
	Value string
	Err   *native.Error
}

// Engine is a fake native.Engine backed by loop.Loop.
type Engine struct {
	loop   *loop.Loop
	logger *zap.Logger

	reject   atomic.Bool
	delivery atomic.Int32

	// EvalHook computes eval results. It runs on the owning thread. When nil,
	// the script text itself is echoed back.
	EvalHook func(code string) EvalResult

	mu      sync.Mutex
	windows map[string]*Window
	jar     *Jar

	dispatches atomic.Int64
	finished   atomic.Bool
}

// New returns an idle fake engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		loop:    loop.New(logger),
		logger:  logger.Named("fake_engine"),
		windows: make(map[string]*Window),
	}
	e.jar = &Jar{engine: e, store: native.NewCookieStore()}
	return e
}

// RejectDispatch makes Dispatch return false while set.
func (e *Engine) RejectDispatch(v bool) { e.reject.Store(v) }

// SetDelivery changes how accepted dispatches are delivered.
func (e *Engine) SetDelivery(d Delivery) { e.delivery.Store(int32(d)) }

// Dispatches returns how many dispatches the engine accepted.
func (e *Engine) Dispatches() int64 { return e.dispatches.Load() }

// Finished reports whether Finish was called.
func (e *Engine) Finished() bool { return e.finished.Load() }

// Name implements native.Engine.
func (e *Engine) Name() string { return "fake" }

// Run implements native.Engine.
func (e *Engine) Run(ready native.DispatchFunc, token native.Token) int {
	return e.loop.Run(func() {
		if ready != nil {
			ready(e, token)
		}
	})
}

// Dispatch implements native.Engine.
func (e *Engine) Dispatch(fn native.DispatchFunc, token native.Token) bool {
	if e.reject.Load() {
		return false
	}
	switch Delivery(e.delivery.Load()) {
	case DeliverNever:
		e.dispatches.Add(1)
		return true
	case DeliverTwice:
		if !e.loop.Post(func() { fn(e, token) }) {
			return false
		}
		e.dispatches.Add(1)
		e.loop.Post(func() { fn(e, token) })
		return true
	default:
		if !e.loop.Post(func() { fn(e, token) }) {
			return false
		}
		e.dispatches.Add(1)
		return true
	}
}

// Exit implements native.Engine.
func (e *Engine) Exit(code int) { e.loop.Exit(code) }

// ExitAsync implements native.Engine.
func (e *Engine) ExitAsync(code int) { e.loop.ExitAsync(code) }

// Finish implements native.Engine.
func (e *Engine) Finish() {
	if e.finished.Swap(true) {
		return
	}
	if n := e.loop.Finish(); n > 0 {
		e.logger.Debug("Dropped queued jobs at finish.", zap.Int("count", n))
	}
}

// OnOwnerThread implements native.Engine.
func (e *Engine) OnOwnerThread() bool { return e.loop.OnLoop() }

// Post queues an arbitrary job on the owning thread.
func (e *Engine) Post(job func()) bool { return e.loop.Post(job) }

// CreateWindow implements native.Engine.
func (e *Engine) CreateWindow(opts native.WindowOptions) (native.Window, error) {
	if e.finished.Load() {
		return nil, native.ErrEngineFinished
	}
	w := &Window{engine: e, id: uuid.NewString(), title: opts.Title}
	if !opts.SourceIsHTML {
		w.url = opts.Source
	}
	w.life = native.NewLifecycle(func() {
		e.mu.Lock()
		delete(e.windows, w.id)
		e.mu.Unlock()
	})
	e.mu.Lock()
	e.windows[w.id] = w
	e.mu.Unlock()
	return w, nil
}

// Windows returns the number of windows whose backing object is still alive.
func (e *Engine) Windows() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.windows)
}

// Cookies implements native.Engine.
func (e *Engine) Cookies() native.CookieJar { return e.jar }

// Window is a fake native.Window.
type Window struct {
	engine *Engine
	id     string
	life   *native.Lifecycle

	mu    sync.Mutex
	title string
	url   string
}

// ID implements native.Window.
func (w *Window) ID() string { return w.id }

// Engine implements native.Window.
func (w *Window) Engine() native.Engine { return w.engine }

// Navigate implements native.Window.
func (w *Window) Navigate(rawURL string) error {
	if err := w.life.Usable(); err != nil {
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return &native.NavigationError{URL: rawURL, Message: fmt.Sprintf("invalid url %q", rawURL), Err: err}
	}
	w.mu.Lock()
	w.url = u.String()
	w.mu.Unlock()
	return nil
}

// EvalJS implements native.Window. The callback is always posted, never
// invoked from inside EvalJS.
func (w *Window) EvalJS(code string, cb native.EvalFunc, token native.Token) {
	var res EvalResult
	if err := w.life.Usable(); err != nil {
		res.Err = native.WrapError(native.CodeInternal, err)
	} else if w.engine.EvalHook != nil {
		res = w.engine.EvalHook(code)
	} else {
		res.Value = code
	}
	w.engine.loop.Post(func() { cb(w, token, res.Value, res.Err) })
}

// Close implements native.Window. The fake confirms immediately.
func (w *Window) Close() {
	w.life.RequestClose()
	w.life.ConfirmClosed()
}

// Retain implements native.Window.
func (w *Window) Retain() error { return w.life.Retain() }

// Drop implements native.Window.
func (w *Window) Drop() { w.life.Release() }

// State implements native.Window.
func (w *Window) State() native.WindowState { return w.life.State() }

// Title implements native.Window.
func (w *Window) Title() (string, error) {
	if err := w.life.Readable(); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.title, nil
}

// URL implements native.Window.
func (w *Window) URL() (string, error) {
	if err := w.life.Readable(); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url, nil
}

// Jar posts cookie results back through the loop like a real engine would.
type Jar struct {
	engine *Engine
	store  *native.CookieStore
}

// Store implements native.CookieJar.
func (j *Jar) Store(rawURL string, c native.Cookie, cb native.StoreFunc, token native.Token) {
	var nerr *native.Error
	if err := j.store.Put(rawURL, c); err != nil {
		nerr = native.WrapError(native.CodeCookie, err)
	}
	j.engine.loop.Post(func() { cb(token, nerr) })
}

// Iterate implements native.CookieJar.
func (j *Jar) Iterate(rawURL string, includeHTTPOnly bool, cb native.IterateFunc, token native.Token) {
	var nerr *native.Error
	cookies, err := j.store.Match(rawURL, includeHTTPOnly, time.Now())
	if err != nil {
		nerr = native.WrapError(native.CodeCookie, err)
	}
	j.engine.loop.Post(func() { cb(token, cookies, nerr) })
}

// Delete implements native.CookieJar.
func (j *Jar) Delete(rawURL, name string, cb native.DeleteFunc, token native.Token) {
	deleted := j.store.Remove(rawURL, name, time.Now())
	j.engine.loop.Post(func() { cb(token, deleted) })
}

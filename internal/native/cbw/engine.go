package cbw

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/dispatch"
	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/osthread"
)

// Name is the backend identifier used in configuration.
const Name = "cbw"

type pendingCall struct {
	fn    native.DispatchFunc
	token native.Token
}

type pendingEval struct {
	window *Window
	cb     native.EvalFunc
	token  native.Token
}

// Engine implements native.Engine over the C library.
type Engine struct {
	lib    *Library
	app    uintptr
	logger *zap.Logger

	calls *dispatch.Registry[pendingCall]
	evals *dispatch.Registry[pendingEval]

	windows sync.Map // uintptr -> *Window

	ownerTID   atomic.Int64
	inJob      atomic.Bool
	finished   atomic.Bool
	duplicates atomic.Int64
}

// New initializes the C application.
func New(lib *Library, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lib == nil {
		return nil, errors.New("cbw: library is nil")
	}
	if err := lib.validate(); err != nil {
		return nil, err
	}
	app := lib.ApplicationInitialize(0, 0)
	if app == 0 {
		return nil, errors.New("cbw: application initialization failed")
	}
	e := &Engine{
		lib:    lib,
		app:    app,
		logger: logger.Named("cbw_engine"),
		calls:  dispatch.NewRegistry[pendingCall](),
		evals:  dispatch.NewRegistry[pendingEval](),
	}
	e.ownerTID.Store(-1)
	engines.Store(app, e)
	return e, nil
}

// Name implements native.Engine.
func (e *Engine) Name() string { return Name }

// Run implements native.Engine. The calling goroutine is pinned to its thread
// and becomes the owner.
func (e *Engine) Run(ready native.DispatchFunc, token native.Token) int {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	data, ok := e.calls.Put(pendingCall{fn: ready, token: token})
	if !ok {
		return -1
	}
	e.ownerTID.Store(int64(osthread.ID()))
	defer e.ownerTID.Store(-1)
	return int(e.lib.ApplicationRun(e.app, e.lib.dispatchCallback, uintptr(data)))
}

// Dispatch implements native.Engine.
func (e *Engine) Dispatch(fn native.DispatchFunc, token native.Token) bool {
	if e.finished.Load() {
		return false
	}
	data, ok := e.calls.Put(pendingCall{fn: fn, token: token})
	if !ok {
		return false
	}
	if e.lib.ApplicationDispatch(e.app, e.lib.dispatchCallback, uintptr(data)) == 0 {
		e.calls.Take(data)
		return false
	}
	return true
}

func (e *Engine) deliverDispatch(data uintptr) {
	p, ok := e.calls.Take(native.Token(data))
	if !ok {
		e.duplicates.Add(1)
		e.logger.Warn("Dispatch callback for an unknown token.", zap.Uint64("data", uint64(data)))
		return
	}
	if p.fn == nil {
		return
	}
	e.inJob.Store(true)
	defer e.inJob.Store(false)
	p.fn(e, p.token)
}

// deliverEval reports whether window belongs to this engine.
func (e *Engine) deliverEval(window, data, result, errRef uintptr) bool {
	v, ok := e.windows.Load(window)
	if !ok {
		return false
	}
	p, ok := e.evals.Take(native.Token(data))
	if !ok {
		e.duplicates.Add(1)
		e.logger.Warn("Eval callback for an unknown token.", zap.Uint64("data", uint64(data)))
		return true
	}
	var nerr *native.Error
	var res string
	if errRef != 0 {
		nerr = e.wrapErr(errRef)
	} else {
		res = goString(result)
	}
	e.inJob.Store(true)
	defer e.inJob.Store(false)
	p.cb(v.(*Window), p.token, res, nerr)
	return true
}

// Exit implements native.Engine.
func (e *Engine) Exit(code int) { e.lib.ApplicationExit(e.app, int32(code)) }

// ExitAsync implements native.Engine.
func (e *Engine) ExitAsync(code int) { e.lib.ApplicationExitAsync(e.app, int32(code)) }

// Finish implements native.Engine.
func (e *Engine) Finish() {
	if e.finished.Swap(true) {
		return
	}
	e.lib.ApplicationFinish(e.app)
	engines.Delete(e.app)
	calls, evals := e.calls.Close(), e.evals.Close()
	e.logger.Debug("Engine finished.",
		zap.Int("undelivered_dispatches", len(calls)),
		zap.Int("undelivered_evals", len(evals)),
		zap.Int64("duplicate_callbacks", e.duplicates.Load()),
	)
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
	var flags uint32
	if opts.Borders {
		flags |= flagBorders
	}
	if opts.Resizable {
		flags |= flagResizable
	}
	if opts.Minimizable {
		flags |= flagMinimizable
	}
	if opts.DevTools {
		flags |= flagDevTools
	}
	if opts.SourceIsHTML {
		flags |= flagSourceIsHTML
	}
	ptr := e.lib.BrowserWindowNew(e.app, opts.Title, int32(opts.Width), int32(opts.Height), flags, opts.Opacity, opts.Source)
	if ptr == 0 {
		return nil, errors.New("cbw: window creation failed")
	}
	w := &Window{engine: e, ptr: ptr, id: newWindowID(ptr), title: opts.Title}
	if !opts.SourceIsHTML {
		w.url = opts.Source
	}
	w.life = native.NewLifecycle(w.destroy)
	e.windows.Store(ptr, w)
	return w, nil
}

// Cookies implements native.Engine. The C table has no cookie store, so every
// request answers with native.ErrUnsupported.
func (e *Engine) Cookies() native.CookieJar { return unsupportedJar{e} }

// -- Errors --

// cErr owns a cbw_Err. The message is read and the error freed on first use;
// an error nobody looked at is freed by the finalizer.
type cErr struct {
	lib  *Library
	ref  uintptr
	once sync.Once
	msg  string
}

func (c *cErr) take() string {
	c.once.Do(func() {
		c.msg = c.lib.ErrMessage(c.ref)
		c.lib.ErrFree(c.ref)
	})
	return c.msg
}

func (c *cErr) release() {
	c.once.Do(func() { c.lib.ErrFree(c.ref) })
}

func (e *Engine) wrapErr(ref uintptr) *native.Error {
	holder := &cErr{lib: e.lib, ref: ref}
	runtime.SetFinalizer(holder, (*cErr).release)
	return native.NewError(int(e.lib.ErrCode(ref)), holder, func(_ int, data any) string {
		return data.(*cErr).take()
	})
}

type unsupportedJar struct {
	e *Engine
}

func (j unsupportedJar) answer(job func()) {
	if !j.e.Dispatch(func(native.Engine, native.Token) { job() }, 0) {
		j.e.logger.Debug("Dropping cookie answer: event loop no longer accepts work.")
	}
}

func (j unsupportedJar) Store(_ string, _ native.Cookie, cb native.StoreFunc, token native.Token) {
	j.answer(func() { cb(token, native.WrapError(native.CodeCookie, native.ErrUnsupported)) })
}

func (j unsupportedJar) Iterate(_ string, _ bool, cb native.IterateFunc, token native.Token) {
	j.answer(func() { cb(token, nil, native.WrapError(native.CodeCookie, native.ErrUnsupported)) })
}

func (j unsupportedJar) Delete(_, _ string, cb native.DeleteFunc, token native.Token) {
	j.answer(func() { cb(token, 0) })
}

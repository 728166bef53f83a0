package browserwindow

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/future"
	"github.com/xkilldash9x/browser-window/internal/native"
)

// WindowState is the lifecycle stage of a browser window.
type WindowState = native.WindowState

// Window lifecycle stages: Open, then CloseRequested after Close, then
// Destroyed once the engine confirmed the close and the last handle was
// released.
const (
	WindowOpen           = native.WindowOpen
	WindowCloseRequested = native.WindowCloseRequested
	WindowDestroyed      = native.WindowDestroyed
)

func stateErr(w native.Window) error {
	switch w.State() {
	case native.WindowOpen:
		return nil
	case native.WindowCloseRequested:
		return ErrWindowClosed
	default:
		return ErrWindowDestroyed
	}
}

// -- Thread-affine handle --

// Browser is the thread-affine handle to one browser window. Every handle
// keeps the window's backing object alive until Release.
type Browser struct {
	app      Application
	win      native.Window
	borrowed bool
	released atomic.Bool
}

func (b *Browser) usable() error {
	if b.released.Load() {
		return ErrReleased
	}
	if err := b.app.rt.onOwner(); err != nil {
		return err
	}
	return stateErr(b.win)
}

// App returns the application that owns the window.
func (b *Browser) App() Application { return b.app }

// ID returns the engine's identifier for the window.
func (b *Browser) ID() string { return b.win.ID() }

// State returns the lifecycle stage of the window.
func (b *Browser) State() WindowState { return b.win.State() }

// Navigate loads url. Scheme and syntax errors come back as *NavigationError;
// load failures after that are reported by the engine asynchronously.
func (b *Browser) Navigate(url string) error {
	if err := b.usable(); err != nil {
		return err
	}
	return b.win.Navigate(url)
}

// EvalJS evaluates code in the window. The future resolves with the result
// rendered as a string, or fails with a *JsEvaluationError.
func (b *Browser) EvalJS(code string) *Future[string] {
	if err := b.usable(); err != nil {
		return future.Failed[string](err)
	}
	tx, f := future.Pending[string]()
	b.app.rt.bridge.EvalJS(b.win, code, func(_ native.Window, result string, err *native.Error) {
		if err != nil {
			tx.Fail(newJsEvaluationError(err))
			return
		}
		tx.Send(result)
	}, func(err error) {
		tx.Fail(err)
	})
	return f
}

// EvalJSFunc evaluates code and hands the outcome to fn on the event loop
// thread. Exactly one of result and err is meaningful.
func (b *Browser) EvalJSFunc(code string, fn func(b *Browser, result string, err error)) {
	if err := b.usable(); err != nil {
		fn(b, "", err)
		return
	}
	b.app.rt.bridge.EvalJS(b.win, code, func(_ native.Window, result string, err *native.Error) {
		if err != nil {
			fn(b, "", newJsEvaluationError(err))
			return
		}
		fn(b, result, nil)
	}, func(err error) {
		b.app.rt.logger.Debug("Eval callback dropped.", zap.String("window", b.ID()), zap.Error(err))
	})
}

// ExecJS evaluates code and discards the result. Failures are logged.
func (b *Browser) ExecJS(code string) error {
	if err := b.usable(); err != nil {
		return err
	}
	b.EvalJSFunc(code, func(b *Browser, _ string, err error) {
		if err != nil {
			b.app.rt.logger.Debug("Script failed.", zap.String("window", b.ID()), zap.Error(err))
		}
	})
	return nil
}

// Close requests the window to close. Handles stay valid and report
// ErrWindowClosed until the last one is released.
func (b *Browser) Close() error {
	if b.released.Load() {
		return ErrReleased
	}
	if err := b.app.rt.onOwner(); err != nil {
		return err
	}
	b.win.Close()
	return nil
}

// Title returns the current document title.
func (b *Browser) Title() (string, error) {
	if b.released.Load() {
		return "", ErrReleased
	}
	if err := b.app.rt.onOwner(); err != nil {
		return "", err
	}
	return b.win.Title()
}

// URL returns the current location.
func (b *Browser) URL() (string, error) {
	if b.released.Load() {
		return "", ErrReleased
	}
	if err := b.app.rt.onOwner(); err != nil {
		return "", err
	}
	return b.win.URL()
}

// Clone returns another handle to the same window.
func (b *Browser) Clone() (*Browser, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if err := b.win.Retain(); err != nil {
		return nil, err
	}
	return &Browser{app: b.app, win: b.win}, nil
}

// Async returns a thread-safe handle to the same window. Both handles must be
// released.
func (b *Browser) Async() (*BrowserThreaded, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if err := b.win.Retain(); err != nil {
		return nil, err
	}
	return newBrowserThreaded(b.app.Async(), b.win), nil
}

// Release drops this handle. Handles passed into dispatched closures are
// borrowed and ignore Release. Called away from the event loop thread, the
// drop is dispatched onto it.
func (b *Browser) Release() {
	if b.borrowed || b.released.Swap(true) {
		return
	}
	if b.app.rt.engine.OnOwnerThread() {
		b.win.Drop()
		return
	}
	releaseOnLoop(b.app.rt, b.win)
}

// -- Thread-safe handle --

// BrowserThreaded is the thread-safe handle to one browser window. Every
// operation is carried onto the event loop thread. A handle that becomes
// unreachable without Release is released when the garbage collector finds
// it, so an abandoned BuildAsync result does not pin its window forever.
type BrowserThreaded struct {
	app    ApplicationAsync
	win    native.Window
	handle *threadedHandle
}

// threadedHandle is the part of a BrowserThreaded its cleanup may keep alive.
type threadedHandle struct {
	rt       *Runtime
	win      native.Window
	released atomic.Bool
}

func (h *threadedHandle) release() {
	if h.released.Swap(true) {
		return
	}
	releaseOnLoop(h.rt, h.win)
}

func (h *threadedHandle) collected() {
	if h.released.Load() {
		return
	}
	h.rt.logger.Debug("Thread-safe window handle collected without Release.", zap.String("window", h.win.ID()))
	h.release()
}

func newBrowserThreaded(app ApplicationAsync, win native.Window) *BrowserThreaded {
	b := &BrowserThreaded{app: app, win: win, handle: &threadedHandle{rt: app.rt, win: win}}
	runtime.AddCleanup(b, (*threadedHandle).collected, b.handle)
	return b
}

// App returns the thread-safe application handle.
func (b *BrowserThreaded) App() ApplicationAsync { return b.app }

// ID returns the engine's identifier for the window.
func (b *BrowserThreaded) ID() string { return b.win.ID() }

// State returns the lifecycle stage of the window.
func (b *BrowserThreaded) State() WindowState { return b.win.State() }

func (b *BrowserThreaded) borrow() *Browser {
	return &Browser{app: Application{rt: b.app.rt}, win: b.win, borrowed: true}
}

// Dispatch runs fn with an affine view of the window on the event loop
// thread. The view is only valid during fn.
func (b *BrowserThreaded) Dispatch(fn func(br *Browser)) bool {
	if b.handle.released.Load() {
		return false
	}
	return b.app.rt.bridge.Dispatch(func(native.Engine) {
		fn(b.borrow())
	})
}

// DispatchBrowser runs fn with an affine view of the window on the event loop
// thread and resolves with its result.
func DispatchBrowser[R any](b *BrowserThreaded, fn func(br *Browser) (R, error)) *Future[R] {
	if b.handle.released.Load() {
		return future.Failed[R](ErrReleased)
	}
	return future.Call(b.app.rt.bridge, func(native.Engine) (R, error) {
		return fn(b.borrow())
	})
}

// EvalJS evaluates code in the window from any goroutine.
func (b *BrowserThreaded) EvalJS(code string) *Future[string] {
	if b.handle.released.Load() {
		return future.Failed[string](ErrReleased)
	}
	return relay(b.app.rt, func(Application) *Future[string] {
		return b.borrow().EvalJS(code)
	})
}

// ExecJS evaluates code and discards the result. It reports whether the
// loop accepted the request.
func (b *BrowserThreaded) ExecJS(code string) bool {
	return b.Dispatch(func(br *Browser) {
		if err := br.ExecJS(code); err != nil {
			br.app.rt.logger.Debug("Script not run.", zap.String("window", br.ID()), zap.Error(err))
		}
	})
}

// Navigate loads url from any goroutine.
func (b *BrowserThreaded) Navigate(url string) *Future[struct{}] {
	return DispatchBrowser(b, func(br *Browser) (struct{}, error) {
		return struct{}{}, br.Navigate(url)
	})
}

// Close requests the window to close. It reports whether the loop accepted
// the request.
func (b *BrowserThreaded) Close() bool {
	return b.Dispatch(func(br *Browser) {
		_ = br.Close()
	})
}

// Title reads the document title on the event loop thread.
func (b *BrowserThreaded) Title() *Future[string] {
	return DispatchBrowser(b, (*Browser).Title)
}

// URL reads the current location on the event loop thread.
func (b *BrowserThreaded) URL() *Future[string] {
	return DispatchBrowser(b, (*Browser).URL)
}

// Release drops this handle. The drop itself runs on the event loop thread.
func (b *BrowserThreaded) Release() {
	b.handle.release()
}

// releaseOnLoop dispatches the drop of one window handle. A loop that no
// longer accepts work leaves the window to engine teardown.
func releaseOnLoop(rt *Runtime, win native.Window) {
	id := win.ID()
	rt.bridge.DispatchUnit(func(native.Engine) {
		win.Drop()
	}, func(err error) {
		rt.logger.Debug("Window drop not delivered; left to engine teardown.", zap.String("window", id), zap.Error(err))
	})
}

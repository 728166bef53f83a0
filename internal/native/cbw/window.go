package cbw

import (
	"fmt"
	"sync"

	"github.com/xkilldash9x/browser-window/internal/native"
)

// Window wraps a cbw_BrowserWindow reference.
type Window struct {
	engine *Engine
	ptr    uintptr
	id     string
	life   *native.Lifecycle

	mu    sync.Mutex
	title string
	url   string
}

func newWindowID(ptr uintptr) string {
	return fmt.Sprintf("cbw-%x", ptr)
}

// ID implements native.Window.
func (w *Window) ID() string { return w.id }

// Engine implements native.Window.
func (w *Window) Engine() native.Engine { return w.engine }

// Navigate implements native.Window.
func (w *Window) Navigate(url string) error {
	if err := w.life.Usable(); err != nil {
		return err
	}
	if ref := w.engine.lib.BrowserWindowNavigate(w.ptr, url); ref != 0 {
		nerr := w.engine.wrapErr(ref)
		return &native.NavigationError{URL: url, Message: nerr.Message(), Err: nerr}
	}
	w.mu.Lock()
	w.url = url
	w.mu.Unlock()
	return nil
}

// EvalJS implements native.Window.
func (w *Window) EvalJS(code string, cb native.EvalFunc, token native.Token) {
	if err := w.life.Usable(); err != nil {
		nerr := native.WrapError(native.CodeInternal, err)
		w.engine.Dispatch(func(native.Engine, native.Token) { cb(w, token, "", nerr) }, 0)
		return
	}
	data, ok := w.engine.evals.Put(pendingEval{window: w, cb: cb, token: token})
	if !ok {
		return
	}
	w.engine.lib.BrowserWindowEvalJS(w.ptr, code, w.engine.lib.evalCallback, uintptr(data))
}

// Close implements native.Window. The C side closes synchronously.
func (w *Window) Close() {
	if !w.life.RequestClose() {
		return
	}
	w.engine.lib.BrowserWindowClose(w.ptr)
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

func (w *Window) destroy() {
	w.engine.windows.Delete(w.ptr)
	w.engine.lib.BrowserWindowDrop(w.ptr)
}

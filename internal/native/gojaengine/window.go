package gojaengine

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/native"
)

var errEvalTimeout = errors.New("script evaluation timed out")

// navigable lists the URL schemes a window accepts.
var navigable = map[string]bool{
	"http":  true,
	"https": true,
	"file":  true,
	"about": true,
	"data":  true,
}

// Window is a headless JavaScript realm. Its runtime is only touched on the
// engine loop.
type Window struct {
	engine *Engine
	id     string
	logger *zap.Logger
	vm     *goja.Runtime
	life   *native.Lifecycle

	mu    sync.Mutex
	title string
	url   string

	// Loop-only state.
	timers    map[int64]*eventloop.Timer
	nextTimer int64
	pending   map[int64]func(string, *native.Error)
	nextEval  int64
}

func newWindow(e *Engine, id string, opts native.WindowOptions) (*Window, error) {
	w := &Window{
		engine:  e,
		id:      id,
		logger:  e.logger.With(zap.String("window_id", id)),
		vm:      goja.New(),
		title:   opts.Title,
		url:     "about:blank",
		timers:  make(map[int64]*eventloop.Timer),
		pending: make(map[int64]func(string, *native.Error)),
	}
	w.life = native.NewLifecycle(w.destroy)

	if err := w.installGlobals(); err != nil {
		return nil, fmt.Errorf("failed to initialize window realm: %w", err)
	}

	switch {
	case opts.SourceIsHTML:
		if t := htmlTitle(opts.Source); t != "" {
			w.title = t
		}
	case opts.Source != "":
		if err := w.Navigate(opts.Source); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// -- Realm setup --

func (w *Window) installGlobals() error {
	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{w.logger.Named("console")}))
	registry.Enable(w.vm)
	console.Enable(w.vm)

	global := w.vm.GlobalObject()
	if err := w.vm.Set("window", global); err != nil {
		return err
	}

	navigator := w.vm.NewObject()
	ua := w.engine.opts.UserAgent
	if ua == "" {
		ua = "browser-window/goja"
	}
	if err := navigator.Set("userAgent", ua); err != nil {
		return err
	}
	if err := w.vm.Set("navigator", navigator); err != nil {
		return err
	}

	location := w.vm.NewObject()
	if err := location.DefineAccessorProperty("href",
		w.vm.ToValue(func(goja.FunctionCall) goja.Value {
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.vm.ToValue(w.url)
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	if err := w.vm.Set("location", location); err != nil {
		return err
	}

	document := w.vm.NewObject()
	if err := document.DefineAccessorProperty("title",
		w.vm.ToValue(func(goja.FunctionCall) goja.Value {
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.vm.ToValue(w.title)
		}),
		w.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			w.mu.Lock()
			w.title = call.Argument(0).String()
			w.mu.Unlock()
			return goja.Undefined()
		}), goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	if err := document.Set("location", location); err != nil {
		return err
	}
	if err := w.vm.Set("document", document); err != nil {
		return err
	}

	if err := w.vm.Set("setTimeout", w.setTimeout); err != nil {
		return err
	}
	return w.vm.Set("clearTimeout", w.clearTimeout)
}

func (w *Window) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(w.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	w.nextTimer++
	id := w.nextTimer
	w.timers[id] = w.engine.loop.SetTimeout(func(*goja.Runtime) {
		w.engine.runJob(func() { w.fireTimer(id, fn, args) })
	}, delay)
	return w.vm.ToValue(id)
}

func (w *Window) fireTimer(id int64, fn goja.Callable, args []goja.Value) {
	if _, ok := w.timers[id]; !ok {
		return
	}
	delete(w.timers, id)
	if w.life.Usable() != nil {
		return
	}
	if _, err := fn(goja.Undefined(), args...); err != nil {
		w.logger.Warn("Uncaught error in timer callback.", zap.Error(err))
	}
}

func (w *Window) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := w.timers[id]; ok {
		w.engine.loop.ClearTimeout(t)
		delete(w.timers, id)
	}
	return goja.Undefined()
}

// -- native.Window --

// ID implements native.Window.
func (w *Window) ID() string { return w.id }

// Engine implements native.Window.
func (w *Window) Engine() native.Engine { return w.engine }

// Navigate implements native.Window. There is no network stack: navigation
// validates the URL and moves the realm's location.
func (w *Window) Navigate(rawURL string) error {
	if err := w.life.Usable(); err != nil {
		return err
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return &native.NavigationError{URL: rawURL, Message: fmt.Sprintf("invalid url %q", rawURL), Err: err}
	}
	if !navigable[strings.ToLower(u.Scheme)] {
		return &native.NavigationError{URL: rawURL, Message: fmt.Sprintf("unsupported url scheme %q", u.Scheme)}
	}

	title := ""
	if u.Scheme == "data" {
		if body, ok := dataURLHTML(u); ok {
			title = htmlTitle(body)
		}
	}

	w.mu.Lock()
	w.url = u.String()
	if title != "" {
		w.title = title
	}
	w.mu.Unlock()
	w.logger.Debug("Navigated.", zap.String("url", u.String()))
	return nil
}

// EvalJS implements native.Window. The callback always runs in a later loop
// job, never from inside EvalJS.
func (w *Window) EvalJS(code string, cb native.EvalFunc, token native.Token) {
	if err := w.life.Usable(); err != nil {
		nerr := native.WrapError(native.CodeInternal, err)
		w.engine.post(func() { cb(w, token, "", nerr) })
		return
	}
	w.engine.post(func() {
		w.eval(code, func(result string, err *native.Error) {
			cb(w, token, result, err)
		})
	})
}

// Close implements native.Window. The engine confirms the close in a later
// loop job, like a windowing system would.
func (w *Window) Close() {
	if !w.life.RequestClose() {
		return
	}
	if !w.engine.post(func() { w.life.ConfirmClosed() }) {
		w.life.ConfirmClosed()
	}
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

// destroy releases the realm once the window is closed and unreferenced.
func (w *Window) destroy() {
	w.engine.forget(w.id)
	w.vm.Interrupt(native.ErrWindowDestroyed)
	w.logger.Debug("Window destroyed.")

	w.engine.post(func() {
		for id, t := range w.timers {
			w.engine.loop.ClearTimeout(t)
			delete(w.timers, id)
		}
		nerr := native.WrapError(native.CodeInternal, native.ErrWindowDestroyed)
		for id, done := range w.pending {
			delete(w.pending, id)
			done("", nerr)
		}
	})
}

type consolePrinter struct {
	logger *zap.Logger
}

func (p consolePrinter) Log(s string)   { p.logger.Info(s) }
func (p consolePrinter) Warn(s string)  { p.logger.Warn(s) }
func (p consolePrinter) Error(s string) { p.logger.Error(s) }

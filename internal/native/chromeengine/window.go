package chromeengine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/native"
)

// Window is one Chromium tab.
type Window struct {
	engine *Engine
	id     string
	logger *zap.Logger
	life   *native.Lifecycle

	ctx    context.Context
	cancel context.CancelFunc
	worker *worker

	mu    sync.Mutex
	title string
	url   string
}

// open starts the tab and loads the initial source. Worker only.
func (w *Window) open(ctx context.Context, opts native.WindowOptions) error {
	actions := []chromedp.Action{}
	if opts.Width > 0 && opts.Height > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)))
	}
	switch {
	case opts.SourceIsHTML:
		actions = append(actions, chromedp.Navigate("data:text/html,"+url.PathEscape(opts.Source)))
	case opts.Source != "":
		actions = append(actions, chromedp.Navigate(opts.Source))
	}

	opCtx, cancel, wrap := withTimeout(ctx, w.engine.opts.NavigationTimeout, "window open")
	defer cancel()
	// Running with no actions still launches the browser and the tab.
	if err := wrap(chromedp.Run(opCtx, actions...)); err != nil {
		return err
	}
	w.refresh(ctx, opts.Title)
	return nil
}

// refresh reads back the page title and location after a navigation. The
// configured title wins when the page has none.
func (w *Window) refresh(ctx context.Context, fallback string) {
	var title, location string
	if err := chromedp.Run(ctx, chromedp.Title(&title), chromedp.Location(&location)); err != nil {
		w.logger.Debug("Could not read page state.", zap.Error(err))
		return
	}
	if title == "" {
		title = fallback
	}
	w.mu.Lock()
	if title != "" {
		w.title = title
	}
	w.url = location
	w.mu.Unlock()
}

// ID implements native.Window.
func (w *Window) ID() string { return w.id }

// Engine implements native.Window.
func (w *Window) Engine() native.Engine { return w.engine }

// Navigate implements native.Window. The URL is validated here; the load
// itself happens on the window worker, ordered before any later script.
func (w *Window) Navigate(rawURL string) error {
	if err := w.life.Usable(); err != nil {
		return err
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" {
		return &native.NavigationError{URL: rawURL, Message: fmt.Sprintf("invalid url %q", rawURL), Err: err}
	}

	target := u.String()
	if !w.worker.submit(func(ctx context.Context) {
		opCtx, cancel, wrap := withTimeout(ctx, w.engine.opts.NavigationTimeout, "navigation")
		defer cancel()
		if err := wrap(chromedp.Run(opCtx, chromedp.Navigate(target))); err != nil {
			w.logger.Warn("Navigation failed.", zap.String("url", target), zap.Error(err))
			return
		}
		w.refresh(ctx, "")
	}) {
		return native.ErrWindowDestroyed
	}
	return nil
}

// EvalJS implements native.Window.
func (w *Window) EvalJS(code string, cb native.EvalFunc, token native.Token) {
	if err := w.life.Usable(); err != nil {
		nerr := native.WrapError(native.CodeInternal, err)
		w.engine.post(func() { cb(w, token, "", nerr) })
		return
	}
	ok := w.worker.submit(func(ctx context.Context) {
		result, nerr := w.evaluate(ctx, code)
		w.engine.post(func() { cb(w, token, result, nerr) })
	})
	if !ok {
		nerr := native.WrapError(native.CodeInternal, native.ErrWindowDestroyed)
		w.engine.post(func() { cb(w, token, "", nerr) })
	}
}

// evaluate runs code in the page and renders the result. Worker only.
func (w *Window) evaluate(ctx context.Context, code string) (string, *native.Error) {
	opCtx, cancel, wrap := withTimeout(ctx, w.engine.opts.EvalTimeout, "script evaluation")
	defer cancel()

	var obj *runtime.RemoteObject
	err := chromedp.Run(opCtx, chromedp.Evaluate(code, &obj, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))

	var details *runtime.ExceptionDetails
	switch {
	case errors.As(err, &details):
		return "", exceptionError(details)
	case err != nil:
		return "", native.WrapError(native.CodeInternal, wrap(err))
	}
	return renderRemote(obj), nil
}

// renderRemote prints a by-value remote object: strings raw, everything else
// as its JSON value.
func renderRemote(obj *runtime.RemoteObject) string {
	if obj == nil || obj.Type == runtime.TypeUndefined {
		return "undefined"
	}
	if obj.Type == runtime.TypeString {
		var s string
		if err := json.Unmarshal(obj.Value, &s); err == nil {
			return s
		}
	}
	if len(obj.Value) > 0 {
		return string(obj.Value)
	}
	if obj.UnserializableValue != "" {
		return string(obj.UnserializableValue)
	}
	return obj.Description
}

// exceptionError snapshots what the message needs; formatting waits for the
// first Message call.
func exceptionError(details *runtime.ExceptionDetails) *native.Error {
	text := details.Text
	description := ""
	if details.Exception != nil {
		description = details.Exception.Description
		if description == "" && len(details.Exception.Value) > 0 {
			description = "Uncaught " + strings.Trim(string(details.Exception.Value), `"`)
		}
	}
	return native.NewError(native.CodeScriptException, [2]string{text, description}, func(_ int, data any) string {
		parts := data.([2]string)
		if parts[1] != "" {
			// Descriptions of Error objects carry the stack after the first line.
			first, _, _ := strings.Cut(parts[1], "\n")
			return first
		}
		return parts[0]
	})
}

// Close implements native.Window. The tab closes on the worker and the loop
// confirms afterwards.
func (w *Window) Close() {
	if !w.life.RequestClose() {
		return
	}
	ok := w.worker.submit(func(ctx context.Context) {
		if err := chromedp.Cancel(ctx); err != nil {
			w.logger.Debug("Tab close reported an error.", zap.Error(err))
		}
		w.engine.post(func() { w.life.ConfirmClosed() })
	})
	if !ok {
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

func (w *Window) destroy() {
	w.engine.forget(w.id)
	w.worker.stop()
	w.cancel()
	w.logger.Debug("Window destroyed.")
}

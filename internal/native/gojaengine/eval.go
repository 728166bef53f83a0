package gojaengine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/browser-window/internal/native"
)

// eval runs code in the realm and reports the outcome through done exactly
// once, possibly in a later loop job when the script returns a promise.
// Loop only.
func (w *Window) eval(code string, done func(string, *native.Error)) {
	settle := w.track(done)

	// The timer fires on its own goroutine; the guard keeps a late fire from
	// interrupting the next script.
	var guard sync.Mutex
	active := true
	timer := time.AfterFunc(w.engine.opts.EvalTimeout, func() {
		guard.Lock()
		defer guard.Unlock()
		if active {
			w.vm.Interrupt(errEvalTimeout)
		}
	})
	val, err := w.run(code)
	guard.Lock()
	active = false
	guard.Unlock()
	timer.Stop()
	w.vm.ClearInterrupt()

	if err != nil {
		settle("", w.scriptError(err))
		return
	}
	if p, ok := val.Export().(*goja.Promise); ok {
		w.awaitPromise(p, settle)
		return
	}
	settle(stringify(val), nil)
}

// track registers done so a window destroyed mid-flight still answers, and
// returns a wrapper that answers at most once.
func (w *Window) track(done func(string, *native.Error)) func(string, *native.Error) {
	w.nextEval++
	id := w.nextEval
	w.pending[id] = done
	return func(result string, err *native.Error) {
		if fn, ok := w.pending[id]; ok {
			delete(w.pending, id)
			fn(result, err)
		}
	}
}

// run executes a snippet, or calls it when it looks like a function wrapper.
func (w *Window) run(code string) (goja.Value, error) {
	if !isFunctionWrapper(code) {
		return w.vm.RunString(code)
	}
	prog, err := goja.Compile("", code, false)
	if err != nil {
		return nil, err
	}
	val, err := w.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return val, nil
	}
	return fn(w.vm.GlobalObject())
}

// isFunctionWrapper detects the common ways callers hand over a function
// instead of an expression.
func isFunctionWrapper(code string) bool {
	s := strings.TrimSpace(code)
	if len(s) < 5 {
		return false
	}
	for _, prefix := range []string{"(function", "(async function", "function", "async function", "(()=>", "(() =>", "(async ("} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func (w *Window) awaitPromise(p *goja.Promise, settle func(string, *native.Error)) {
	switch p.State() {
	case goja.PromiseStateFulfilled:
		settle(stringify(p.Result()), nil)
		return
	case goja.PromiseStateRejected:
		settle("", thrownError(p.Result(), "Uncaught (in promise)"))
		return
	}

	obj := w.vm.ToValue(p).ToObject(w.vm)
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		settle("", native.NewErrorMessage(native.CodeInternal, "promise has no then method"))
		return
	}
	onFulfilled := w.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		settle(stringify(call.Argument(0)), nil)
		return goja.Undefined()
	})
	onRejected := w.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		settle("", thrownError(call.Argument(0), "Uncaught (in promise)"))
		return goja.Undefined()
	})
	if _, err := then(obj, onFulfilled, onRejected); err != nil {
		settle("", w.scriptError(err))
	}
}

// scriptError converts a goja failure into an engine error. Everything the
// message needs is captured here, on the loop; the text itself is built on
// first use.
func (w *Window) scriptError(err error) *native.Error {
	var interrupted *goja.InterruptedError
	var exception *goja.Exception
	var syntax *goja.CompilerSyntaxError
	switch {
	case errors.As(err, &interrupted):
		cause, _ := interrupted.Value().(error)
		switch {
		case errors.Is(cause, errEvalTimeout):
			return native.WrapError(native.CodeInternal,
				fmt.Errorf("%w after %s", errEvalTimeout, w.engine.opts.EvalTimeout))
		case cause != nil:
			return native.WrapError(native.CodeInternal, cause)
		}
		return native.NewErrorMessage(native.CodeInternal, "script execution interrupted")
	case errors.As(err, &exception):
		return thrownError(exception.Value(), "Uncaught")
	case errors.As(err, &syntax):
		return native.NewError(native.CodeScriptException, syntax.Error(), func(_ int, data any) string {
			return "SyntaxError: " + data.(string)
		})
	default:
		w.logger.Debug("Unclassified script failure.", zap.Error(err))
		return native.NewErrorMessage(native.CodeInternal, err.Error())
	}
}

// thrown is a loop-side snapshot of a thrown JavaScript value.
type thrown struct {
	prefix  string
	name    string
	message string
	text    string
}

// thrownError snapshots v and defers formatting to the first Message call.
func thrownError(v goja.Value, prefix string) *native.Error {
	t := thrown{prefix: prefix, text: safeString(v)}
	if obj, ok := v.(*goja.Object); ok {
		t.name = safeString(obj.Get("name"))
		t.message = safeString(obj.Get("message"))
	}
	return native.NewError(native.CodeScriptException, t, formatThrown)
}

func formatThrown(_ int, data any) string {
	t := data.(thrown)
	if t.name != "" && t.name != "undefined" {
		if t.message == "" || t.message == "undefined" {
			return t.name
		}
		return t.name + ": " + t.message
	}
	return t.prefix + " " + t.text
}

// stringify renders a script result the way a console would print it:
// strings as is, objects as JSON, everything else through ToString.
func stringify(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if b, err := obj.MarshalJSON(); err == nil {
				return string(b)
			}
		}
	}
	return safeString(v)
}

// safeString calls ToString, which can run user code for objects.
func safeString(v goja.Value) (s string) {
	if v == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<unprintable: %v>", r)
		}
	}()
	return v.String()
}

// -- HTML helpers --

// htmlTitle returns the text of the first <title> element of src.
func htmlTitle(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	var find func(*html.Node) string
	find = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.Data == "title" {
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			return strings.TrimSpace(b.String())
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := find(c); t != "" {
				return t
			}
		}
		return ""
	}
	return find(doc)
}

// dataURLHTML decodes the body of a text/html data URL.
func dataURLHTML(u *url.URL) (string, bool) {
	raw := u.Opaque
	if raw == "" {
		raw = strings.TrimPrefix(u.String(), "data:")
	}
	meta, body, ok := strings.Cut(raw, ",")
	if !ok || !strings.HasPrefix(strings.ToLower(meta), "text/html") {
		return "", false
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	s, err := url.PathUnescape(body)
	if err != nil {
		return "", false
	}
	return s, true
}

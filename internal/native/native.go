// Package native describes the function table a browser engine exposes to this
// module. It mirrors the C interface of the engine library: opaque engine and
// window references, fixed callback function types, and pointer-sized tokens
// that carry caller context across the boundary untouched.
//
// Implementations live in the sub-packages (gojaengine, chromeengine, cbw). The
// contract every implementation must honor for callbacks is: deliver at most
// once, on the owning thread, with the same token that was supplied.
package native

import "time"

// Token is an opaque pointer-sized identifier owned by the caller. Engines never
// interpret it; they hand it back to the callback it was scheduled with.
type Token uintptr

// DispatchFunc is the callback shape for engine_run and engine_dispatch.
type DispatchFunc func(engine Engine, token Token)

// EvalFunc receives the outcome of window_eval_js. Exactly one of result or err
// is meaningful: err is nil on success.
type EvalFunc func(window Window, token Token, result string, err *Error)

// StoreFunc receives the outcome of a cookie store request.
type StoreFunc func(token Token, err *Error)

// IterateFunc receives the cookies matched by a cookie iteration request.
type IterateFunc func(token Token, cookies []Cookie, err *Error)

// DeleteFunc receives the number of cookies removed by a delete request.
type DeleteFunc func(token Token, deleted int)

// Engine is the application instance and its event loop. There is exactly one
// per process. Only Dispatch and ExitAsync may be called from a thread other
// than the owning thread.
type Engine interface {
	// Name identifies the backend in logs.
	Name() string

	// Run blocks the calling goroutine while the event loop runs, invoking
	// ready once the loop is up. It returns the exit code passed to Exit or
	// ExitAsync.
	Run(ready DispatchFunc, token Token) int

	// Dispatch schedules fn to run on the owning thread. It returns false when
	// the loop no longer accepts work, in which case fn will never be called.
	Dispatch(fn DispatchFunc, token Token) bool

	// Exit stops the loop. Owning thread only.
	Exit(code int)

	// ExitAsync stops the loop from any thread.
	ExitAsync(code int)

	// Finish releases engine resources after Run has returned.
	Finish()

	// OnOwnerThread reports whether the caller runs on the owning thread.
	OnOwnerThread() bool

	// CreateWindow opens a new browser window. Owning thread only.
	CreateWindow(opts WindowOptions) (Window, error)

	// Cookies returns the engine-wide cookie jar.
	Cookies() CookieJar
}

// Window is a single browser window. A Window reference stays valid for the
// whole lifecycle; operations issued after the window was closed fail with
// ErrWindowClosed or ErrWindowDestroyed instead of touching released state.
type Window interface {
	ID() string
	Engine() Engine

	Navigate(url string) error
	EvalJS(code string, cb EvalFunc, token Token)

	// Close requests the window to close. The backing object is destroyed
	// once the engine confirms the close and the last handle was dropped.
	Close()

	// Retain registers an additional handle. Drop releases one.
	Retain() error
	Drop()

	State() WindowState
	Title() (string, error)
	URL() (string, error)
}

// CookieJar is the engine-wide cookie storage. Completion callbacks are
// delivered on the owning thread.
type CookieJar interface {
	Store(url string, cookie Cookie, cb StoreFunc, token Token)
	Iterate(url string, includeHTTPOnly bool, cb IterateFunc, token Token)
	Delete(url, name string, cb DeleteFunc, token Token)
}

// Cookie is a single HTTP cookie as seen by the engine.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Creation time.Time
	Expires  time.Time // zero for session cookies
	Secure   bool
	HTTPOnly bool
}

// WindowOptions configures CreateWindow.
type WindowOptions struct {
	Title       string
	Width       int
	Height      int
	Borders     bool
	Resizable   bool
	Minimizable bool
	Opacity     uint8
	DevTools    bool

	// Source is what the window loads first: a URL, or inline HTML when
	// SourceIsHTML is set.
	Source       string
	SourceIsHTML bool
}

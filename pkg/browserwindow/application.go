package browserwindow

import (
	"github.com/xkilldash9x/browser-window/internal/future"
	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/task"
)

// Application is the thread-affine application handle. It is handed to code
// running on the event loop thread; its methods return ErrNotOwner anywhere
// else. Copies share the same application.
type Application struct {
	rt *Runtime
}

// Exit makes Run return code once the current callback returns.
func (a Application) Exit(code int) error {
	if err := a.rt.onOwner(); err != nil {
		return err
	}
	a.rt.engine.Exit(code)
	return nil
}

// Async returns the thread-safe view of the application.
func (a Application) Async() ApplicationAsync {
	return ApplicationAsync(a)
}

// Spawn polls p right away and keeps driving it through dispatch cycles
// until it completes.
func (a Application) Spawn(p Poller) (*Task, error) {
	return task.SpawnLocal(a.rt.bridge, p, a.rt.logger)
}

// Cookies returns the engine-wide cookie jar.
func (a Application) Cookies() (*CookieJar, error) {
	if err := a.rt.onOwner(); err != nil {
		return nil, err
	}
	return &CookieJar{rt: a.rt}, nil
}

// ApplicationAsync is the thread-safe application handle. It can only
// schedule work onto the event loop and request an exit.
type ApplicationAsync struct {
	rt *Runtime
}

// Dispatch runs fn on the event loop thread and reports whether the loop
// accepted it. fn runs at most once; a rejected fn never runs.
func (a ApplicationAsync) Dispatch(fn func(app Application)) bool {
	return a.rt.bridge.Dispatch(func(native.Engine) {
		fn(Application{rt: a.rt})
	})
}

// Exit asks the event loop to stop with code. It never blocks.
func (a ApplicationAsync) Exit(code int) {
	a.rt.engine.ExitAsync(code)
}

// Spawn drives p to completion on the event loop thread.
func (a ApplicationAsync) Spawn(p Poller) *Task {
	return a.rt.Spawn(p)
}

// Cookies returns the thread-safe view of the cookie jar.
func (a ApplicationAsync) Cookies() *CookieJarThreaded {
	return &CookieJarThreaded{rt: a.rt}
}

// DispatchApp runs fn on the event loop thread and resolves with its result.
// The future fails with ErrScheduleRejected if the loop refused the work and
// with ErrDisconnected if fn panicked or was never delivered.
func DispatchApp[R any](a ApplicationAsync, fn func(app Application) (R, error)) *Future[R] {
	return future.Call(a.rt.bridge, func(native.Engine) (R, error) {
		return fn(Application{rt: a.rt})
	})
}

// relay runs fn on the event loop thread and forwards the future it returns.
func relay[T any](rt *Runtime, fn func(app Application) *Future[T]) *Future[T] {
	tx, f := future.Pending[T]()
	rt.bridge.DispatchUnit(func(native.Engine) {
		future.Forward(fn(Application{rt: rt}), tx)
	}, func(err error) {
		tx.Fail(err)
	})
	return f
}

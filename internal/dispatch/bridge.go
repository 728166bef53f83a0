// Package dispatch moves closures across the engine's callback boundary.
//
// Every closure handed to the engine is parked in a token registry and only the
// token travels through the native call, together with one fixed trampoline per
// callback shape. The trampoline takes the closure back out of the registry
// before invoking it, so a closure runs at most once no matter how often the
// engine calls back, and a closure the engine never delivers is reclaimed when
// the bridge shuts down.
package dispatch

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/native"
)

var (
	// ErrScheduleRejected is reported when the engine no longer accepts work.
	ErrScheduleRejected = errors.New("dispatch rejected: event loop is shutting down")
	// ErrDisconnected is reported to a waiting caller whose unit was dropped
	// without producing a result.
	ErrDisconnected = errors.New("dispatch disconnected: unit dropped before completing")
)

// Func is a unit of work run on the owning thread.
type Func func(engine native.Engine)

// EvalFunc receives a script result. Exactly one of result and err is set.
type EvalFunc func(window native.Window, result string, err *native.Error)

// StoreFunc receives the outcome of a cookie store.
type StoreFunc func(err *native.Error)

// IterateFunc receives matched cookies.
type IterateFunc func(cookies []native.Cookie, err *native.Error)

// DeleteFunc receives the number of deleted cookies.
type DeleteFunc func(deleted int)

// DropFunc is told why a unit will never run. It is called at most once, and
// never for a unit that ran to completion.
type DropFunc func(err error)

// unit pairs a closure with its drop hook.
type unit[F any] struct {
	fn   F
	drop DropFunc
}

func (u unit[F]) discard(err error) {
	if u.drop != nil {
		u.drop(err)
	}
}

// Stats is a snapshot of the bridge counters.
type Stats struct {
	Scheduled  uint64
	Delivered  uint64
	Rejected   uint64
	Duplicates uint64
	Panics     uint64
	Reclaimed  uint64
	Pending    int
}

// Bridge schedules closures on the engine's owning thread.
type Bridge struct {
	engine native.Engine
	logger *zap.Logger

	units   *Registry[unit[Func]]
	evals   *Registry[unit[EvalFunc]]
	stores  *Registry[unit[StoreFunc]]
	iters   *Registry[unit[IterateFunc]]
	deletes *Registry[unit[DeleteFunc]]

	// Trampolines are bound once so the engine always sees the same callback.
	onDispatch native.DispatchFunc
	onEval     native.EvalFunc
	onStore    native.StoreFunc
	onIterate  native.IterateFunc
	onDelete   native.DeleteFunc

	scheduled  atomic.Uint64
	delivered  atomic.Uint64
	rejected   atomic.Uint64
	duplicates atomic.Uint64
	panics     atomic.Uint64
	reclaimed  atomic.Uint64
}

// New returns a bridge bound to engine.
func New(engine native.Engine, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		engine:  engine,
		logger:  logger.Named("dispatch"),
		units:   NewRegistry[unit[Func]](),
		evals:   NewRegistry[unit[EvalFunc]](),
		stores:  NewRegistry[unit[StoreFunc]](),
		iters:   NewRegistry[unit[IterateFunc]](),
		deletes: NewRegistry[unit[DeleteFunc]](),
	}
	b.onDispatch = b.deliver
	b.onEval = b.deliverEval
	b.onStore = b.deliverStore
	b.onIterate = b.deliverIterate
	b.onDelete = b.deliverDelete
	return b
}

// Engine returns the engine the bridge schedules onto.
func (b *Bridge) Engine() native.Engine {
	return b.engine
}

// Dispatch schedules fn on the owning thread and reports whether the engine
// accepted it. A rejected fn is discarded without running.
func (b *Bridge) Dispatch(fn Func) bool {
	return b.DispatchUnit(fn, nil)
}

// DispatchUnit is Dispatch with a drop hook. onDrop receives
// ErrScheduleRejected synchronously when the engine refuses the unit, or
// ErrDisconnected if the unit panics or is reclaimed at shutdown.
func (b *Bridge) DispatchUnit(fn Func, onDrop DropFunc) bool {
	u := unit[Func]{fn: fn, drop: onDrop}
	tok, ok := b.units.Put(u)
	if !ok {
		b.reject(u.drop, "dispatch")
		return false
	}
	b.scheduled.Add(1)

	if !b.engine.Dispatch(b.onDispatch, tok) {
		// The engine will never call back, so the unit must be reclaimed here.
		// Take can only fail if a misbehaving engine delivered anyway.
		if back, ok := b.units.Take(tok); ok {
			b.reject(back.drop, "dispatch")
		}
		return false
	}
	return true
}

// Run blocks in the engine's event loop, running ready first. It returns the
// engine exit code.
func (b *Bridge) Run(ready Func) int {
	u := unit[Func]{fn: ready}
	tok, ok := b.units.Put(u)
	if !ok {
		b.logger.Warn("Run called on a reclaimed bridge.")
		return -1
	}
	b.scheduled.Add(1)
	return b.engine.Run(b.onDispatch, tok)
}

// EvalJS runs code in window and routes the outcome to fn. Owning thread only,
// since it calls into the window directly.
func (b *Bridge) EvalJS(window native.Window, code string, fn EvalFunc, onDrop DropFunc) {
	tok, ok := b.evals.Put(unit[EvalFunc]{fn: fn, drop: onDrop})
	if !ok {
		b.reject(onDrop, "eval_js")
		return
	}
	b.scheduled.Add(1)
	window.EvalJS(code, b.onEval, tok)
}

// StoreCookie stores a cookie and routes the outcome to fn. Owning thread only.
func (b *Bridge) StoreCookie(url string, cookie native.Cookie, fn StoreFunc, onDrop DropFunc) {
	tok, ok := b.stores.Put(unit[StoreFunc]{fn: fn, drop: onDrop})
	if !ok {
		b.reject(onDrop, "cookie_store")
		return
	}
	b.scheduled.Add(1)
	b.engine.Cookies().Store(url, cookie, b.onStore, tok)
}

// IterateCookies lists the cookies for url and routes them to fn. Owning
// thread only.
func (b *Bridge) IterateCookies(url string, includeHTTPOnly bool, fn IterateFunc, onDrop DropFunc) {
	tok, ok := b.iters.Put(unit[IterateFunc]{fn: fn, drop: onDrop})
	if !ok {
		b.reject(onDrop, "cookie_iterate")
		return
	}
	b.scheduled.Add(1)
	b.engine.Cookies().Iterate(url, includeHTTPOnly, b.onIterate, tok)
}

// DeleteCookies removes cookies and routes the count to fn. An empty name
// removes every cookie matching url. Owning thread only.
func (b *Bridge) DeleteCookies(url, name string, fn DeleteFunc, onDrop DropFunc) {
	tok, ok := b.deletes.Put(unit[DeleteFunc]{fn: fn, drop: onDrop})
	if !ok {
		b.reject(onDrop, "cookie_delete")
		return
	}
	b.scheduled.Add(1)
	b.engine.Cookies().Delete(url, name, b.onDelete, tok)
}

// Reclaim closes the bridge. Units still parked, meaning the engine never
// delivered them, are dropped with ErrDisconnected; later scheduling attempts
// are rejected. It returns the number of reclaimed units.
func (b *Bridge) Reclaim() int {
	err := fmt.Errorf("%w: engine finished before delivery", ErrDisconnected)
	n := reclaim(b.units, err) +
		reclaim(b.evals, err) +
		reclaim(b.stores, err) +
		reclaim(b.iters, err) +
		reclaim(b.deletes, err)
	b.reclaimed.Add(uint64(n))
	if n > 0 {
		b.logger.Info("Reclaimed undelivered units.", zap.Int("count", n))
	}
	return n
}

func reclaim[F any](r *Registry[unit[F]], err error) int {
	units := r.Close()
	for _, u := range units {
		u.discard(err)
	}
	return len(units)
}

// Pending returns the number of units parked in the bridge.
func (b *Bridge) Pending() int {
	return b.units.Len() + b.evals.Len() + b.stores.Len() + b.iters.Len() + b.deletes.Len()
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Scheduled:  b.scheduled.Load(),
		Delivered:  b.delivered.Load(),
		Rejected:   b.rejected.Load(),
		Duplicates: b.duplicates.Load(),
		Panics:     b.panics.Load(),
		Reclaimed:  b.reclaimed.Load(),
		Pending:    b.Pending(),
	}
}

// -- Trampolines --

func (b *Bridge) deliver(engine native.Engine, tok native.Token) {
	u, ok := b.units.Take(tok)
	if !ok {
		b.unknown("dispatch", tok)
		return
	}
	b.invoke("dispatch", u.drop, func() { u.fn(engine) })
}

func (b *Bridge) deliverEval(window native.Window, tok native.Token, result string, err *native.Error) {
	u, ok := b.evals.Take(tok)
	if !ok {
		b.unknown("eval_js", tok)
		return
	}
	b.invoke("eval_js", u.drop, func() { u.fn(window, result, err) })
}

func (b *Bridge) deliverStore(tok native.Token, err *native.Error) {
	u, ok := b.stores.Take(tok)
	if !ok {
		b.unknown("cookie_store", tok)
		return
	}
	b.invoke("cookie_store", u.drop, func() { u.fn(err) })
}

func (b *Bridge) deliverIterate(tok native.Token, cookies []native.Cookie, err *native.Error) {
	u, ok := b.iters.Take(tok)
	if !ok {
		b.unknown("cookie_iterate", tok)
		return
	}
	b.invoke("cookie_iterate", u.drop, func() { u.fn(cookies, err) })
}

func (b *Bridge) deliverDelete(tok native.Token, deleted int) {
	u, ok := b.deletes.Take(tok)
	if !ok {
		b.unknown("cookie_delete", tok)
		return
	}
	b.invoke("cookie_delete", u.drop, func() { u.fn(deleted) })
}

// invoke runs a delivered closure. A panic is contained so the owning thread
// keeps running, and the waiting side is told the unit disconnected.
func (b *Bridge) invoke(kind string, drop DropFunc, call func()) {
	b.delivered.Add(1)
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("Recovered from panic in dispatched unit.",
				zap.String("kind", kind),
				zap.Any("panic_value", r),
				zap.String("stack", string(debug.Stack())),
			)
			if drop != nil {
				drop(fmt.Errorf("%w: %s unit panicked: %v", ErrDisconnected, kind, r))
			}
		}
	}()
	call()
}

func (b *Bridge) reject(drop DropFunc, kind string) {
	b.rejected.Add(1)
	b.logger.Debug("Unit rejected.", zap.String("kind", kind))
	if drop != nil {
		drop(ErrScheduleRejected)
	}
}

func (b *Bridge) unknown(kind string, tok native.Token) {
	b.duplicates.Add(1)
	b.logger.Warn("Ignoring callback for a token that is not pending.",
		zap.String("kind", kind),
		zap.Uint64("token", uint64(tok)),
	)
}

// Package cbw binds a browser-window C library through purego. The library
// exposes a flat C function table; this package resolves it at run time, so
// no cgo toolchain is needed.
//
// The C side never sees a Go pointer. Work is parked in token registries and
// the token travels as the callback's user data, next to one of two fixed
// trampolines created once per process.
package cbw

import (
	"fmt"
	"sync"
	"unsafe"
)

// Window creation flags understood by cbw_BrowserWindow_new.
const (
	flagBorders uint32 = 1 << iota
	flagResizable
	flagMinimizable
	flagDevTools
	flagSourceIsHTML
)

// Library is the resolved C function table. Field names follow the exported
// symbols, minus the cbw_ prefix.
type Library struct {
	ApplicationInitialize func(argc int32, argv uintptr) uintptr
	ApplicationRun        func(app, cb, data uintptr) int32
	ApplicationDispatch   func(app, cb, data uintptr) int32
	ApplicationExit       func(app uintptr, code int32)
	ApplicationExitAsync  func(app uintptr, code int32)
	ApplicationFinish     func(app uintptr)

	BrowserWindowNew      func(app uintptr, title string, width, height int32, flags uint32, opacity uint8, source string) uintptr
	BrowserWindowNavigate func(window uintptr, url string) uintptr
	BrowserWindowEvalJS   func(window uintptr, code string, cb, data uintptr)
	BrowserWindowClose    func(window uintptr)
	BrowserWindowDrop     func(window uintptr)

	ErrCode    func(err uintptr) int32
	ErrMessage func(err uintptr) string
	ErrFree    func(err uintptr)

	// Function pointers of the trampolines, as handed to the C side.
	dispatchCallback uintptr
	evalCallback     uintptr
}

// symbols maps every C symbol to the field that receives it.
func (l *Library) symbols() map[string]any {
	return map[string]any{
		"cbw_Application_initialize": &l.ApplicationInitialize,
		"cbw_Application_run":        &l.ApplicationRun,
		"cbw_Application_dispatch":   &l.ApplicationDispatch,
		"cbw_Application_exit":       &l.ApplicationExit,
		"cbw_Application_exitAsync":  &l.ApplicationExitAsync,
		"cbw_Application_finish":     &l.ApplicationFinish,
		"cbw_BrowserWindow_new":      &l.BrowserWindowNew,
		"cbw_BrowserWindow_navigate": &l.BrowserWindowNavigate,
		"cbw_BrowserWindow_evalJs":   &l.BrowserWindowEvalJS,
		"cbw_BrowserWindow_close":    &l.BrowserWindowClose,
		"cbw_BrowserWindow_drop":     &l.BrowserWindowDrop,
		"cbw_Err_code":               &l.ErrCode,
		"cbw_Err_message":            &l.ErrMessage,
		"cbw_Err_free":               &l.ErrFree,
	}
}

func (l *Library) validate() error {
	for name, field := range l.symbols() {
		if isNilFunc(field) {
			return fmt.Errorf("cbw: symbol %s is not bound", name)
		}
	}
	return nil
}

func isNilFunc(field any) bool {
	switch f := field.(type) {
	case *func(int32, uintptr) uintptr:
		return *f == nil
	case *func(uintptr, uintptr, uintptr) int32:
		return *f == nil
	case *func(uintptr, int32):
		return *f == nil
	case *func(uintptr):
		return *f == nil
	case *func(uintptr, string, int32, int32, uint32, uint8, string) uintptr:
		return *f == nil
	case *func(uintptr, string) uintptr:
		return *f == nil
	case *func(uintptr, string, uintptr, uintptr):
		return *f == nil
	case *func(uintptr) int32:
		return *f == nil
	case *func(uintptr) string:
		return *f == nil
	default:
		return true
	}
}

// -- Engine lookup for trampolines --

// engines maps application references to engines, so a trampoline invoked
// by C can find its way back.
var engines sync.Map // uintptr -> *Engine

func lookupEngine(app uintptr) *Engine {
	if v, ok := engines.Load(app); ok {
		return v.(*Engine)
	}
	return nil
}

// dispatchTrampoline is the C callback for run and dispatch:
// void (*)(cbw_Application*, void*).
func dispatchTrampoline(app, data uintptr) uintptr {
	if e := lookupEngine(app); e != nil {
		e.deliverDispatch(data)
	}
	return 0
}

// evalTrampoline is the C callback for eval_js:
// void (*)(cbw_BrowserWindow*, void*, const char* result, cbw_Err* err).
func evalTrampoline(window, data, result, err uintptr) uintptr {
	engines.Range(func(_, v any) bool {
		return !v.(*Engine).deliverEval(window, data, result, err)
	})
	return 0
}

// goString copies a NUL terminated C string.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	ptr := unsafe.Pointer(p) //nolint:govet // C-owned memory, valid for the callback's duration
	n := 0
	for *(*byte)(unsafe.Add(ptr, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(ptr), n))
}

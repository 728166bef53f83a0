package browserwindow

import (
	"errors"

	"github.com/xkilldash9x/browser-window/internal/dispatch"
	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/task"
)

// Error categories. Match them with errors.Is.
var (
	// ErrScheduleRejected means the event loop refused new work because it is
	// shutting down. The rejected closure never ran.
	ErrScheduleRejected = dispatch.ErrScheduleRejected
	// ErrDisconnected means the producer of a result vanished: the closure
	// panicked, or the engine finished before delivering it.
	ErrDisconnected = dispatch.ErrDisconnected
	// ErrWindowClosed is returned while a closed window still has handles.
	ErrWindowClosed = native.ErrWindowClosed
	// ErrWindowDestroyed is returned once the window is gone.
	ErrWindowDestroyed = native.ErrWindowDestroyed
	// ErrUnsupported marks an operation the selected engine cannot perform.
	ErrUnsupported = native.ErrUnsupported
	// ErrNotOwner is returned when a thread-affine handle is used away from
	// the event loop thread.
	ErrNotOwner = task.ErrNotOwner
	// ErrAbandoned reports a task whose loop stopped before it completed.
	ErrAbandoned = task.ErrAbandoned
	// ErrAlreadyRan is returned by a second Run on the same runtime.
	ErrAlreadyRan = errors.New("runtime has already run")
	// ErrReleased is returned by handles used after Release.
	ErrReleased = errors.New("browser handle has been released")
)

// NavigationError is returned when the engine refuses a URL.
type NavigationError = native.NavigationError

// EngineError is an error reported by the engine, with its code and a
// message computed on first use.
type EngineError = native.Error

// JsEvaluationError is returned when a script throws, fails to compile, or
// times out. The message is taken from the engine error the first time it is
// read.
type JsEvaluationError struct {
	err *native.Error
}

func newJsEvaluationError(err *native.Error) *JsEvaluationError {
	return &JsEvaluationError{err: err}
}

// Code returns the engine error code.
func (e *JsEvaluationError) Code() int { return e.err.Code }

// Message returns the engine's description of the failure.
func (e *JsEvaluationError) Message() string { return e.err.Message() }

// Error implements the error interface.
func (e *JsEvaluationError) Error() string {
	return "javascript evaluation failed: " + e.err.Message()
}

// Unwrap exposes the engine error.
func (e *JsEvaluationError) Unwrap() error { return e.err }

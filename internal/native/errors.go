package native

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors shared by every backend. Consumers classify failures with
// errors.Is instead of matching message text.
var (
	// ErrWindowClosed is returned for operations on a window whose close was
	// requested but which still has live handles.
	ErrWindowClosed = errors.New("window is closed")
	// ErrWindowDestroyed is returned once the window's backing object is gone.
	ErrWindowDestroyed = errors.New("window has been destroyed")
	// ErrEngineFinished is returned when the engine no longer accepts work.
	ErrEngineFinished = errors.New("engine has finished")
	// ErrUnsupported marks an operation the backend does not implement.
	ErrUnsupported = errors.New("operation not supported by this engine")
)

// Well-known error codes. Backends may use other codes for engine specific
// failures.
const (
	CodeScriptException = 1
	CodeNavigation      = 2
	CodeCookie          = 3
	CodeInternal        = 99
)

// MessageFunc materializes the human readable message of an Error from its
// code and opaque data.
type MessageFunc func(code int, data any) string

// Error is the engine error value (ErrorRef). The message is computed lazily
// the first time it is requested, and at most once.
type Error struct {
	Code int

	data   any
	format MessageFunc
	cause  error

	once sync.Once
	msg  string
}

// NewError builds an Error whose message is produced by format on first use.
// Data must be safe to read from any goroutine.
func NewError(code int, data any, format MessageFunc) *Error {
	return &Error{Code: code, data: data, format: format}
}

// NewErrorMessage builds an Error with a fixed message.
func NewErrorMessage(code int, msg string) *Error {
	return NewError(code, msg, func(_ int, data any) string {
		return data.(string)
	})
}

// WrapError builds an Error carrying a Go error, so callers can still match
// the cause with errors.Is after it crossed a callback boundary.
func WrapError(code int, cause error) *Error {
	e := NewError(code, cause, func(_ int, data any) string {
		return data.(error).Error()
	})
	e.cause = cause
	return e
}

// Message returns the error message, computing it on the first call.
func (e *Error) Message() string {
	e.once.Do(func() {
		if e.format == nil {
			e.msg = fmt.Sprintf("engine error %d", e.Code)
			return
		}
		e.msg = e.format(e.Code, e.data)
	})
	return e.msg
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message()
}

// Unwrap returns the Go error the Error was built from, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NavigationError represents a failure during a navigation attempt.
type NavigationError struct {
	URL     string
	Message string
	Err     error // underlying parse or protocol error
}

// Error implements the error interface.
func (e *NavigationError) Error() string {
	return e.Message
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *NavigationError) Unwrap() error {
	return e.Err
}

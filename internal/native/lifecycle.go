package native

import "sync"

// WindowState is the lifecycle stage of a window.
type WindowState int32

const (
	// WindowOpen is a live window.
	WindowOpen WindowState = iota
	// WindowCloseRequested is a window whose close was requested or confirmed
	// while handles to it are still alive.
	WindowCloseRequested
	// WindowDestroyed is a window whose backing object was released.
	WindowDestroyed
)

func (s WindowState) String() string {
	switch s {
	case WindowOpen:
		return "open"
	case WindowCloseRequested:
		return "close_requested"
	case WindowDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Lifecycle tracks handle counts and close confirmation for one window. The
// backing object is destroyed only when both the engine confirmed the close and
// the last handle was dropped, so a handle can never observe released state.
type Lifecycle struct {
	mu        sync.Mutex
	state     WindowState
	handles   int
	confirmed bool
	onDestroy func()
}

// NewLifecycle returns a Lifecycle for a freshly created window holding one
// handle. onDestroy runs exactly once, outside the lock.
func NewLifecycle(onDestroy func()) *Lifecycle {
	return &Lifecycle{state: WindowOpen, handles: 1, onDestroy: onDestroy}
}

// State returns the current stage.
func (l *Lifecycle) State() WindowState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Usable returns nil while the window is open, and the matching sentinel error
// afterwards.
func (l *Lifecycle) Usable() error {
	switch l.State() {
	case WindowOpen:
		return nil
	case WindowCloseRequested:
		return ErrWindowClosed
	default:
		return ErrWindowDestroyed
	}
}

// Readable returns nil until the window is destroyed. Read-only queries stay
// available while the close is pending.
func (l *Lifecycle) Readable() error {
	if l.State() == WindowDestroyed {
		return ErrWindowDestroyed
	}
	return nil
}

// Retain registers one more handle.
func (l *Lifecycle) Retain() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == WindowDestroyed {
		return ErrWindowDestroyed
	}
	l.handles++
	return nil
}

// Release drops one handle and reports whether the window got destroyed as a
// result. Releasing more handles than were retained is a no-op.
func (l *Lifecycle) Release() bool {
	l.mu.Lock()
	if l.handles == 0 {
		l.mu.Unlock()
		return false
	}
	l.handles--
	return l.maybeDestroyLocked()
}

// RequestClose moves an open window to WindowCloseRequested. It reports
// whether this call performed the transition.
func (l *Lifecycle) RequestClose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != WindowOpen {
		return false
	}
	l.state = WindowCloseRequested
	return true
}

// ConfirmClosed records that the engine (or the user) closed the window, and
// reports whether the window got destroyed as a result.
func (l *Lifecycle) ConfirmClosed() bool {
	l.mu.Lock()
	if l.confirmed {
		l.mu.Unlock()
		return false
	}
	l.confirmed = true
	if l.state == WindowOpen {
		l.state = WindowCloseRequested
	}
	return l.maybeDestroyLocked()
}

// maybeDestroyLocked must be called with mu held and releases it.
func (l *Lifecycle) maybeDestroyLocked() bool {
	if l.state == WindowDestroyed || !l.confirmed || l.handles > 0 {
		l.mu.Unlock()
		return false
	}
	l.state = WindowDestroyed
	onDestroy := l.onDestroy
	l.onDestroy = nil
	l.mu.Unlock()

	if onDestroy != nil {
		onDestroy()
	}
	return true
}

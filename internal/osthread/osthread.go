// Package osthread reports the identity of the operating system thread the
// calling goroutine is currently running on.
//
// The value is only stable while the goroutine is locked to its thread with
// runtime.LockOSThread, which is how the event loops in this module pin
// themselves to a single owning thread.
package osthread

// ID returns the identifier of the current OS thread, or -1 when the platform
// does not expose one. See Supported.
func ID() int {
	return currentID()
}

// Supported reports whether ID returns real thread identifiers on this platform.
func Supported() bool {
	return supported
}

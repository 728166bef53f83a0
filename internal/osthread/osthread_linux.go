//go:build linux

package osthread

import "golang.org/x/sys/unix"

const supported = true

func currentID() int {
	return unix.Gettid()
}

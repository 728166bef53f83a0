//go:build !linux && !windows

package osthread

const supported = false

func currentID() int {
	return -1
}

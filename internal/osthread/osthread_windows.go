//go:build windows

package osthread

import "golang.org/x/sys/windows"

const supported = true

func currentID() int {
	return int(windows.GetCurrentThreadId())
}

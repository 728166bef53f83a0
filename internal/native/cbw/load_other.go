//go:build !darwin && !linux

package cbw

import (
	"fmt"
	"runtime"

	"github.com/xkilldash9x/browser-window/internal/native"
)

// Load is not available on this platform.
func Load(path string) (*Library, error) {
	return nil, fmt.Errorf("cbw: dynamic loading on %s: %w", runtime.GOOS, native.ErrUnsupported)
}

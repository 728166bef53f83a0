//go:build darwin || linux

package cbw

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	trampolineOnce   sync.Once
	dispatchCallback uintptr
	evalCallback     uintptr
)

// trampolines creates the C callable trampolines. purego never frees a
// callback, so there is exactly one per callback shape for the process.
func trampolines() (uintptr, uintptr) {
	trampolineOnce.Do(func() {
		dispatchCallback = purego.NewCallback(dispatchTrampoline)
		evalCallback = purego.NewCallback(evalTrampoline)
	})
	return dispatchCallback, evalCallback
}

func libraryName() string {
	if runtime.GOOS == "darwin" {
		return "libbrowserwindow.dylib"
	}
	return "libbrowserwindow.so"
}

// resolvePath finds the library when path is empty: next to the executable,
// then through the dynamic loader search path.
func resolvePath(path string) string {
	if path != "" {
		return path
	}
	name := libraryName()
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return name
}

// Load opens the C library and binds its function table.
func Load(path string) (*Library, error) {
	path = resolvePath(path)
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("cbw: failed to load %s: %w", path, err)
	}

	lib := &Library{}
	for name, field := range lib.symbols() {
		// RegisterLibFunc panics on a missing symbol; check first.
		if _, err := purego.Dlsym(handle, name); err != nil {
			return nil, fmt.Errorf("cbw: %s does not export %s: %w", path, name, err)
		}
		purego.RegisterLibFunc(field, handle, name)
	}
	lib.dispatchCallback, lib.evalCallback = trampolines()
	if err := lib.validate(); err != nil {
		return nil, err
	}
	return lib, nil
}

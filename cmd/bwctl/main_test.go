package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	t.Run("should write the panic log and exit", func(t *testing.T) {
		var (
			written  []byte
			path     string
			exitCode = -1
		)
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			path, written = name, data
			return nil
		}
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("loop job exploded")
		}()

		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, string(written), "panic: loop job exploded")
		assert.Contains(t, string(written), "goroutine")
		assert.Equal(t, 2, exitCode)
	})

	t.Run("should still exit when the log cannot be written", func(t *testing.T) {
		exitCode := -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic(fmt.Errorf("wrapped"))
		}()
		assert.Equal(t, 2, exitCode)
	})

	t.Run("should do nothing without a panic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		require.False(t, called)
	})
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 130, exitCode(context.Canceled))
	assert.Equal(t, 130, exitCode(fmt.Errorf("eval: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

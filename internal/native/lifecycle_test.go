package native

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_CloseThenRelease(t *testing.T) {
	var destroyed atomic.Int32
	l := NewLifecycle(func() { destroyed.Add(1) })

	require.NoError(t, l.Usable())
	assert.True(t, l.RequestClose())
	assert.False(t, l.RequestClose(), "second close request is a no-op")
	assert.ErrorIs(t, l.Usable(), ErrWindowClosed)
	assert.NoError(t, l.Readable(), "read-only queries stay available while handles are alive")

	assert.False(t, l.ConfirmClosed(), "a live handle keeps the window")
	assert.Equal(t, WindowCloseRequested, l.State())

	assert.True(t, l.Release())
	assert.Equal(t, WindowDestroyed, l.State())
	assert.ErrorIs(t, l.Usable(), ErrWindowDestroyed)
	assert.ErrorIs(t, l.Readable(), ErrWindowDestroyed)
	assert.Equal(t, int32(1), destroyed.Load())
}

func TestLifecycle_ReleaseWithoutCloseKeepsWindow(t *testing.T) {
	var destroyed atomic.Int32
	l := NewLifecycle(func() { destroyed.Add(1) })

	assert.False(t, l.Release())
	assert.Equal(t, WindowOpen, l.State(), "losing every handle does not close a window")

	// The user closes the window later.
	assert.True(t, l.ConfirmClosed())
	assert.Equal(t, WindowDestroyed, l.State())
	assert.Equal(t, int32(1), destroyed.Load())
}

func TestLifecycle_RetainAfterDestroyFails(t *testing.T) {
	l := NewLifecycle(nil)
	l.ConfirmClosed()
	l.Release()

	assert.ErrorIs(t, l.Retain(), ErrWindowDestroyed)
	assert.False(t, l.Release(), "extra releases are ignored")
}

func TestLifecycle_ConcurrentReleaseDestroysOnce(t *testing.T) {
	var destroyed atomic.Int32
	l := NewLifecycle(func() { destroyed.Add(1) })
	for i := 0; i < 63; i++ {
		require.NoError(t, l.Retain())
	}
	l.ConfirmClosed()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), destroyed.Load())
	assert.Equal(t, WindowDestroyed, l.State())
}

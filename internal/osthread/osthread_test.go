package osthread

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestID_StableWhileLocked(t *testing.T) {
	if !Supported() {
		t.Skip("thread identity not available on this platform")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	first := ID()
	for i := 0; i < 100; i++ {
		runtime.Gosched()
		assert.Equal(t, first, ID(), "a locked goroutine must stay on one thread")
	}
}

func TestID_DistinctThreads(t *testing.T) {
	if !Supported() {
		t.Skip("thread identity not available on this platform")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	mine := ID()

	other := make(chan int)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		other <- ID()
	}()

	assert.NotEqual(t, mine, <-other, "two locked goroutines cannot share a thread")
}

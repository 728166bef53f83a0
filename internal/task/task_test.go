package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browser-window/internal/dispatch"
	"github.com/xkilldash9x/browser-window/internal/future"
	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/native/nativetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	bridge *dispatch.Bridge
	engine *nativetest.Engine
	logger *zap.Logger
	stop   func()
}

func start(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	eng := nativetest.New(logger)
	b := dispatch.New(eng, logger)

	ready := make(chan struct{})
	exit := make(chan int, 1)
	go func() { exit <- b.Run(func(native.Engine) { close(ready) }) }()
	<-ready

	var once sync.Once
	h := &harness{bridge: b, engine: eng, logger: logger}
	h.stop = func() {
		once.Do(func() {
			eng.ExitAsync(0)
			<-exit
			eng.Finish()
			b.Reclaim()
		})
	}
	t.Cleanup(h.stop)
	return h
}

func waitDone(t *testing.T, tk *Task) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestSpawn(t *testing.T) {
	t.Run("should complete a ready poller in one poll on the owning thread", func(t *testing.T) {
		h := start(t)
		var onOwner atomic.Bool
		tk := Spawn(h.bridge, PollFunc(func(*Waker) bool {
			onOwner.Store(h.engine.OnOwnerThread())
			return true
		}), h.logger)

		waitDone(t, tk)
		assert.NoError(t, tk.Err())
		assert.Equal(t, int64(1), tk.Polls())
		assert.True(t, onOwner.Load())
	})

	t.Run("should drive a future to completion through wakes", func(t *testing.T) {
		h := start(t)
		tx, f := future.Pending[string]()

		var got string
		tk := Spawn(h.bridge, Await(f, func(v string, err error) {
			assert.NoError(t, err)
			got = v
		}), h.logger)

		// Let the first poll park on the future, then settle it off-thread.
		require.Eventually(t, func() bool { return tk.Polls() == 1 }, 5*time.Second, time.Millisecond)
		tx.Send("value")

		waitDone(t, tk)
		assert.Equal(t, "value", got)
		assert.Equal(t, int64(2), tk.Polls())
	})

	t.Run("should chain a dispatched call and a follow-up step", func(t *testing.T) {
		h := start(t)
		var sum int
		call := future.Call(h.bridge, func(native.Engine) (int, error) { return 21 * 2, nil })
		tk := Spawn(h.bridge, Sequence(
			Await(call, func(v int, _ error) { sum += v }),
			PollFunc(func(*Waker) bool { sum++; return true }),
		), h.logger)

		waitDone(t, tk)
		assert.Equal(t, 43, sum)
	})

	t.Run("should be abandoned when the loop refuses work", func(t *testing.T) {
		h := start(t)
		h.engine.RejectDispatch(true)

		tk := Spawn(h.bridge, PollFunc(func(*Waker) bool { return true }), h.logger)
		waitDone(t, tk)
		assert.ErrorIs(t, tk.Err(), ErrAbandoned)
		assert.Equal(t, int64(0), tk.Polls())
	})

	t.Run("should be abandoned when the loop exits with the task pending", func(t *testing.T) {
		h := start(t)
		_, f := future.Pending[int]()
		tk := Spawn(h.bridge, Await(f, nil), h.logger)
		require.Eventually(t, func() bool { return tk.Polls() == 1 }, 5*time.Second, time.Millisecond)

		h.stop()
		// Nothing will ever wake it; a late wake must be rejected and abandon.
		tk.waker.Wake()
		waitDone(t, tk)
		assert.ErrorIs(t, tk.Err(), ErrAbandoned)
	})

	t.Run("should report a panicking poll", func(t *testing.T) {
		h := start(t)
		tk := Spawn(h.bridge, PollFunc(func(*Waker) bool { panic("poll") }), h.logger)
		waitDone(t, tk)
		require.Error(t, tk.Err())
		assert.Contains(t, tk.Err().Error(), "poll")
	})
}

func TestWaker_ConcurrentWakesKeepOnePollInFlight(t *testing.T) {
	h := start(t)

	var inFlight, maxInFlight, polls atomic.Int32
	const target = 20
	var captured atomic.Pointer[Waker]

	tk := Spawn(h.bridge, PollFunc(func(w *Waker) bool {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		captured.Store(w)
		return polls.Add(1) >= target
	}), h.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-tk.Done():
					return
				case <-ctx.Done():
					return
				default:
				}
				if w := captured.Load(); w != nil {
					w.Wake()
				}
			}
		}()
	}
	wg.Wait()
	waitDone(t, tk)

	assert.NoError(t, tk.Err())
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int32(target), polls.Load(), "no poll after completion")

	// Wakes after completion are no-ops.
	captured.Load().Wake()
	fence := make(chan struct{})
	h.bridge.Dispatch(func(native.Engine) { close(fence) })
	<-fence
	assert.Equal(t, int32(target), polls.Load())
}

func TestSpawnLocal(t *testing.T) {
	h := start(t)

	_, err := SpawnLocal(h.bridge, PollFunc(func(*Waker) bool { return true }), h.logger)
	assert.ErrorIs(t, err, ErrNotOwner)

	type result struct {
		tk      *Task
		err     error
		inlined bool
	}
	out := make(chan result, 1)
	h.bridge.Dispatch(func(native.Engine) {
		polled := false
		tk, err := SpawnLocal(h.bridge, PollFunc(func(*Waker) bool {
			polled = true
			return true
		}), h.logger)
		out <- result{tk, err, polled}
	})

	r := <-out
	require.NoError(t, r.err)
	assert.True(t, r.inlined, "first poll runs at the call site")
	waitDone(t, r.tk)
}

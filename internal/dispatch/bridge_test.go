package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/native/nativetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startBridge runs a bridge over a fake engine on its own goroutine. The
// returned stop function exits the loop, waits for Run, and reclaims.
func startBridge(t *testing.T) (*Bridge, *nativetest.Engine, func() int) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	eng := nativetest.New(logger)
	b := New(eng, logger)

	ready := make(chan struct{})
	exit := make(chan int, 1)
	go func() {
		exit <- b.Run(func(native.Engine) { close(ready) })
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("event loop never became ready")
	}

	var once sync.Once
	code := 0
	stop := func() int {
		once.Do(func() {
			eng.ExitAsync(0)
			code = <-exit
			eng.Finish()
			b.Reclaim()
		})
		return code
	}
	t.Cleanup(func() { stop() })
	return b, eng, stop
}

func TestBridge_Dispatch(t *testing.T) {
	t.Run("should run the unit exactly once on the owning thread", func(t *testing.T) {
		b, eng, _ := startBridge(t)

		var runs atomic.Int32
		onOwner := make(chan bool, 1)
		require.True(t, b.Dispatch(func(e native.Engine) {
			runs.Add(1)
			onOwner <- e.OnOwnerThread()
		}))

		select {
		case ok := <-onOwner:
			assert.True(t, ok, "unit must run on the loop thread")
		case <-time.After(5 * time.Second):
			t.Fatal("unit never ran")
		}
		assert.False(t, eng.OnOwnerThread(), "test goroutine is not the owner")
		assert.Equal(t, int32(1), runs.Load())
	})

	t.Run("should reject and drop without running when the engine refuses", func(t *testing.T) {
		b, eng, _ := startBridge(t)
		eng.RejectDispatch(true)

		var ran atomic.Bool
		var dropErr error
		ok := b.DispatchUnit(func(native.Engine) { ran.Store(true) }, func(err error) { dropErr = err })

		assert.False(t, ok)
		assert.ErrorIs(t, dropErr, ErrScheduleRejected)
		assert.False(t, ran.Load())
		assert.Equal(t, 0, b.Pending(), "rejected units must not stay parked")
		assert.Equal(t, uint64(1), b.Stats().Rejected)
	})

	t.Run("should run once when the engine delivers twice", func(t *testing.T) {
		b, eng, _ := startBridge(t)
		eng.SetDelivery(nativetest.DeliverTwice)

		var runs atomic.Int32
		require.True(t, b.Dispatch(func(native.Engine) { runs.Add(1) }))

		// A fence behind both deliveries proves the duplicate was processed.
		eng.SetDelivery(nativetest.DeliverOnce)
		fence := make(chan struct{})
		require.True(t, b.Dispatch(func(native.Engine) { close(fence) }))
		<-fence

		assert.Equal(t, int32(1), runs.Load())
		assert.Equal(t, uint64(1), b.Stats().Duplicates)
	})

	t.Run("should reclaim units the engine never delivers", func(t *testing.T) {
		b, eng, stop := startBridge(t)
		eng.SetDelivery(nativetest.DeliverNever)

		var dropErr error
		var ran atomic.Bool
		require.True(t, b.DispatchUnit(func(native.Engine) { ran.Store(true) }, func(err error) { dropErr = err }))
		assert.Equal(t, 1, b.Pending())

		eng.SetDelivery(nativetest.DeliverOnce)
		stop()

		assert.False(t, ran.Load())
		assert.ErrorIs(t, dropErr, ErrDisconnected)
		assert.Equal(t, 0, b.Pending())
		assert.Equal(t, uint64(1), b.Stats().Reclaimed)
		assert.False(t, b.Dispatch(func(native.Engine) {}), "a reclaimed bridge accepts nothing")
	})

	t.Run("should contain a panicking unit and keep the loop alive", func(t *testing.T) {
		b, _, _ := startBridge(t)

		dropped := make(chan error, 1)
		require.True(t, b.DispatchUnit(func(native.Engine) { panic("boom") }, func(err error) { dropped <- err }))

		err := <-dropped
		assert.ErrorIs(t, err, ErrDisconnected)
		assert.Contains(t, err.Error(), "boom")

		after := make(chan struct{})
		require.True(t, b.Dispatch(func(native.Engine) { close(after) }))
		<-after
		assert.Equal(t, uint64(1), b.Stats().Panics)
	})
}

func TestBridge_ConcurrentDispatch(t *testing.T) {
	b, _, _ := startBridge(t)

	const producers, perProducer = 8, 200
	var runs atomic.Int64
	var wg sync.WaitGroup
	wg.Add(producers * perProducer)

	var g errgroup.Group
	for i := 0; i < producers; i++ {
		g.Go(func() error {
			for j := 0; j < perProducer; j++ {
				if !b.Dispatch(func(native.Engine) {
					runs.Add(1)
					wg.Done()
				}) {
					return errors.New("dispatch rejected while loop is running")
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	wg.Wait()

	assert.Equal(t, int64(producers*perProducer), runs.Load())
	assert.Equal(t, 0, b.Pending())
}

func TestBridge_FIFOFromOneProducer(t *testing.T) {
	b, _, _ := startBridge(t)

	var order []int
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, b.Dispatch(func(native.Engine) {
			order = append(order, i)
			if i == 49 {
				close(done)
			}
		}))
	}
	<-done
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestBridge_EvalJS(t *testing.T) {
	b, eng, _ := startBridge(t)
	eng.EvalHook = func(code string) nativetest.EvalResult {
		if code == "fail" {
			return nativetest.EvalResult{Err: native.NewErrorMessage(native.CodeScriptException, "Error: x")}
		}
		return nativetest.EvalResult{Value: "ok:" + code}
	}

	type outcome struct {
		result string
		err    *native.Error
	}
	results := make(chan outcome, 2)

	require.True(t, b.Dispatch(func(e native.Engine) {
		w, err := e.CreateWindow(native.WindowOptions{Title: "t"})
		if !assert.NoError(t, err) {
			return
		}
		collect := func(_ native.Window, result string, err *native.Error) {
			results <- outcome{result, err}
		}
		b.EvalJS(w, "1+1", collect, nil)
		b.EvalJS(w, "fail", collect, nil)
	}))

	first, second := <-results, <-results
	assert.Equal(t, "ok:1+1", first.result)
	assert.Nil(t, first.err)
	require.NotNil(t, second.err)
	assert.Equal(t, "Error: x", second.err.Message())
}

func TestBridge_Cookies(t *testing.T) {
	b, _, _ := startBridge(t)

	done := make(chan []native.Cookie, 1)
	var storeErr *native.Error
	var deleted int
	require.True(t, b.Dispatch(func(native.Engine) {
		b.StoreCookie("https://example.com/", native.Cookie{Name: "sid", Value: "1"}, func(err *native.Error) {
			storeErr = err
			b.IterateCookies("https://example.com/app", false, func(cookies []native.Cookie, _ *native.Error) {
				b.DeleteCookies("https://example.com/", "sid", func(n int) {
					deleted = n
					done <- cookies
				}, nil)
			}, nil)
		}, nil)
	}))

	cookies := <-done
	assert.Nil(t, storeErr)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, "example.com", cookies[0].Domain)
	assert.Equal(t, 1, deleted)
}

func TestBridge_RunAfterReclaim(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := New(nativetest.New(logger), logger)
	b.Reclaim()
	assert.Equal(t, -1, b.Run(func(native.Engine) {}))
}

type deliveryPlan struct {
	Ops    []byte
	Reject bool
}

// FuzzBridge_AtMostOnce drives random mixes of delivery modes and checks that
// every unit is either run or dropped, exactly once.
func FuzzBridge_AtMostOnce(f *testing.F) {
	f.Add([]byte{0, 1, 2, 0, 1})
	f.Add([]byte{2, 2, 2})
	f.Fuzz(func(t *testing.T, data []byte) {
		var plan deliveryPlan
		if err := fuzz.NewConsumer(data).GenerateStruct(&plan); err != nil {
			return
		}
		if len(plan.Ops) > 64 {
			plan.Ops = plan.Ops[:64]
		}

		b, eng, stop := startBridge(t)
		settled := make([]atomic.Int32, len(plan.Ops))
		for i, op := range plan.Ops {
			i := i
			eng.SetDelivery(nativetest.Delivery(op % 3))
			eng.RejectDispatch(plan.Reject && op%5 == 4)
			b.DispatchUnit(
				func(native.Engine) { settled[i].Add(1) },
				func(error) { settled[i].Add(1) },
			)
		}
		eng.RejectDispatch(false)
		eng.SetDelivery(nativetest.DeliverOnce)
		stop()

		for i := range settled {
			assert.Equal(t, int32(1), settled[i].Load(), "unit %d", i)
		}
	})
}

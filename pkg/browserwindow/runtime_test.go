package browserwindow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/browser-window/internal/config"
	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/native/gojaengine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

type harness struct {
	rt   *Runtime
	done chan struct{}
	code int
}

// startRuntime runs rt on a fresh goroutine and waits for the ready callback.
func startRuntime(t *testing.T, engine native.Engine) *harness {
	t.Helper()
	h := &harness{rt: New(engine, zaptest.NewLogger(t)), done: make(chan struct{})}

	ready := make(chan struct{})
	go func() {
		defer close(h.done)
		h.code = h.rt.Run(func(Application) { close(ready) })
	}()
	<-ready

	t.Cleanup(func() {
		h.rt.App().Exit(0)
		<-h.done
		h.rt.Finish()
	})
	return h
}

func await[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future never settled")
	return v, err
}

func gojaRuntime(t *testing.T) *harness {
	return startRuntime(t, gojaengine.New(gojaengine.Options{EvalTimeout: 5 * time.Second}, zaptest.NewLogger(t)))
}

// -- Scenarios --

func TestDispatchFromForeignGoroutine(t *testing.T) {
	h := gojaRuntime(t)

	var g errgroup.Group
	results := make([]int, 8)
	for i := range results {
		g.Go(func() error {
			v, err := await(t, DispatchApp(h.rt.App(), func(app Application) (int, error) {
				if !app.rt.engine.OnOwnerThread() {
					return 0, errors.New("closure ran off the event loop thread")
				}
				return 21 * 2, nil
			}))
			results[i] = v
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestEvalJS_Goja(t *testing.T) {
	h := gojaRuntime(t)

	bt, err := await(t, NewBrowserBuilder(SourceHTML("<title>Scratch</title>")).Title("eval").BuildAsync(h.rt.App()))
	require.NoError(t, err)
	defer bt.Release()

	t.Run("should resolve a value", func(t *testing.T) {
		v, err := await(t, bt.EvalJS("1+1"))
		require.NoError(t, err)
		assert.Equal(t, "2", v)
	})

	t.Run("should surface a thrown error", func(t *testing.T) {
		_, err := await(t, bt.EvalJS("throw new Error('x')"))
		var jsErr *JsEvaluationError
		require.ErrorAs(t, err, &jsErr)
		assert.Contains(t, jsErr.Message(), "x")
		assert.Equal(t, native.CodeScriptException, jsErr.Code())

		var engErr *EngineError
		assert.ErrorAs(t, err, &engErr, "the engine error stays reachable")
	})

	t.Run("should read the title of inline HTML", func(t *testing.T) {
		title, err := await(t, bt.Title())
		require.NoError(t, err)
		assert.Equal(t, "Scratch", title)
	})

	t.Run("should navigate", func(t *testing.T) {
		_, err := await(t, bt.Navigate("about:blank"))
		require.NoError(t, err)
		u, err := await(t, bt.URL())
		require.NoError(t, err)
		assert.Equal(t, "about:blank", u)

		_, err = await(t, bt.Navigate("gopher://old.example"))
		var navErr *NavigationError
		assert.ErrorAs(t, err, &navErr)
	})
}

func TestExitAsync_ReturnsCodeOnce(t *testing.T) {
	rt := New(gojaengine.New(gojaengine.Options{}, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	defer rt.Finish()

	ready := make(chan struct{})
	exit := make(chan int, 2)
	go func() { exit <- rt.Run(func(Application) { close(ready) }) }()
	<-ready

	var wg sync.WaitGroup
	for code := 7; code < 10; code++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.App().Exit(code)
		}()
	}
	wg.Wait()

	select {
	case code := <-exit:
		assert.Contains(t, []int{7, 8, 9}, code)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after ExitAsync")
	}
	assert.Equal(t, -1, rt.Run(nil), "a runtime runs once")
	assert.Empty(t, exit)
}

func TestSpawn_DrivesFuturesToCompletion(t *testing.T) {
	h := gojaRuntime(t)

	bt, err := await(t, NewBrowserBuilder(SourceURL("about:blank")).BuildAsync(h.rt.App()))
	require.NoError(t, err)
	defer bt.Release()

	var got []string
	tk := h.rt.App().Spawn(Sequence(
		Await(bt.EvalJS("new Promise(r => setTimeout(() => r('late'), 20))"), func(v string, err error) {
			got = append(got, v)
		}),
		Await(bt.EvalJS("'a' + 'b'"), func(v string, err error) {
			got = append(got, v)
		}),
	))

	select {
	case <-tk.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("task never completed")
	}
	require.NoError(t, tk.Err())
	assert.Equal(t, []string{"late", "ab"}, got)
	assert.GreaterOrEqual(t, tk.Polls(), int64(2))
}

func TestRun_WorkQueuedBeforeRun(t *testing.T) {
	rt := New(gojaengine.New(gojaengine.Options{EvalTimeout: 5 * time.Second}, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	defer rt.Finish()

	var (
		order    []string
		title    string
		buildErr error
	)
	require.True(t, rt.App().Dispatch(func(app Application) {
		assert.True(t, app.rt.engine.OnOwnerThread())
		order = append(order, "dispatched")
	}))
	tk := rt.Spawn(PollFunc(func(*Waker) bool {
		var b *Browser
		b, buildErr = NewBrowserBuilder(SourceHTML("<title>Early</title>")).Build(Application{rt: rt})
		if buildErr == nil {
			title, _ = b.Title()
			b.Release()
		}
		rt.App().Exit(4)
		return true
	}))

	code := rt.Run(func(Application) {
		order = append(order, "ready")
	})

	assert.Equal(t, 4, code)
	assert.Equal(t, []string{"ready", "dispatched"}, order, "ready runs before earlier dispatches")
	require.NoError(t, buildErr, "spawned work runs on the owning thread")
	assert.Equal(t, "Early", title)
	select {
	case <-tk.Done():
		assert.NoError(t, tk.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed")
	}
}

func TestRunTask(t *testing.T) {
	rt := New(gojaengine.New(gojaengine.Options{EvalTimeout: 5 * time.Second}, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	defer rt.Finish()

	var pending *Future[int]
	code := rt.RunTask(PollFunc(func(w *Waker) bool {
		if pending == nil {
			pending = DispatchApp(rt.App(), func(Application) (int, error) { return 20, nil })
		}
		v, err, ok := pending.Poll(w)
		if !ok {
			return false
		}
		assert.NoError(t, err)
		rt.App().Exit(v + 1)
		return true
	}))

	assert.Equal(t, 21, code)
	assert.Equal(t, -1, rt.RunTask(PollFunc(func(*Waker) bool { return true })), "a runtime runs once")
}

func TestStart(t *testing.T) {
	t.Run("should build the goja backend from defaults", func(t *testing.T) {
		rt, err := Start(config.NewDefaultConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, gojaengine.Name, rt.EngineName())
		rt.Finish()
	})

	t.Run("should report a missing cbw library", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.SetEngineBackend(config.BackendCBW)
		cfg.EngineCfg.LibraryPath = t.TempDir() + "/libnothere.so"
		_, err := Start(cfg, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "failed to start cbw engine")
	})

	t.Run("should refuse an unknown backend", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.SetEngineBackend("webkit")
		_, err := NewEngine(cfg, nil)
		assert.ErrorContains(t, err, `unknown engine backend "webkit"`)
	})
}

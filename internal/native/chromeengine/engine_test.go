package chromeengine

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browser-window/internal/native"
)

// findChrome returns a Chromium binary or skips the test.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if p := os.Getenv("BROWSERWINDOW_BROWSER_EXEC_PATH"); p != "" {
		return p
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chromium binary found")
	return ""
}

func startEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Options{Headless: true, ExecPath: findChrome(t), EvalTimeout: 10 * time.Second}, zaptest.NewLogger(t))

	ready := make(chan struct{})
	exit := make(chan int, 1)
	go func() {
		exit <- e.Run(func(native.Engine, native.Token) { close(ready) }, 0)
	}()
	<-ready
	t.Cleanup(func() {
		e.ExitAsync(0)
		<-exit
		e.Finish()
	})
	return e
}

func onLoop(t *testing.T, e *Engine, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, e.Dispatch(func(native.Engine, native.Token) {
		defer close(done)
		fn()
	}, 0))
	<-done
}

func TestChrome_EvalJS(t *testing.T) {
	e := startEngine(t)

	var w native.Window
	onLoop(t, e, func() {
		var err error
		w, err = e.CreateWindow(native.WindowOptions{Title: "chrome", Source: "<title>Inline</title>", SourceIsHTML: true})
		require.NoError(t, err)
	})

	type outcome struct {
		result string
		err    *native.Error
	}
	eval := func(code string) outcome {
		out := make(chan outcome, 1)
		onLoop(t, e, func() {
			w.EvalJS(code, func(_ native.Window, _ native.Token, r string, err *native.Error) {
				out <- outcome{r, err}
			}, 1)
		})
		select {
		case o := <-out:
			return o
		case <-time.After(30 * time.Second):
			t.Fatalf("eval of %q timed out", code)
			return outcome{}
		}
	}

	o := eval("1+1")
	require.Nil(t, o.err)
	assert.Equal(t, "2", o.result)

	o = eval("'a' + 'b'")
	require.Nil(t, o.err)
	assert.Equal(t, "ab", o.result)

	o = eval("throw new Error('x')")
	require.NotNil(t, o.err)
	assert.Contains(t, o.err.Message(), "x")

	title, err := w.Title()
	require.NoError(t, err)
	assert.Equal(t, "Inline", title)
}

func TestRenderRemote(t *testing.T) {
	cases := []struct {
		name string
		obj  *runtime.RemoteObject
		want string
	}{
		{"nil", nil, "undefined"},
		{"undefined", &runtime.RemoteObject{Type: runtime.TypeUndefined}, "undefined"},
		{"string", &runtime.RemoteObject{Type: runtime.TypeString, Value: []byte(`"hi"`)}, "hi"},
		{"number", &runtime.RemoteObject{Type: runtime.TypeNumber, Value: []byte(`2`)}, "2"},
		{"object", &runtime.RemoteObject{Type: runtime.TypeObject, Value: []byte(`{"a":1}`)}, `{"a":1}`},
		{"unserializable", &runtime.RemoteObject{Type: runtime.TypeNumber, UnserializableValue: "NaN"}, "NaN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, renderRemote(tc.obj))
		})
	}
}

func TestExceptionError(t *testing.T) {
	err := exceptionError(&runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Description: "Error: x\n    at <anonymous>:1:7"},
	})
	assert.Equal(t, native.CodeScriptException, err.Code)
	assert.Equal(t, "Error: x", err.Message())

	plain := exceptionError(&runtime.ExceptionDetails{Text: "Uncaught", Exception: &runtime.RemoteObject{Value: []byte(`"boom"`)}})
	assert.Equal(t, "Uncaught boom", plain.Message())
}

func TestAllocatorOptions(t *testing.T) {
	e := New(Options{Headless: false, ExecPath: "/bin/chrome", UserAgent: "ua", Args: []string{"--lang=en", "mute-audio"}}, nil)
	opts := e.allocatorOptions()
	assert.Greater(t, len(opts), 4)
}

func TestFinishWithoutBrowser(t *testing.T) {
	e := New(Options{}, zaptest.NewLogger(t))
	e.Finish()
	_, err := e.CreateWindow(native.WindowOptions{})
	assert.ErrorIs(t, err, native.ErrEngineFinished)
}

func TestWorker_QueueNeverBlocks(t *testing.T) {
	var wg sync.WaitGroup
	w := newWorker(context.Background(), &wg)

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []int

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		// Far more jobs than any fixed buffer, all queued behind a blocked one.
		assert.True(t, w.submit(func(context.Context) { <-gate }))
		for i := range 500 {
			assert.True(t, w.submit(func(context.Context) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}))
		}
	}()

	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("submit blocked behind a busy worker")
	}

	w.stop()
	assert.False(t, w.submit(func(context.Context) {}), "a stopped worker refuses work")
	close(gate)
	wg.Wait()

	require.Len(t, order, 500, "queued jobs drain after stop")
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

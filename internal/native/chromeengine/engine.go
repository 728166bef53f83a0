// Package chromeengine drives a real Chromium through the DevTools protocol.
// The owning thread is a loop.Loop; every window gets its own worker goroutine
// that runs chromedp actions in submission order and posts results back to
// the loop.
package chromeengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/native/loop"
)

// Name is the backend identifier used in configuration.
const Name = "chrome"

// Options configures the browser process and per-action timeouts.
type Options struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	// Args are extra command line flags, as "name" or "name=value".
	Args []string

	NavigationTimeout time.Duration
	EvalTimeout       time.Duration
}

func (o *Options) setDefaults() {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	if o.EvalTimeout <= 0 {
		o.EvalTimeout = 20 * time.Second
	}
}

// Engine implements native.Engine with chromedp.
type Engine struct {
	opts   Options
	logger *zap.Logger
	loop   *loop.Loop

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	browser     *worker
	windows     map[string]*Window
	finished    bool

	wg sync.WaitGroup
}

// New creates an engine. Chromium is launched lazily, on first use.
func New(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	return &Engine{
		opts:    opts,
		logger:  logger.Named("chrome_engine"),
		loop:    loop.New(logger),
		windows: make(map[string]*Window),
	}
}

// allocatorOptions builds the exec allocator flags from Options.
func (e *Engine) allocatorOptions() []chromedp.ExecAllocatorOption {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if !e.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if e.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(e.opts.ExecPath))
	}
	if e.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(e.opts.UserAgent))
	}
	for _, arg := range e.opts.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if hasValue {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		}
	}
	return allocOpts
}

// root returns the browser-level context, creating the allocator on first use.
// The browser itself starts on the first action run against it.
func (e *Engine) root() (context.Context, *worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return nil, nil, native.ErrEngineFinished
	}
	if e.rootCtx == nil {
		e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), e.allocatorOptions()...)
		e.rootCtx, e.rootCancel = chromedp.NewContext(e.allocCtx,
			chromedp.WithLogf(e.logger.Sugar().Debugf),
			chromedp.WithErrorf(e.logger.Sugar().Warnf),
		)
		e.browser = newWorker(e.rootCtx, &e.wg)
		e.logger.Debug("Browser allocator created.", zap.Bool("headless", e.opts.Headless))
	}
	return e.rootCtx, e.browser, nil
}

// Name implements native.Engine.
func (e *Engine) Name() string { return Name }

// Run implements native.Engine.
func (e *Engine) Run(ready native.DispatchFunc, token native.Token) int {
	return e.loop.Run(func() {
		if ready != nil {
			ready(e, token)
		}
	})
}

// Dispatch implements native.Engine.
func (e *Engine) Dispatch(fn native.DispatchFunc, token native.Token) bool {
	return e.loop.Post(func() { fn(e, token) })
}

// Exit implements native.Engine.
func (e *Engine) Exit(code int) { e.loop.Exit(code) }

// ExitAsync implements native.Engine.
func (e *Engine) ExitAsync(code int) { e.loop.ExitAsync(code) }

// OnOwnerThread implements native.Engine.
func (e *Engine) OnOwnerThread() bool { return e.loop.OnLoop() }

// post hands a worker result back to the owning thread. Results for a loop
// that already exited are dropped.
func (e *Engine) post(job func()) {
	if !e.loop.Post(job) {
		e.logger.Debug("Dropping result: event loop no longer accepts work.")
	}
}

// Finish implements native.Engine. It closes every tab, shuts Chromium down
// and waits for the workers to exit.
func (e *Engine) Finish() {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	windows := make([]*Window, 0, len(e.windows))
	for _, w := range e.windows {
		windows = append(windows, w)
	}
	e.windows = map[string]*Window{}
	browser, rootCancel, allocCancel := e.browser, e.rootCancel, e.allocCancel
	e.mu.Unlock()

	for _, w := range windows {
		w.worker.stop()
		w.cancel()
	}
	if browser != nil {
		browser.stop()
	}
	if rootCancel != nil {
		rootCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
	e.wg.Wait()

	dropped := e.loop.Finish()
	e.logger.Debug("Engine finished.", zap.Int("open_windows", len(windows)), zap.Int("dropped_jobs", dropped))
}

// CreateWindow implements native.Engine. The tab is opened asynchronously;
// work submitted to the window queues behind its creation.
func (e *Engine) CreateWindow(opts native.WindowOptions) (native.Window, error) {
	rootCtx, _, err := e.root()
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(rootCtx)
	w := &Window{
		engine: e,
		id:     uuid.NewString(),
		ctx:    tabCtx,
		cancel: cancel,
		title:  opts.Title,
		url:    "about:blank",
	}
	w.logger = e.logger.With(zap.String("window_id", w.id))
	w.life = native.NewLifecycle(w.destroy)
	w.worker = newWorker(tabCtx, &e.wg)

	e.mu.Lock()
	e.windows[w.id] = w
	e.mu.Unlock()

	w.worker.submit(func(ctx context.Context) {
		if err := w.open(ctx, opts); err != nil {
			w.logger.Warn("Failed to open window.", zap.Error(err))
		}
	})
	return w, nil
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.windows, id)
	e.mu.Unlock()
}

// Cookies implements native.Engine.
func (e *Engine) Cookies() native.CookieJar { return &jar{engine: e} }

// -- Worker --

// worker runs actions against one chromedp context, one at a time, in
// submission order. The queue is unbounded so submit never blocks the
// owning thread.
type worker struct {
	ctx context.Context

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func(context.Context)
	closed bool
}

func newWorker(ctx context.Context, wg *sync.WaitGroup) *worker {
	w := &worker{ctx: ctx}
	w.cond = sync.NewCond(&w.mu)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			job, ok := w.next()
			if !ok {
				return
			}
			job(w.ctx)
		}
	}()
	return w
}

// next blocks until a job is queued. It reports false once the worker was
// stopped and the queue is empty.
func (w *worker) next() (func(context.Context), bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && !w.closed {
		w.cond.Wait()
	}
	if len(w.queue) == 0 {
		return nil, false
	}
	job := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return job, true
}

// submit queues job. It reports false once the worker was stopped.
func (w *worker) submit(job func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.queue = append(w.queue, job)
	w.cond.Signal()
	return true
}

// stop lets queued jobs drain and ends the worker.
func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.cond.Broadcast()
	}
}

func withTimeout(ctx context.Context, d time.Duration, what string) (context.Context, context.CancelFunc, func(error) error) {
	opCtx, cancel := context.WithTimeout(ctx, d)
	wrap := func(err error) error {
		if err == nil {
			return nil
		}
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timeout during %s: %w", what, opCtx.Err())
		}
		return fmt.Errorf("%s failed: %w", what, err)
	}
	return opCtx, cancel, wrap
}

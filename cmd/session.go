package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/config"
	"github.com/xkilldash9x/browser-window/pkg/browserwindow"
)

// interruptedExitCode is what the loop exits with after a signal.
const interruptedExitCode = 130

// runSession starts the configured runtime on the calling goroutine, opens a
// window loading src and hands it to onReady on the event loop thread. It
// returns once the loop exited. An error from onReady stops the loop.
func runSession(
	ctx context.Context,
	cfg config.Interface,
	logger *zap.Logger,
	src browserwindow.Source,
	onReady func(app browserwindow.Application, b *browserwindow.Browser) error,
) (int, error) {
	rt, err := browserwindow.Start(cfg, logger)
	if err != nil {
		return 1, err
	}
	defer rt.Finish()

	done := make(chan struct{})
	defer close(done)
	go watchInterrupt(ctx, rt, cfg.Engine().ShutdownTimeout, logger, done)

	var setupErr error
	code := rt.Run(func(app browserwindow.Application) {
		b, err := browserwindow.NewBrowserBuilderFromConfig(cfg.Window(), src).Build(app)
		if err != nil {
			setupErr = err
			_ = app.Exit(1)
			return
		}
		if err := onReady(app, b); err != nil {
			setupErr = err
			b.Release()
			_ = app.Exit(1)
		}
	})

	if setupErr != nil {
		return code, setupErr
	}
	if err := ctx.Err(); err != nil {
		return code, err
	}
	return code, nil
}

// watchInterrupt stops the loop when ctx ends, and reports a loop that does
// not stop within timeout.
func watchInterrupt(ctx context.Context, rt *browserwindow.Runtime, timeout time.Duration, logger *zap.Logger, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	logger.Info("Interrupted; stopping the event loop.")
	rt.App().Exit(interruptedExitCode)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("Event loop did not stop within the shutdown timeout.", zap.Duration("timeout", timeout))
	}
}

package browserwindow

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/config"
	"github.com/xkilldash9x/browser-window/internal/native"
	"github.com/xkilldash9x/browser-window/internal/native/cbw"
	"github.com/xkilldash9x/browser-window/internal/native/chromeengine"
	"github.com/xkilldash9x/browser-window/internal/native/gojaengine"
)

// NewEngine constructs the backend selected by cfg.Engine().Backend.
func NewEngine(cfg config.Interface, logger *zap.Logger) (native.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engCfg, browserCfg := cfg.Engine(), cfg.Browser()

	switch engCfg.Backend {
	case config.BackendGoja, "":
		return gojaengine.New(gojaengine.Options{
			EvalTimeout: browserCfg.EvalTimeout,
			UserAgent:   browserCfg.UserAgent,
		}, logger), nil

	case config.BackendChrome:
		return chromeengine.New(chromeengine.Options{
			Headless:          browserCfg.Headless,
			ExecPath:          browserCfg.ExecPath,
			UserAgent:         browserCfg.UserAgent,
			Args:              browserCfg.Args,
			NavigationTimeout: browserCfg.NavigationTimeout,
			EvalTimeout:       browserCfg.EvalTimeout,
		}, logger), nil

	case config.BackendCBW:
		lib, err := cbw.Load(engCfg.LibraryPath)
		if err != nil {
			return nil, err
		}
		return cbw.New(lib, logger)

	default:
		return nil, fmt.Errorf("unknown engine backend %q", engCfg.Backend)
	}
}

// Start builds the configured engine and wraps it in a Runtime.
func Start(cfg config.Interface, logger *zap.Logger) (*Runtime, error) {
	engine, err := NewEngine(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s engine: %w", cfg.Engine().Backend, err)
	}
	return New(engine, logger), nil
}

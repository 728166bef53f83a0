package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "browser-window", cfg.Logger().ServiceName)
	assert.Equal(t, BackendGoja, cfg.Engine().Backend)
	assert.Equal(t, 10*time.Second, cfg.Engine().ShutdownTimeout)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 20*time.Second, cfg.Browser().EvalTimeout)
	assert.Equal(t, 800, cfg.Window().Width)
	assert.Equal(t, 255, cfg.Window().Opacity)
	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("should reject an unknown backend", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.EngineCfg.Backend = "webkit"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine configuration invalid")
		assert.Contains(t, err.Error(), `"webkit"`)
	})

	t.Run("should reject a negative shutdown timeout", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.EngineCfg.ShutdownTimeout = -time.Second
		assert.ErrorContains(t, cfg.Validate(), "shutdown_timeout must not be negative")
	})

	t.Run("should reject non-positive timeouts", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.BrowserCfg.EvalTimeout = 0
		assert.ErrorContains(t, cfg.Validate(), "eval_timeout must be a positive duration")

		cfg = NewDefaultConfig()
		cfg.BrowserCfg.NavigationTimeout = -1
		assert.ErrorContains(t, cfg.Validate(), "navigation_timeout must be a positive duration")
	})

	t.Run("should check window geometry and opacity", func(t *testing.T) {
		w := WindowConfig{Width: 1, Height: 1, Opacity: 0}
		assert.NoError(t, w.Validate())

		w.Height = 0
		assert.ErrorContains(t, w.Validate(), "width and height")

		w.Height = 1
		w.Opacity = 256
		assert.ErrorContains(t, w.Validate(), "opacity must be between 0 and 255")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("should load values from YAML over defaults", func(t *testing.T) {
		yamlBytes := []byte(`
engine:
  backend: " Chrome "
browser:
  headless: false
  args: ["--lang=en", "mute-audio"]
  eval_timeout: 5s
window:
  title: "Demo"
  opacity: 128
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, BackendChrome, cfg.Engine().Backend, "backend is normalized")
		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, []string{"--lang=en", "mute-audio"}, cfg.Browser().Args)
		assert.Equal(t, 5*time.Second, cfg.Browser().EvalTimeout)
		assert.Equal(t, "Demo", cfg.Window().Title)
		assert.Equal(t, 128, cfg.Window().Opacity)
		// Untouched sections keep their defaults.
		assert.Equal(t, 600, cfg.Window().Height)
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("should fail validation", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("window.width", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "width and height must be positive integers")
	})

	t.Run("should bind the library path from the environment", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engine.backend", BackendCBW)
		t.Setenv("BROWSERWINDOW_LIBRARY", "/opt/cbw/libcbw.so")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "/opt/cbw/libcbw.so", cfg.Engine().LibraryPath)
	})
}

// -- Setter Tests --

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetEngineBackend(BackendChrome)
	iface.SetBrowserHeadless(false)
	iface.SetBrowserEvalTimeout(time.Second)
	iface.SetWindowTitle("set")

	assert.Equal(t, BackendChrome, iface.Engine().Backend)
	assert.False(t, iface.Browser().Headless)
	assert.Equal(t, time.Second, iface.Browser().EvalTimeout)
	assert.Equal(t, "set", iface.Window().Title)
}

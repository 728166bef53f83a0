package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by engine.backend.
const (
	BackendGoja   = "goja"
	BackendChrome = "chrome"
	BackendCBW    = "cbw"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Window() WindowConfig

	// Engine Setters
	SetEngineBackend(string)

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserEvalTimeout(d time.Duration)

	// Window Setters
	SetWindowTitle(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	EngineCfg  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	WindowCfg  WindowConfig  `mapstructure:"window" yaml:"window"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig   { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Window() WindowConfig   { return c.WindowCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineBackend(b string)             { c.EngineCfg.Backend = b }
func (c *Config) SetBrowserHeadless(b bool)             { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserEvalTimeout(d time.Duration) { c.BrowserCfg.EvalTimeout = d }
func (c *Config) SetWindowTitle(title string)           { c.WindowCfg.Title = title }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig selects and tunes the native engine behind the runtime.
type EngineConfig struct {
	// Backend is one of goja, chrome or cbw.
	Backend string `mapstructure:"backend" yaml:"backend"`
	// LibraryPath points at the shared library for the cbw backend. Empty
	// means the platform default name, resolved by the dynamic loader.
	LibraryPath     string        `mapstructure:"library_path" yaml:"library_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// BrowserConfig holds settings for the browser process and script evaluation.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	EvalTimeout       time.Duration `mapstructure:"eval_timeout" yaml:"eval_timeout"`
}

// WindowConfig holds the defaults for newly built windows.
type WindowConfig struct {
	Title       string `mapstructure:"title" yaml:"title"`
	Width       int    `mapstructure:"width" yaml:"width"`
	Height      int    `mapstructure:"height" yaml:"height"`
	Borders     bool   `mapstructure:"borders" yaml:"borders"`
	Resizable   bool   `mapstructure:"resizable" yaml:"resizable"`
	Minimizable bool   `mapstructure:"minimizable" yaml:"minimizable"`
	Opacity     int    `mapstructure:"opacity" yaml:"opacity"`
	DevTools    bool   `mapstructure:"dev_tools" yaml:"dev_tools"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browser-window")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.backend", BackendGoja)
	v.SetDefault("engine.library_path", "")
	v.SetDefault("engine.shutdown_timeout", "10s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.eval_timeout", "20s")

	// -- Window --
	v.SetDefault("window.title", "browser-window")
	v.SetDefault("window.width", 800)
	v.SetDefault("window.height", 600)
	v.SetDefault("window.borders", true)
	v.SetDefault("window.resizable", true)
	v.SetDefault("window.minimizable", true)
	v.SetDefault("window.opacity", 255)
	v.SetDefault("window.dev_tools", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The cbw library location is commonly provided by the environment.
	v.BindEnv("engine.library_path", "BROWSERWINDOW_LIBRARY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.EngineCfg.Backend = strings.ToLower(strings.TrimSpace(cfg.EngineCfg.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.WindowCfg.Validate(); err != nil {
		return fmt.Errorf("window configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the EngineConfig settings.
func (e *EngineConfig) Validate() error {
	switch e.Backend {
	case BackendGoja, BackendChrome, BackendCBW:
	default:
		return fmt.Errorf("backend must be one of %s, %s or %s, got %q", BackendGoja, BackendChrome, BackendCBW, e.Backend)
	}
	if e.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative")
	}
	return nil
}

// Validate checks the BrowserConfig settings.
func (b *BrowserConfig) Validate() error {
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if b.EvalTimeout <= 0 {
		return fmt.Errorf("eval_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the WindowConfig settings.
func (w *WindowConfig) Validate() error {
	if w.Width <= 0 || w.Height <= 0 {
		return fmt.Errorf("width and height must be positive integers")
	}
	if w.Opacity < 0 || w.Opacity > 255 {
		return fmt.Errorf("opacity must be between 0 and 255")
	}
	return nil
}

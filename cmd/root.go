package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/config"
	"github.com/xkilldash9x/browser-window/internal/observability"
)

// envPrefix namespaces every environment override, e.g.
// BROWSERWINDOW_ENGINE_BACKEND=chrome.
const envPrefix = "BROWSERWINDOW"

// Execute builds the root command and runs it with ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// NewRootCommand creates a fresh command tree. Every call returns isolated
// flags and configuration.
func NewRootCommand() *cobra.Command {
	rootCmd, _ := newRootCmd()
	return rootCmd
}

// newRootCmd also returns a pointer to the configuration loaded by the
// persistent pre-run, for subcommands and tests.
func newRootCmd() (*cobra.Command, *config.Interface) {
	var (
		cfgFile  string
		backend  string
		logLevel string
		appCfg   config.Interface
	)

	rootCmd := &cobra.Command{
		Use:           "bwctl",
		Short:         "bwctl drives a browser engine from its event loop thread.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := initializeConfig(v, cfgFile); err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return err
			}
			if cmd.Flags().Changed("backend") {
				v.Set("engine.backend", backend)
			}
			if cmd.Flags().Changed("log-level") {
				v.Set("logger.level", logLevel)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return err
			}
			appCfg = cfg

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("backend", cfg.Engine().Backend),
				zap.String("config_file", v.ConfigFileUsed()),
			)
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.browserwindow/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "engine backend: goja, chrome or cbw")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	cfgFn := func() config.Interface { return appCfg }
	rootCmd.AddCommand(newEvalCmd(cfgFn))
	rootCmd.AddCommand(newReplCmd(cfgFn))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd, &appCfg
}

// initializeConfig reads the config file and environment into v.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".browserwindow"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return nil
}

// exitCodeError carries a non-zero event loop exit code out of a command.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("event loop exited with code %d", e.code)
}

// ExitCode extracts the process exit code for err: 0 for nil, the loop's code
// for an event loop exit, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

func stderrf(cmd *cobra.Command, format string, args ...any) {
	w := cmd.ErrOrStderr()
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, format, args...)
}

// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/internal/browser"
	"github.com/xkilldash9x/surveypilot/internal/config"
	"github.com/xkilldash9x/surveypilot/internal/observability"
	"github.com/xkilldash9x/surveypilot/internal/portal"
)

// pageOpener starts the browser tab the engine will own.
type pageOpener func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (portal.Page, error)

// app carries what PersistentPreRunE loads to the subcommands.
type app struct {
	cfg      *config.Config
	openPage pageOpener
}

func openBrowserPage(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (portal.Page, error) {
	session, err := browser.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return session, nil
}

var _ portal.Page = (*browser.Session)(nil)

// NewRootCommand builds a fresh command tree. Each call is independent, so
// flags never leak between executions.
func NewRootCommand() *cobra.Command {
	rootCmd, _ := newRootCmd(openBrowserPage)
	return rootCmd
}

func newRootCmd(opener pageOpener) (*cobra.Command, *app) {
	a := &app{openPage: opener}
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "surveypilot",
		Short:         "surveypilot logs into the YunTech portal and fills every pending teaching survey.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			a.cfg = cfg

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	flags.Bool("headless", true, "run the browser without a window")
	flags.String("exec-path", "", "path to a Chromium-family browser executable")
	flags.String("listen", "", "address of the local operator page")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)
	rootCmd.AddCommand(newRunCmd(a), newCaptchaCmd(a), newVersionCmd())
	return rootCmd, a
}

// flagBindings maps persistent flags onto configuration keys.
var flagBindings = map[string]string{
	"headless":  "browser.headless",
	"exec-path": "browser.exec_path",
	"listen":    "surface.listen_addr",
	"log-level": "logger.level",
}

// initializeConfig reads the config file, then layers SURVEYPILOT_* env vars and flags on top.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SURVEYPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagBindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func fallbackLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{Level: "info", Format: "console", ServiceName: "surveypilot"}
}

// Execute runs the command tree with ctx, which main wires to SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Run aborted by signal.")
			return err
		}
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
		return err
	}
	return nil
}

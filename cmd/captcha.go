// File: cmd/captcha.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/internal/observability"
	"github.com/xkilldash9x/surveypilot/internal/portal"
	"github.com/xkilldash9x/surveypilot/internal/relay"
)

func newCaptchaCmd(a *app) *cobra.Command {
	var output string
	var reload bool

	captchaCmd := &cobra.Command{
		Use:   "captcha",
		Short: "Fetch the login captcha once and save it as a PNG",
		Long: `captcha opens the login form, saves the captcha image and closes the browser
again. It checks that the browser, the portal and the captcha relay work without
logging in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := homedir.Expand(output)
			if err != nil {
				return fmt.Errorf("invalid output path: %w", err)
			}
			if err := a.saveCaptcha(cmd.Context(), path, reload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Captcha written to %s\n", path)
			return nil
		},
	}

	captchaCmd.Flags().StringVarP(&output, "output", "o", "captcha.png", "where to write the captcha image")
	captchaCmd.Flags().BoolVar(&reload, "reload", false, "ask the portal for a fresh captcha before saving")
	return captchaCmd
}

func (a *app) saveCaptcha(ctx context.Context, path string, reload bool) error {
	logger := observability.GetLogger()

	// Nothing subscribes, so anything the engine posts is dropped.
	bus := relay.NewBus(logger, 0)
	defer bus.Shutdown()

	page, err := a.openPage(ctx, a.cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	engine := portal.NewEngine(page, a.cfg.Portal, bus, logger)
	unregister := registerCleanup(func() { engine.Teardown(context.Background()) })
	defer unregister()
	defer engine.Teardown(context.Background())

	if err := engine.Bootstrap(ctx); err != nil {
		return err
	}

	var img portal.CaptchaImage
	if reload {
		img, err = engine.ReloadCaptcha(ctx)
	} else {
		img, err = engine.FetchCaptcha(ctx)
	}
	if err != nil {
		return err
	}

	data, err := img.PNG()
	if err != nil {
		return fmt.Errorf("portal did not offer a PNG captcha: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write captcha: %w", err)
	}
	logger.Info("Captcha saved.", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/surveypilot/api/schemas"
	"github.com/xkilldash9x/surveypilot/internal/observability"
	"github.com/xkilldash9x/surveypilot/internal/portal"
	"github.com/xkilldash9x/surveypilot/internal/relay"
	"github.com/xkilldash9x/surveypilot/internal/surface"
)

// busBufferSize is generous for a handful of operator messages per run.
const busBufferSize = 32

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Log in with an operator-solved captcha and fill every pending survey",
		Long: `run opens the portal in a controlled browser and serves a local page where
the operator enters credentials and solves the captcha. After a successful login
every pending teaching survey is answered and submitted, then the browser data
is wiped and the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(ctx context.Context) error {
	logger := observability.GetLogger()
	cfg := a.cfg

	bus := relay.NewBus(logger, busBufferSize)
	defer bus.Shutdown()

	// Both ends subscribe before the engine can post anything.
	operator := surface.NewServer(cfg.Surface, bus, logger)
	defer operator.Close()
	inbound, unsubscribe := bus.Subscribe(schemas.InboundChannels...)
	defer unsubscribe()

	page, err := a.openPage(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	engine := portal.NewEngine(page, cfg.Portal, bus, logger)
	unregister := registerCleanup(func() { engine.Teardown(context.Background()) })
	defer unregister()
	defer engine.Teardown(context.Background())

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return operator.ListenAndServe(gctx)
	})

	g.Go(func() error {
		// The engine decides when the run is over; the surface follows.
		defer stopRun()

		if err := engine.Bootstrap(gctx); err != nil {
			return err
		}
		img, err := engine.FetchCaptcha(gctx)
		if err != nil {
			logger.Warn("Could not read the first captcha; the operator can reload it.", zap.Error(err))
		}
		if err := engine.PublishCaptcha(gctx, img); err != nil {
			return fmt.Errorf("failed to relay captcha: %w", err)
		}
		logger.Info("Login form ready; waiting for the operator.")

		err = engine.Serve(gctx, inbound)
		if err == nil {
			logger.Info("All pending surveys handled.")
		}
		return err
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	// A signal on the parent context is an operator quit, not a clean finish.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

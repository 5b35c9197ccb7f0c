// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/api/schemas"
	"github.com/xkilldash9x/surveypilot/internal/config"
)

const (
	// clearBudget bounds cookie and cache clearing during teardown.
	clearBudget = 10 * time.Second
	// closeBudget bounds the graceful browser shutdown before the process is killed.
	closeBudget = 5 * time.Second
	// dialogBudget bounds the CDP call that answers a native dialog.
	dialogBudget = 5 * time.Second
)

// ErrClosed is returned by every page operation after Close.
var ErrClosed = errors.New("browser session is closed")

// Session is the single browser tab driven over the DevTools protocol.
// It is owned by whoever called Open and must be closed exactly once.
type Session struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	isClosed bool
}

// Open launches the browser and attaches to its first tab. The returned session
// outlives ctx; ctx only bounds the launch itself.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	sessionLogger := logger.Named("browser").With(zap.String("session_id", sessionID))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(cfg)...)
	sugar := sessionLogger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	s := &Session{
		logger:      sessionLogger,
		cfg:         cfg,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
	}

	// The first Run allocates the browser. It must run on the tab context itself,
	// since canceling the context of the first Run kills the browser.
	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(tabCtx) }()

	timeout := cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-launched:
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	sessionLogger.Info("Browser session opened.", zap.Bool("headless", cfg.Headless))
	return s, nil
}

// Navigate loads url in the tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.runActions(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until selector matches a visible element.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	return s.runActions(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// WaitPresent blocks until selector matches an element in the DOM.
func (s *Session) WaitPresent(ctx context.Context, selector string) error {
	return s.runActions(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// Click clicks the first visible element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.runActions(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// SendKeys types text into the element matching selector.
func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	return s.runActions(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery, chromedp.NodeVisible))
}

// Evaluate runs script in the current document and unmarshals the result into res.
// A nil res discards the result.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	return s.runActions(ctx, chromedp.Evaluate(script, res))
}

// Location returns the current document URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.runActions(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// OuterHTML returns the serialized markup of the first element matching selector.
func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := s.runActions(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// ExpectDialog subscribes a one-shot handler for the next native dialog
// (alert, confirm, prompt, beforeunload). The dialog is answered with accept and
// then reported on the returned channel. The stop function removes the
// subscription if no dialog arrived; calling it after delivery is harmless.
func (s *Session) ExpectDialog(accept bool) (<-chan schemas.Dialog, func()) {
	out := make(chan schemas.Dialog, 1)

	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return out, func() {}
	}

	listenCtx, stop := context.WithCancel(s.ctx)
	var once sync.Once

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		opening, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		once.Do(func() {
			// Listener callbacks run on the event loop; CDP calls must not block it.
			stop()
			go s.answerDialog(opening, accept, out)
		})
	})

	return out, stop
}

func (s *Session) answerDialog(ev *page.EventJavascriptDialogOpening, accept bool, out chan<- schemas.Dialog) {
	ctx, cancel := context.WithTimeout(s.ctx, dialogBudget)
	defer cancel()

	err := chromedp.Run(ctx, page.HandleJavaScriptDialog(accept))
	if err != nil {
		s.logger.Warn("Failed to answer native dialog.", zap.String("type", ev.Type.String()), zap.Error(err))
	} else {
		s.logger.Debug("Answered native dialog.", zap.String("type", ev.Type.String()), zap.Bool("accepted", accept))
	}

	out <- schemas.Dialog{
		Type:     schemas.DialogType(ev.Type.String()),
		Message:  ev.Message,
		Accepted: accept && err == nil,
	}
}

// ClearBrowsingData wipes cookies and the HTTP cache. It still runs when ctx is
// already canceled, bounded by its own budget.
func (s *Session) ClearBrowsingData(ctx context.Context) error {
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearBudget)
	defer cancel()

	if err := s.runActions(clearCtx, network.ClearBrowserCookies(), network.ClearBrowserCache()); err != nil {
		return fmt.Errorf("failed to clear browsing data: %w", err)
	}
	s.logger.Debug("Cleared cookies and cache.")
	return nil
}

// Close shuts the browser down. Calling it more than once is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// Ask the browser to exit gracefully; the allocator kills it if that stalls.
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()

	timer := time.NewTimer(closeBudget)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = fmt.Errorf("browser did not exit within %s", closeBudget)
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.cancel()
	s.allocCancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser cleanly: %w", err)
	}
	s.logger.Info("Browser session closed.")
	return nil
}

// runActions executes chromedp actions bounded by both the session lifetime and ctx,
// then pauses for the configured slow-motion delay.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	runCtx, cancel := forCaller(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return err
	}

	if s.cfg.SlowMotion > 0 {
		select {
		case <-time.After(s.cfg.SlowMotion):
		case <-runCtx.Done():
		}
	}
	return nil
}

// internal/portal/engine.go
package portal

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/api/schemas"
	"github.com/xkilldash9x/surveypilot/internal/config"
	"github.com/xkilldash9x/surveypilot/internal/relay"
)

// Engine drives the portal workflow on a single exclusively owned page:
// captcha relay, login, survey discovery, filling and teardown.
type Engine struct {
	page      Page
	cfg       config.PortalConfig
	publisher Publisher
	logger    *zap.Logger
	timings   timings

	// inFlight guards the single-login-attempt invariant.
	inFlight atomic.Bool
	attempts sync.WaitGroup

	closed       atomic.Bool
	teardownOnce sync.Once

	finishOnce sync.Once
	done       chan struct{}
	resultMu   sync.Mutex
	result     error
}

// NewEngine takes ownership of page. The caller must not use page afterwards.
func NewEngine(page Page, cfg config.PortalConfig, publisher Publisher, logger *zap.Logger) *Engine {
	return newEngine(page, cfg, publisher, logger, defaultTimings)
}

func newEngine(page Page, cfg config.PortalConfig, publisher Publisher, logger *zap.Logger, t timings) *Engine {
	return &Engine{
		page:      page,
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.Named("portal"),
		timings:   t,
		done:      make(chan struct{}),
	}
}

// Done is closed once the workflow has reached a terminal state and the
// session was torn down.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the terminal error of the workflow, nil for a clean run.
// Only meaningful after Done is closed.
func (e *Engine) Err() error {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return e.result
}

// Bootstrap opens the portal home page and brings up the login form.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.logger.Info("Opening portal.", zap.String("url", e.cfg.HomeURL))

	if err := e.navigate(ctx, e.cfg.HomeURL); err != nil {
		return stageErr(StageBootstrap, err)
	}
	if err := e.click(ctx, selLoginLink); err != nil {
		return stageErr(StageBootstrap, fmt.Errorf("failed to open login form: %w", err))
	}
	for _, sel := range []string{selUsername, selPassword, selCaptchaImage} {
		if err := e.waitVisible(ctx, sel); err != nil {
			return stageErr(StageBootstrap, err)
		}
	}
	return nil
}

// ClearUsername empties the username field of the login form.
func (e *Engine) ClearUsername(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	for _, sel := range []string{selUsername, selPassword} {
		if err := e.waitVisible(ctx, sel); err != nil {
			return err
		}
	}
	if err := e.waitPresent(ctx, selCaptchaImage); err != nil {
		return err
	}
	var ok bool
	if err := e.evaluate(ctx, clearFieldsScript(selUsername), &ok); err != nil {
		return fmt.Errorf("failed to clear username: %w", err)
	}
	return nil
}

// Serve handles operator messages until the workflow finishes, ctx is
// canceled, or inbound is closed. Login attempts run in the background so
// the loop keeps answering; every other request runs inline.
func (e *Engine) Serve(ctx context.Context, inbound <-chan relay.Message) error {
	defer e.attempts.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return e.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			e.handle(ctx, msg)
		}
	}
}

func (e *Engine) handle(ctx context.Context, msg relay.Message) {
	logger := e.logger.With(zap.String("channel", string(msg.Channel)), zap.String("message_id", msg.ID))

	switch msg.Channel {
	case schemas.ChannelLogin:
		var req schemas.LoginRequest
		if err := msg.Decode(&req); err != nil {
			logger.Warn("Malformed login request.", zap.Error(err))
			e.post(ctx, schemas.ChannelLoginError, err.Error())
			return
		}
		if err := e.StartLogin(ctx, req); err != nil {
			logger.Warn("Login request rejected.", zap.Error(err))
		}

	case schemas.ChannelReloadCaptcha:
		if e.inFlight.Load() {
			logger.Warn("Captcha reload rejected.", zap.Error(ErrLoginInFlight))
			return
		}
		img, err := e.ReloadCaptcha(ctx)
		if errors.Is(err, ErrSessionClosed) {
			logger.Warn("Captcha reload ignored.", zap.Error(err))
			return
		}
		if err != nil {
			logger.Error("Captcha reload failed; relaying absent marker.", zap.Error(err))
		}
		e.post(ctx, schemas.ChannelCaptcha, img.Payload())

	case schemas.ChannelClearUsername:
		if e.inFlight.Load() {
			logger.Warn("Clear username rejected.", zap.Error(ErrLoginInFlight))
			return
		}
		if err := e.ClearUsername(ctx); err != nil {
			logger.Error("Failed to clear username.", zap.Error(err))
		}

	case schemas.ChannelRefocusWindow, schemas.ChannelCloseWindow:
		logger.Info("Window request acknowledged.")

	default:
		logger.Debug("Ignoring message on a non-inbound channel.")
	}
}

// StartLogin launches one login attempt in the background. It fails with
// ErrLoginInFlight while a previous attempt is unresolved.
func (e *Engine) StartLogin(ctx context.Context, req schemas.LoginRequest) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrLoginInFlight
	}
	e.attempts.Add(1)
	go e.loginAttempt(ctx, req)
	return nil
}

func (e *Engine) loginAttempt(ctx context.Context, req schemas.LoginRequest) {
	defer e.attempts.Done()
	defer e.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic during login attempt.",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			e.post(ctx, schemas.ChannelLoginError, fmt.Sprint(r))
			e.finish(ctx, fmt.Errorf("panic during login attempt: %v", r))
		}
	}()

	outcome, err := e.SubmitLogin(ctx, req)
	if err != nil {
		e.logger.Error("Login attempt faulted.", zap.Error(err))
		// The operator reacts to the post right away, so the page must be free first.
		e.inFlight.Store(false)
		e.post(ctx, schemas.ChannelLoginError, err.Error())
		return
	}

	e.logger.Info("Login attempt resolved.", zap.Stringer("outcome", outcome))
	if outcome.Kind != OutcomeSuccess {
		e.inFlight.Store(false)
	}
	switch outcome.Kind {
	case OutcomeSuccess:
		e.post(ctx, schemas.ChannelLoginSuccess, nil)
		err := e.completeSurveys(ctx)
		if err != nil {
			e.logger.Error("Survey batch aborted.", zap.Error(err))
			e.post(ctx, schemas.ChannelLoginError, err.Error())
		}
		e.finish(ctx, err)
	case OutcomeFailed:
		e.post(ctx, schemas.ChannelLoginFailed, outcome.Message)
	case OutcomeTimedOut:
		e.post(ctx, schemas.ChannelLoginError, timedOutMessage)
	}
}

// completeSurveys runs discovery and filling after a successful login.
func (e *Engine) completeSurveys(ctx context.Context) error {
	nav, err := e.AfterSuccess(ctx)
	if err != nil {
		return err
	}
	if nav.Resolved {
		e.logger.Info("Portal reports every questionnaire already filled.", zap.String("dialog", nav.Dialog.Message))
		return nil
	}

	report, err := e.FillAll(ctx, nav.Links)
	e.logger.Info("Survey batch finished.",
		zap.Int("completed", len(report.Completed)),
		zap.Int("skipped", len(report.Skipped)))
	return err
}

// finish records the terminal result, tears the session down and releases Done.
func (e *Engine) finish(ctx context.Context, err error) {
	e.finishOnce.Do(func() {
		e.resultMu.Lock()
		e.result = err
		e.resultMu.Unlock()

		e.Teardown(ctx)
		close(e.done)
	})
}

func (e *Engine) post(ctx context.Context, ch schemas.Channel, payload interface{}) {
	if err := e.publisher.Post(ctx, ch, payload); err != nil {
		e.logger.Warn("Failed to relay message to the operator.", zap.String("channel", string(ch)), zap.Error(err))
	}
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

func (e *Engine) navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()
	if err := e.page.Navigate(navCtx, url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// bounded runs one page interaction under the element timeout. chromedp keeps
// retrying a selector until its context ends, so every interaction needs a
// deadline; running out of it maps to ErrElementNotVisible.
func (e *Engine) bounded(ctx context.Context, target string, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.ElementTimeout)
	defer cancel()
	if err := op(opCtx); err != nil {
		if ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrElementNotVisible, target, e.cfg.ElementTimeout)
		}
		return err
	}
	return nil
}

func (e *Engine) waitVisible(ctx context.Context, selector string) error {
	err := e.bounded(ctx, selector, func(ctx context.Context) error {
		return e.page.WaitVisible(ctx, selector)
	})
	if err != nil && !errors.Is(err, ErrElementNotVisible) {
		return fmt.Errorf("waiting for %s: %w", selector, err)
	}
	return err
}

func (e *Engine) waitPresent(ctx context.Context, selector string) error {
	err := e.bounded(ctx, selector, func(ctx context.Context) error {
		return e.page.WaitPresent(ctx, selector)
	})
	if err != nil && !errors.Is(err, ErrElementNotVisible) {
		return fmt.Errorf("waiting for %s: %w", selector, err)
	}
	return err
}

func (e *Engine) click(ctx context.Context, selector string) error {
	return e.bounded(ctx, selector, func(ctx context.Context) error {
		return e.page.Click(ctx, selector)
	})
}

func (e *Engine) sendKeys(ctx context.Context, selector, text string) error {
	return e.bounded(ctx, selector, func(ctx context.Context) error {
		return e.page.SendKeys(ctx, selector, text)
	})
}

func (e *Engine) evaluate(ctx context.Context, script string, res interface{}) error {
	return e.bounded(ctx, "script result", func(ctx context.Context) error {
		return e.page.Evaluate(ctx, script, res)
	})
}

func (e *Engine) location(ctx context.Context) (string, error) {
	var current string
	err := e.bounded(ctx, "document location", func(ctx context.Context) error {
		var err error
		current, err = e.page.Location(ctx)
		return err
	})
	return current, err
}

func (e *Engine) outerHTML(ctx context.Context, selector string) (string, error) {
	var html string
	err := e.bounded(ctx, selector, func(ctx context.Context) error {
		var err error
		html, err = e.page.OuterHTML(ctx, selector)
		return err
	})
	return html, err
}

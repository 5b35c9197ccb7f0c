// internal/portal/login.go
package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/api/schemas"
)

// toastTextScript reads the toast message text, or "" when there is none.
var toastTextScript = fmt.Sprintf(`(function() {
	const toast = document.querySelector(%q);
	return (toast && toast.innerText) || "";
})()`, selToastMessage)

// clearFieldsScript empties the value of every input matching selectors.
func clearFieldsScript(selectors ...string) string {
	quoted := make([]string, len(selectors))
	for i, s := range selectors {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf(`(function() {
	[%s].forEach(function(sel) {
		const el = document.querySelector(sel);
		if (el) { el.value = ""; }
	});
	return true;
})()`, strings.Join(quoted, ", "))
}

// SubmitLogin types the credentials, submits the form and resolves the outcome.
// Failed and TimedOut are outcomes; a returned error is an operational fault.
func (e *Engine) SubmitLogin(ctx context.Context, req schemas.LoginRequest) (LoginOutcome, error) {
	if err := e.checkOpen(); err != nil {
		return LoginOutcome{}, err
	}
	e.logger.Info("Submitting credentials.", zap.String("username", req.Username))
	e.logger.Debug("Login request.", zap.Any("request", req.Redacted()))

	// A retry after a failed attempt must not append to what is already typed.
	var ok bool
	if err := e.evaluate(ctx, clearFieldsScript(selUsername, selPassword, selCaptchaAnswer), &ok); err != nil {
		return LoginOutcome{}, stageErr(StageLogin, fmt.Errorf("failed to reset login form: %w", err))
	}

	fields := []struct {
		selector string
		value    string
	}{
		{selUsername, req.Username},
		{selPassword, req.Password},
		{selCaptchaAnswer, req.CaptchaAnswer},
	}
	for _, f := range fields {
		if err := e.sendKeys(ctx, f.selector, f.value); err != nil {
			return LoginOutcome{}, stageErr(StageLogin, fmt.Errorf("failed to type into %s: %w", f.selector, err))
		}
	}
	if err := e.click(ctx, selSubmitLogin); err != nil {
		return LoginOutcome{}, stageErr(StageLogin, fmt.Errorf("failed to submit login form: %w", err))
	}

	outcome, err := e.awaitOutcome(ctx)
	if err != nil {
		return LoginOutcome{}, stageErr(StageLogin, err)
	}
	return outcome, nil
}

// awaitOutcome races the toast observer against the landing-URL poller.
// A toast that never shows is advisory only; the poller still decides between
// Success and TimedOut.
func (e *Engine) awaitOutcome(ctx context.Context) (LoginOutcome, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	toastCh := make(chan bool, 1)
	pollCh := make(chan bool, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		toastCh <- e.observeToast(raceCtx)
	}()
	go func() {
		defer wg.Done()
		pollCh <- e.pollLanding(raceCtx)
	}()

	for {
		select {
		case visible := <-toastCh:
			toastCh = nil
			if !visible {
				e.logger.Debug("No toast appeared; still waiting for the landing page.")
				continue
			}
			return e.resolveToast(ctx)

		case landed := <-pollCh:
			if ctx.Err() != nil {
				return LoginOutcome{}, ctx.Err()
			}
			if landed {
				return Success(), nil
			}
			return TimedOut(), nil

		case <-ctx.Done():
			return LoginOutcome{}, ctx.Err()
		}
	}
}

// resolveToast turns a visible toast into Failed, unless the landing page was
// reached in the meantime.
func (e *Engine) resolveToast(ctx context.Context) (LoginOutcome, error) {
	if e.atLanding(ctx) {
		return Success(), nil
	}
	var text string
	if err := e.evaluate(ctx, toastTextScript, &text); err != nil {
		return LoginOutcome{}, fmt.Errorf("failed to read toast message: %w", err)
	}
	return Failed(strings.TrimSpace(text)), nil
}

// observeToast reports whether the toast container became visible in time.
func (e *Engine) observeToast(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, e.timings.toastWait)
	defer cancel()
	return e.page.WaitVisible(waitCtx, selToast) == nil
}

// pollLanding checks the current URL on a fixed cadence and reports whether
// the landing page showed up within pollAttempts x pollInterval.
func (e *Engine) pollLanding(ctx context.Context) bool {
	ticker := time.NewTicker(e.timings.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= e.timings.pollAttempts; attempt++ {
		// A URL read stuck behind a navigation counts as a miss for this tick.
		readCtx, cancel := context.WithTimeout(ctx, e.timings.pollInterval)
		landed := e.atLanding(readCtx)
		cancel()
		if landed {
			e.logger.Debug("Landing page reached.", zap.Int("attempt", attempt))
			return true
		}
		// The last URL check also gets its full interval before the attempt is
		// declared timed out, so a late toast can still win.
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
	return false
}

func (e *Engine) atLanding(ctx context.Context) bool {
	current, err := e.location(ctx)
	if err != nil {
		e.logger.Debug("Could not read current URL.", zap.Error(err))
		return false
	}
	return current == e.cfg.LandingURL
}

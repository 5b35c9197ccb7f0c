// internal/portal/teardown.go
package portal

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

// Teardown clears cookies and cache and closes the browser. Only the first
// call does anything; faults are logged and swallowed.
func (e *Engine) Teardown(ctx context.Context) {
	e.teardownOnce.Do(func() {
		e.closed.Store(true)

		e.teardownStep("clear browsing data", func() error { return e.page.ClearBrowsingData(ctx) })
		e.teardownStep("close browser", func() error { return e.page.Close(ctx) })
		e.logger.Info("Session torn down.")
	})
}

// teardownStep runs one step so a fault in it cannot skip the next one.
func (e *Engine) teardownStep(name string, step func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic during teardown.",
				zap.String("step", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	if err := step(); err != nil {
		e.logger.Warn("Teardown step failed.", zap.String("step", name), zap.Error(err))
	}
}

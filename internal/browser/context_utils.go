// internal/browser/context_utils.go
package browser

import "context"

// forCaller scopes the tab context to a single caller. The result keeps the
// tab's chromedp values, takes over the caller's deadline and ends when either
// side is done. context.Cause reports why the caller gave up.
func forCaller(tab, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(tab)
	cancelDeadline := context.CancelFunc(func() {})
	if deadline, ok := caller.Deadline(); ok {
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
	}
	stop := context.AfterFunc(caller, func() { cancel(context.Cause(caller)) })

	return ctx, func() {
		stop()
		cancelDeadline()
		cancel(context.Canceled)
	}
}

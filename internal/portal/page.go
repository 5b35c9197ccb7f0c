// internal/portal/page.go
package portal

import (
	"context"

	"github.com/xkilldash9x/surveypilot/api/schemas"
)

// Page is the slice of a browser tab the portal workflow needs.
// internal/browser.Session is the production implementation.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	WaitPresent(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	Evaluate(ctx context.Context, script string, res interface{}) error
	Location(ctx context.Context) (string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
	// ExpectDialog answers the next native dialog with accept and reports it once.
	ExpectDialog(accept bool) (<-chan schemas.Dialog, func())
	ClearBrowsingData(ctx context.Context) error
	Close(ctx context.Context) error
}

// Publisher posts engine events to the operator surface.
type Publisher interface {
	Post(ctx context.Context, ch schemas.Channel, payload interface{}) error
}

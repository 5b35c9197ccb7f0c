// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/api/schemas"
	"github.com/xkilldash9x/surveypilot/internal/config"
	"github.com/xkilldash9x/surveypilot/internal/observability"
	"github.com/xkilldash9x/surveypilot/internal/portal"
)

// onePixelPNG is a valid 1x1 PNG, base64 encoded.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// stubPage is a Page on which every element is present and every action succeeds.
type stubPage struct {
	mu       sync.Mutex
	clicks   []string
	captcha  string
	cleared  int
	closed   int
	location string
}

func newStubPage() *stubPage {
	return &stubPage{captcha: "data:image/png;base64," + onePixelPNG, location: "about:blank"}
}

func (p *stubPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = url
	return nil
}

func (p *stubPage) WaitVisible(ctx context.Context, selector string) error { return nil }
func (p *stubPage) WaitPresent(ctx context.Context, selector string) error { return nil }

func (p *stubPage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *stubPage) SendKeys(ctx context.Context, selector, text string) error { return nil }

func (p *stubPage) Evaluate(ctx context.Context, script string, res interface{}) error {
	if s, ok := res.(*string); ok {
		*s = p.captcha
	}
	return nil
}

func (p *stubPage) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *stubPage) OuterHTML(ctx context.Context, selector string) (string, error) {
	return "<html></html>", nil
}

func (p *stubPage) ExpectDialog(accept bool) (<-chan schemas.Dialog, func()) {
	return make(chan schemas.Dialog, 1), func() {}
}

func (p *stubPage) ClearBrowsingData(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
	return nil
}

func (p *stubPage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *stubPage) snapshot() (clicks []string, cleared, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...), p.cleared, p.closed
}

var _ portal.Page = (*stubPage)(nil)

func openerFor(page portal.Page) pageOpener {
	return func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (portal.Page, error) {
		return page, nil
	}
}

// newTestCommand builds a fresh command tree with args and a clean logger.
func newTestCommand(t *testing.T, opener pageOpener, args ...string) (*cobra.Command, *bytes.Buffer, *app) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	// A config.yaml in the working directory must not leak into tests.
	t.Chdir(t.TempDir())

	rootCmd, a := newRootCmd(opener)
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	return rootCmd, out, a
}

// executeCommand runs a fresh command tree with args and returns its output.
func executeCommand(t *testing.T, ctx context.Context, opener pageOpener, args ...string) (string, *app, error) {
	t.Helper()
	rootCmd, out, a := newTestCommand(t, opener, args...)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), a, err
}

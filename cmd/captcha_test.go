// File: cmd/captcha_test.go
package cmd

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptchaCmd(t *testing.T) {
	want, err := base64.StdEncoding.DecodeString(onePixelPNG)
	require.NoError(t, err)

	t.Run("writes the current captcha", func(t *testing.T) {
		page := newStubPage()
		path := filepath.Join(t.TempDir(), "captcha.png")

		out, _, err := executeCommand(t, context.Background(), openerFor(page), "captcha", "-o", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Captcha written to "+path)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		clicks, cleared, closed := page.snapshot()
		assert.NotContains(t, clicks, "#RefreshCaptchaBtn")
		assert.Equal(t, 1, cleared, "browser data is wiped on the way out")
		assert.Equal(t, 1, closed)
	})

	t.Run("reload asks for a fresh image first", func(t *testing.T) {
		page := newStubPage()
		path := filepath.Join(t.TempDir(), "fresh.png")

		_, _, err := executeCommand(t, context.Background(), openerFor(page), "captcha", "--reload", "-o", path)
		require.NoError(t, err)

		clicks, _, _ := page.snapshot()
		assert.Contains(t, clicks, "#RefreshCaptchaBtn")
		assert.FileExists(t, path)
	})

	t.Run("absent captcha is an error", func(t *testing.T) {
		page := newStubPage()
		page.captcha = ""
		path := filepath.Join(t.TempDir(), "none.png")

		_, _, err := executeCommand(t, context.Background(), openerFor(page), "captcha", "-o", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not offer a PNG captcha")
		assert.NoFileExists(t, path)

		_, _, closed := page.snapshot()
		assert.Equal(t, 1, closed, "teardown runs on failure too")
	})

	t.Run("browser does not start", func(t *testing.T) {
		_, _, err := executeCommand(t, context.Background(), failingOpener, "captcha", "-o", filepath.Join(t.TempDir(), "x.png"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start browser")
	})
}

// File: cmd/root_test.go
package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/internal/config"
	"github.com/xkilldash9x/surveypilot/internal/portal"
)

func failingOpener(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (portal.Page, error) {
	return nil, errors.New("no browser here")
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, _, err := executeCommand(t, context.Background(), failingOpener, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "surveypilot version "+Version)
}

func TestRootCmd_Help(t *testing.T) {
	out, _, err := executeCommand(t, context.Background(), failingOpener, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "fills every pending teaching survey")
	for _, sub := range []string{"run", "captcha", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCmd(t *testing.T) {
	out, _, err := executeCommand(t, context.Background(), failingOpener, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "surveypilot "+Version)
}

func TestConfigLayering(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		_, a, err := executeCommand(t, context.Background(), failingOpener, "version")
		require.NoError(t, err)
		require.NotNil(t, a.cfg)
		assert.Equal(t, "127.0.0.1:7878", a.cfg.Surface.ListenAddr)
		assert.True(t, a.cfg.Browser.Headless)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("SURVEYPILOT_SURFACE_LISTEN_ADDR", "127.0.0.1:9000")
		t.Setenv("SURVEYPILOT_BROWSER_HEADLESS", "false")

		_, a, err := executeCommand(t, context.Background(), failingOpener, "version")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", a.cfg.Surface.ListenAddr)
		assert.False(t, a.cfg.Browser.Headless)
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv("SURVEYPILOT_SURFACE_LISTEN_ADDR", "127.0.0.1:9000")

		_, a, err := executeCommand(t, context.Background(), failingOpener,
			"--listen", "127.0.0.1:9100", "--exec-path", "/opt/chromium/chrome", "version")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9100", a.cfg.Surface.ListenAddr)
		assert.Equal(t, "/opt/chromium/chrome", a.cfg.Browser.ExecPath)
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "surveypilot.yaml")
		require.NoError(t, os.WriteFile(path, []byte("browser:\n  slow_motion: 40ms\nsurface:\n  listen_addr: 127.0.0.1:9200\n"), 0o600))

		_, a, err := executeCommand(t, context.Background(), failingOpener, "--config", path, "version")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9200", a.cfg.Surface.ListenAddr)
		assert.Equal(t, "40ms", a.cfg.Browser.SlowMotion.String())
	})
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Run("unreadable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("portal: [unclosed"), 0o600))

		_, _, err := executeCommand(t, context.Background(), failingOpener, "--config", path, "version")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize configuration")
	})

	t.Run("fails validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("portal:\n  landing_url: /relative\n"), 0o600))

		_, _, err := executeCommand(t, context.Background(), failingOpener, "--config", path, "version")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "landing_url")
	})
}

// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
//
// The race budgets of the login and survey workflow (toast wait, URL poll
// cadence, dialog waits) are deliberately absent: they are fixed by the portal
// contract and live as constants in the portal package.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Portal  PortalConfig  `mapstructure:"portal" yaml:"portal"`
	Surface SurfaceConfig `mapstructure:"surface" yaml:"surface"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled browser process.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExecPath points at a Chromium-family executable. Empty lets chromedp
	// search the usual install locations.
	ExecPath    string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args        []string `mapstructure:"args" yaml:"args"`
	// SlowMotion is a pause inserted after every page interaction.
	SlowMotion time.Duration `mapstructure:"slow_motion" yaml:"slow_motion"`
	// LaunchTimeout bounds how long we wait for the first tab to attach.
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// PortalConfig describes the institutional portal being automated.
type PortalConfig struct {
	HomeURL    string `mapstructure:"home_url" yaml:"home_url"`
	LandingURL string `mapstructure:"landing_url" yaml:"landing_url"`
	SurveyURL  string `mapstructure:"survey_url" yaml:"survey_url"`
	// NavigationTimeout bounds a single page navigation.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ElementTimeout bounds waits for form controls to become visible.
	ElementTimeout time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
}

// SurfaceConfig configures the local operator surface.
type SurfaceConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// InboundRate caps operator messages per second per connection.
	InboundRate  float64 `mapstructure:"inbound_rate" yaml:"inbound_rate"`
	InboundBurst int     `mapstructure:"inbound_burst" yaml:"inbound_burst"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "surveypilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.slow_motion", "5ms")
	v.SetDefault("browser.launch_timeout", "60s")

	// -- Portal --
	v.SetDefault("portal.home_url", "https://webapp.yuntech.edu.tw/WebNewCAS/default.aspx")
	v.SetDefault("portal.landing_url", "https://webapp.yuntech.edu.tw/WebNewCAS/default.aspx")
	v.SetDefault("portal.survey_url", "https://webapp.yuntech.edu.tw/WebNewCAS/TeachSurvey/Survey/Default.aspx?ShowInfoMsg=1")
	v.SetDefault("portal.navigation_timeout", "60s")
	v.SetDefault("portal.element_timeout", "30s")

	// -- Surface --
	v.SetDefault("surface.listen_addr", "127.0.0.1:7878")
	v.SetDefault("surface.inbound_rate", 5.0)
	v.SetDefault("surface.inbound_burst", 10)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading "~" in every filesystem path setting.
func (c *Config) ExpandPaths() error {
	paths := []*string{&c.Logger.LogFile, &c.Browser.ExecPath, &c.Browser.UserDataDir}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logger.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be 'console' or 'json', got %q", c.Logger.Format)
	}
	if err := c.Portal.Validate(); err != nil {
		return fmt.Errorf("portal configuration invalid: %w", err)
	}
	if c.Browser.SlowMotion < 0 {
		return fmt.Errorf("browser.slow_motion must not be negative")
	}
	if c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.Surface.ListenAddr == "" {
		return fmt.Errorf("surface.listen_addr is required")
	}
	if c.Surface.InboundRate <= 0 || c.Surface.InboundBurst <= 0 {
		return fmt.Errorf("surface.inbound_rate and surface.inbound_burst must be positive")
	}
	return nil
}

// Validate checks the portal endpoints and timeouts.
func (p *PortalConfig) Validate() error {
	endpoints := map[string]string{
		"home_url":    p.HomeURL,
		"landing_url": p.LandingURL,
		"survey_url":  p.SurveyURL,
	}
	for key, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
		}
	}
	if p.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if p.ElementTimeout <= 0 {
		return fmt.Errorf("element_timeout must be a positive duration")
	}
	return nil
}

// Package config loads client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/scamazon/storefront/internal/realtime"
)

// EnvPrefix prefixes every variable read by Load.
const EnvPrefix = "STOREFRONT_"

// Config holds the client settings.
type Config struct {
	// APIURL is the base URL of the storefront backend.
	APIURL string `env:"API_URL" envDefault:"http://localhost:5000"`
	// AppHubURL and ChatHubURL default to APIURL.
	AppHubURL  string `env:"APP_HUB_URL"`
	ChatHubURL string `env:"CHAT_HUB_URL"`
	// AppHubPath and ChatHubPath locate the two hubs on their servers.
	AppHubPath  string `env:"APP_HUB_PATH" envDefault:"/app-hub"`
	ChatHubPath string `env:"CHAT_HUB_PATH" envDefault:"/chathub"`

	// HomeDir is where credentials are stored. Defaults to ~/.storefront.
	HomeDir string `env:"HOME_DIR"`

	Debug    bool   `env:"DEBUG"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	HistoryPageSize int           `env:"HISTORY_PAGE_SIZE" envDefault:"50"`
	// EventBuffer bounds each broadcast subscriber's queue.
	EventBuffer int `env:"EVENT_BUFFER" envDefault:"10"`

	// MetricsAddr enables a Prometheus listener when set.
	MetricsAddr string `env:"METRICS_ADDR"`

	// PushToken is registered with the backend after login when set.
	PushToken  string `env:"PUSH_TOKEN"`
	DeviceType string `env:"DEVICE_TYPE" envDefault:"android"`
}

// Load reads the environment, applies defaults, validates and makes sure
// the home directory exists.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// Plain DEBUG is honoured too.
	if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}

	if cfg.HomeDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.HomeDir = filepath.Join(homeDir, ".storefront")
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.AppHubURL == "" {
		cfg.AppHubURL = cfg.APIURL
	}
	if cfg.ChatHubURL == "" {
		cfg.ChatHubURL = cfg.APIURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks URLs and sizes.
func (c *Config) Validate() error {
	var errs []error
	for name, raw := range map[string]string{
		"API_URL":      c.APIURL,
		"APP_HUB_URL":  c.AppHubURL,
		"CHAT_HUB_URL": c.ChatHubURL,
	} {
		if err := validateURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%sHTTP_TIMEOUT must be positive", EnvPrefix))
	}
	if c.HistoryPageSize <= 0 {
		errs = append(errs, fmt.Errorf("%sHISTORY_PAGE_SIZE must be positive", EnvPrefix))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("%sEVENT_BUFFER must be positive", EnvPrefix))
	}
	return errors.Join(errs...)
}

// Save creates the home directory.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.HomeDir, 0700); err != nil {
		return fmt.Errorf("failed to create storefront home: %w", err)
	}
	return nil
}

// SetAPIURL overrides the backend URL. Hub URLs that defaulted to the old
// value follow the new one.
func (c *Config) SetAPIURL(raw string) error {
	raw = strings.TrimRight(raw, "/")
	if c.AppHubURL == c.APIURL {
		c.AppHubURL = raw
	}
	if c.ChatHubURL == c.APIURL {
		c.ChatHubURL = raw
	}
	c.APIURL = raw
	return c.Validate()
}

// Realtime returns the hub locations for the connection manager.
func (c *Config) Realtime() realtime.Config {
	return realtime.Config{
		AppHubURL:   c.AppHubURL,
		AppHubPath:  c.AppHubPath,
		ChatHubURL:  c.ChatHubURL,
		ChatHubPath: c.ChatHubPath,
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

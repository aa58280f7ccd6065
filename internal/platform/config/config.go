// Package config loads the calendar client's settings from a YAML file, with
// environment variables taking precedence over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/calsync/project/internal/client/viewrange"
	"github.com/calsync/project/internal/platform/env"
)

type Client struct {
	// ServerURL is the page URL the calendar is served from; the WebSocket endpoint is
	// derived from it.
	ServerURL string `yaml:"server_url"`
	Timezone  string `yaml:"timezone"`
	Mode      string `yaml:"mode"`
	LogLevel  string `yaml:"log_level"`

	Heartbeat struct {
		Interval time.Duration `yaml:"interval"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"heartbeat"`
}

func Default() Client {
	return Client{
		ServerURL: env.DefaultServerURL,
		Timezone:  env.DefaultTimezone,
		Mode:      string(viewrange.ModeMonth),
		LogLevel:  "info",
	}
}

// DefaultPath is ~/.config/calsync/client.yaml, or the value of CALSYNC_CONFIG.
func DefaultPath() string {
	if p := env.String("CALSYNC_CONFIG", ""); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "client.yaml"
	}
	return filepath.Join(dir, "calsync", "client.yaml")
}

// Load reads path over the defaults, then applies CALSYNC_SERVER_URL, CALSYNC_TIMEZONE,
// CALSYNC_MODE and LOG_LEVEL. A missing file is not an error.
func Load(path string) (Client, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Client{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Client{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.ServerURL = env.String("CALSYNC_SERVER_URL", cfg.ServerURL)
	cfg.Timezone = env.String("CALSYNC_TIMEZONE", cfg.Timezone)
	cfg.Mode = env.String("CALSYNC_MODE", cfg.Mode)
	cfg.LogLevel = env.String("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func (c Client) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server_url is required")
	}
	if _, err := viewrange.ParseMode(c.Mode); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if c.Heartbeat.Interval < 0 || c.Heartbeat.Timeout < 0 {
		return errors.New("heartbeat durations must not be negative")
	}
	return nil
}

func (c Client) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Client) ViewMode() viewrange.Mode {
	m, err := viewrange.ParseMode(c.Mode)
	if err != nil {
		return viewrange.ModeMonth
	}
	return m
}

// Save writes c to path, creating parent directories.
func Save(path string, c Client) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

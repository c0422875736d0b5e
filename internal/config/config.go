package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session" env:"CHATSYNC_SESSION"`
	APIBaseURL     string `toml:"api_base_url" env:"CHATSYNC_API_URL"`
	WSBaseURL      string `toml:"ws_base_url" env:"CHATSYNC_WS_URL"`

	Reconnect Reconnect `toml:"reconnect" envPrefix:"CHATSYNC_RECONNECT_"`
	Typing    Typing    `toml:"typing" envPrefix:"CHATSYNC_TYPING_"`

	ProfileTTL      time.Duration `toml:"profile_ttl" env:"CHATSYNC_PROFILE_TTL"`
	HistoryPageSize int           `toml:"history_page_size" env:"CHATSYNC_HISTORY_PAGE_SIZE"`
	MetricsAddr     string        `toml:"metrics_addr" env:"CHATSYNC_METRICS_ADDR"`
	LogLevel        string        `toml:"log_level" env:"CHATSYNC_LOG_LEVEL"`
}

// Reconnect holds the backoff policy and close code classification.
type Reconnect struct {
	BaseDelay        time.Duration `toml:"base_delay" env:"BASE_DELAY"`
	MaxDelay         time.Duration `toml:"max_delay" env:"MAX_DELAY"`
	MaxAttempts      int           `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	AuthCloseCodes   []int         `toml:"auth_close_codes" env:"AUTH_CLOSE_CODES"`
	NormalCloseCodes []int         `toml:"normal_close_codes" env:"NORMAL_CLOSE_CODES"`
	AuthReasons      []string      `toml:"auth_reasons" env:"AUTH_REASONS"`
}

// Typing holds the typing indicator timings.
type Typing struct {
	// Quiet is how long a remote typing indicator lives without a refresh.
	Quiet time.Duration `toml:"quiet" env:"QUIET"`
	// SendInterval is the minimum spacing of outbound typing=true frames.
	SendInterval time.Duration `toml:"send_interval" env:"SEND_INTERVAL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "",
		APIBaseURL:     "http://localhost:8080/api",
		WSBaseURL:      "ws://localhost:8080/api",
		Reconnect: Reconnect{
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			MaxAttempts:      10,
			AuthCloseCodes:   []int{1008, 4001, 4003},
			NormalCloseCodes: []int{1000},
			AuthReasons:      []string{"unauth", "forbidden", "token", "expired"},
		},
		Typing: Typing{
			Quiet:        3 * time.Second,
			SendInterval: 2 * time.Second,
		},
		ProfileTTL:      5 * time.Minute,
		HistoryPageSize: 50,
		LogLevel:        "info",
	}
}

// Load reads config from the given path on top of the defaults. Returns nil
// and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads the config file if present, falls back to the defaults when
// it is missing, and applies CHATSYNC_* environment overrides.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with CHATSYNC_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects settings the sync core cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.WSBaseURL == "":
		return errors.New("config: ws_base_url is required")
	case c.APIBaseURL == "":
		return errors.New("config: api_base_url is required")
	case c.Reconnect.BaseDelay <= 0:
		return errors.New("config: reconnect.base_delay must be positive")
	case c.Reconnect.MaxDelay < c.Reconnect.BaseDelay:
		return errors.New("config: reconnect.max_delay must not be below base_delay")
	case c.Reconnect.MaxAttempts < 0:
		return errors.New("config: reconnect.max_attempts must not be negative")
	case c.HistoryPageSize < 0:
		return errors.New("config: history_page_size must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	LogLevel       string `toml:"log_level"`
	Cache          Cache  `toml:"cache"`
	Sync           Sync   `toml:"sync"`
	Feed           Feed   `toml:"feed"`
}

// Cache bounds the derived caches. Zero keeps a cache unbounded.
type Cache struct {
	ParticipantsLimit int `toml:"participants_limit"`
	LastMessageLimit  int `toml:"last_message_limit"`
}

// Sync tunes the sync engine.
type Sync struct {
	Concurrency int `toml:"concurrency"`
	PageSize    int `toml:"page_size"`
}

// Feed configures the websocket event feed. An empty Listen disables it.
type Feed struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Sync: Sync{
			Concurrency: 4,
			PageSize:    50,
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects negative limits and non-positive sync settings.
func (c *Config) Validate() error {
	switch {
	case c.Cache.ParticipantsLimit < 0 || c.Cache.LastMessageLimit < 0:
		return fmt.Errorf("cache limits must not be negative")
	case c.Sync.Concurrency <= 0:
		return fmt.Errorf("sync.concurrency must be positive, got %d", c.Sync.Concurrency)
	case c.Sync.PageSize <= 0:
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
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

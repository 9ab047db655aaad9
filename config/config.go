// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	appName        = "mozhi"
	configFileName = "config.json"

	// envAPIKey overrides the stored credential when set.
	envAPIKey = "GEMINI_API_KEY"

	// envConfigDir relocates the config directory, mainly for tests.
	envConfigDir = "MOZHI_CONFIG_DIR"
)

// Config represents the application configuration.
type Config struct {
	APIKey            string `json:"api_key"`
	LiveModel         string `json:"live_model"`
	FileModel         string `json:"file_model"`
	TargetLanguage    string `json:"target_language"`
	ConnectTimeoutSec int    `json:"connect_timeout_sec"`
	HotkeyEnabled     bool   `json:"hotkey_enabled"`
}

func defaultConfig() *Config {
	return &Config{
		LiveModel:         "models/gemini-2.0-flash-live-001",
		FileModel:         "gemini-2.0-flash",
		TargetLanguage:    "Malayalam",
		ConnectTimeoutSec: 30,
		HotkeyEnabled:     true,
	}
}

// Load loads configuration from the config file.
// Returns default config if file doesn't exist. A GEMINI_API_KEY
// environment variable always wins over the stored key.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// keep defaults
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
		cfg.applyDefaults()
	}

	if key := strings.TrimSpace(os.Getenv(envAPIKey)); key != "" {
		cfg.APIKey = key
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := defaultConfig()
	if c.LiveModel == "" {
		c.LiveModel = def.LiveModel
	}
	if c.FileModel == "" {
		c.FileModel = def.FileModel
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = def.TargetLanguage
	}
	if c.ConnectTimeoutSec <= 0 {
		c.ConnectTimeoutSec = def.ConnectTimeoutSec
	}
}

// ConnectTimeout returns the configured dial timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DataDir returns the directory used for persistent app data such as
// the transcription cache. It is created on first use.
func DataDir() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dataDir, nil
}

func configDir() (string, error) {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(base, appName), nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

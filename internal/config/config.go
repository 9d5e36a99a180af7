package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds persistent daemon configuration loaded from ~/.lockbox/config.yaml.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
	Biometric BiometricConfig `yaml:"biometric"`
	Lock      LockConfig      `yaml:"lock"`
	APIAddr   string          `yaml:"api_addr"`
}

// BackendConfig describes the HTTP backend authenticated with the API key.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// KeystoreConfig selects the OS keystore service name.
type KeystoreConfig struct {
	Service string `yaml:"service"`
}

// BiometricConfig points at the platform prompt helper.
type BiometricConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// LockConfig tunes the background lock behaviour.
type LockConfig struct {
	BackgroundDebounce time.Duration `yaml:"background_debounce"`
}

// Timeout returns the backend timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// Sanitize validates the backend settings.
func (b BackendConfig) Sanitize() error {
	if strings.TrimSpace(b.BaseURL) == "" {
		return errors.New("backend base URL cannot be empty")
	}
	u, err := url.Parse(b.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend base URL %q is not an absolute URL", b.BaseURL)
	}
	if b.TimeoutSeconds <= 0 {
		return errors.New("backend timeout seconds must be greater than zero")
	}
	return nil
}

// DefaultPath returns the default config file path: ~/.lockbox/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".lockbox", "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

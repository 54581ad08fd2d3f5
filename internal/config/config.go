package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	DefaultRemoteURL   = "http://127.0.0.1:4444"
	DefaultApiPort     = "4444"
	DefaultCallTimeout = 60 * time.Second
)

// AppConfig holds the application configuration.
type AppConfig struct {
	Version      string           `yaml:"version"`
	Debug        bool             `yaml:"debug"`
	RemoteURL    string           `yaml:"remote-url"`
	ProxyURL     string           `yaml:"proxy-url,omitempty"`
	CallTimeout  time.Duration    `yaml:"call-timeout"`
	Wait         AppConfigWait    `yaml:"wait"`
	Capabilities map[string]any   `yaml:"capabilities,omitempty"`
	ApiPort      string           `yaml:"api-port"`
	Headless     bool             `yaml:"headless"`
	Browser      AppConfigBrowser `yaml:"browser"`
}

// AppConfigWait is the implicit wait applied to element lookups.
type AppConfigWait struct {
	Timeout time.Duration `yaml:"timeout"`
	Poll    time.Duration `yaml:"poll"`
}

type AppConfigBrowser struct {
	ChromePath  string   `yaml:"chrome-path"`
	Args        []string `yaml:"args"`
	UserDataDir string   `yaml:"user-data-dir,omitempty"`
	UserAgent   string   `yaml:"user-agent,omitempty"`
	AuthFile    string   `yaml:"auth-file,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	return &AppConfig{
		RemoteURL:   DefaultRemoteURL,
		CallTimeout: DefaultCallTimeout,
		ApiPort:     DefaultApiPort,
		Headless:    true,
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	config := Default()
	err := yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	if config.RemoteURL == "" {
		config.RemoteURL = DefaultRemoteURL
	}
	if config.ApiPort == "" {
		config.ApiPort = DefaultApiPort
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would otherwise fail late.
func (c *AppConfig) Validate() error {
	parsed, err := url.Parse(c.RemoteURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("remote-url %q is not an http(s) URL", c.RemoteURL)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call-timeout must not be negative")
	}
	if c.Wait.Timeout < 0 || c.Wait.Poll < 0 {
		return fmt.Errorf("wait durations must not be negative")
	}
	if c.Wait.Poll > c.Wait.Timeout {
		return fmt.Errorf("wait.poll %v exceeds wait.timeout %v", c.Wait.Poll, c.Wait.Timeout)
	}
	return nil
}

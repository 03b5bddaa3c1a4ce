package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ValidateConfig.
const (
	defaultAPIBaseURL      = "http://localhost:8080/api"
	defaultAPITimeout      = 10 * time.Second
	defaultMaxResponseSize = 4 * 1024 * 1024
	defaultStreamURL       = "ws://localhost:8080/ws"
	defaultReadLimit       = 64 * 1024
	defaultPingInterval    = 30 * time.Second
	defaultTypingIdle      = 3 * time.Second
	defaultTypingRate      = 1.0
	defaultReconnectMin    = 500 * time.Millisecond
	defaultReconnectMax    = 30 * time.Second

	defaultSendTimeout    = 15 * time.Second
	defaultPendingTimeout = 30 * time.Second
	defaultSweepInterval  = time.Second
	defaultTypingTTL      = 5 * time.Second
	defaultLogPageLimit   = 50

	defaultSearchDebounce = 300 * time.Millisecond
	defaultSearchLimit    = 50

	defaultMockAddress     = "127.0.0.1"
	defaultMockPort        = 8080
	defaultMockDBPath      = "./.chatsync-mock"
	defaultMockRPS         = 50
	defaultMockBurst       = 100
	defaultMockStatusDelay = time.Second
)

// Defaults returns a config with every default filled in.
func Defaults() *Config {
	c := &Config{}
	_ = c.ValidateConfig()
	return c
}

// Addr returns the mock server address as host:port.
func (c *Config) Addr() string {
	addr := c.Mock.Address
	if addr == "" {
		addr = defaultMockAddress
	}
	port := c.Mock.Port
	if port == 0 {
		port = defaultMockPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s: %w", path, err)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// Load resolves the config file (missing is fine unless explicitly
// requested), layers env overrides on top and validates the result.
func Load(path string, explicit bool) (*Config, string, error) {
	path = ResolveConfigPath(path, explicit)
	source := "defaults"
	cfg := &Config{}
	if path != "" {
		fileCfg, err := LoadConfigFile(path)
		switch {
		case err == nil:
			cfg = fileCfg
			source = "config"
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, "", err
		}
	}
	if ApplyEnv(cfg) {
		if source == "defaults" {
			source = "env"
		} else {
			source += "+env"
		}
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, "", err
	}
	return cfg, source, nil
}

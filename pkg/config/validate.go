package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/adhocore/gronx"
)

// ValidateConfig applies defaults and validates values in the config. It
// mutates the receiver to fill in missing defaults and returns an error if
// any configuration value is invalid.
func (c *Config) ValidateConfig() error {
	// api
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultAPIBaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.Timeout.Duration() <= 0 {
		c.API.Timeout = Duration(defaultAPITimeout)
	}
	if c.API.MaxResponseSize.Int64() <= 0 {
		c.API.MaxResponseSize = SizeBytes(defaultMaxResponseSize)
	}

	// stream
	if c.Stream.URL == "" {
		c.Stream.URL = defaultStreamURL
	}
	if c.Stream.ReadLimit.Int64() <= 0 {
		c.Stream.ReadLimit = SizeBytes(defaultReadLimit)
	}
	if c.Stream.PingInterval.Duration() <= 0 {
		c.Stream.PingInterval = Duration(defaultPingInterval)
	}
	if c.Stream.TypingIdle.Duration() <= 0 {
		c.Stream.TypingIdle = Duration(defaultTypingIdle)
	}
	if c.Stream.TypingRate <= 0 {
		c.Stream.TypingRate = defaultTypingRate
	}
	if c.Stream.Reconnect.Initial.Duration() <= 0 {
		c.Stream.Reconnect.Initial = Duration(defaultReconnectMin)
	}
	if c.Stream.Reconnect.Max.Duration() <= 0 {
		c.Stream.Reconnect.Max = Duration(defaultReconnectMax)
	}

	// sync
	if c.Sync.SendTimeout.Duration() <= 0 {
		c.Sync.SendTimeout = Duration(defaultSendTimeout)
	}
	if c.Sync.PendingTimeout.Duration() <= 0 {
		c.Sync.PendingTimeout = Duration(defaultPendingTimeout)
	}
	if c.Sync.SweepInterval.Duration() <= 0 {
		c.Sync.SweepInterval = Duration(defaultSweepInterval)
	}
	if c.Sync.TypingTTL.Duration() <= 0 {
		c.Sync.TypingTTL = Duration(defaultTypingTTL)
	}
	if c.Sync.LogPageLimit <= 0 {
		c.Sync.LogPageLimit = defaultLogPageLimit
	}

	// search
	if c.Search.Debounce.Duration() <= 0 {
		c.Search.Debounce = Duration(defaultSearchDebounce)
	}
	if c.Search.Limit <= 0 {
		c.Search.Limit = defaultSearchLimit
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	// mock server
	if c.Mock.Address == "" {
		c.Mock.Address = defaultMockAddress
	}
	if c.Mock.Port == 0 {
		c.Mock.Port = defaultMockPort
	}
	if c.Mock.DBPath == "" {
		c.Mock.DBPath = defaultMockDBPath
	}
	if c.Mock.RateLimit.RPS <= 0 {
		c.Mock.RateLimit.RPS = defaultMockRPS
	}
	if c.Mock.RateLimit.Burst <= 0 {
		c.Mock.RateLimit.Burst = defaultMockBurst
	}
	if c.Mock.StatusDelay.Duration() <= 0 {
		c.Mock.StatusDelay = Duration(defaultMockStatusDelay)
	}

	// fail fast on values that cannot work
	for name, raw := range map[string]string{"api.base_url": c.API.BaseURL, "stream.url": c.Stream.URL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}
	if c.Sync.PendingTimeout.Duration() < c.Sync.SendTimeout.Duration() {
		return fmt.Errorf("sync.pending_timeout (%s) must not be shorter than sync.send_timeout (%s)", c.Sync.PendingTimeout, c.Sync.SendTimeout)
	}
	if c.Mock.Port < 0 || c.Mock.Port > 65535 {
		return fmt.Errorf("invalid mock.port: %d", c.Mock.Port)
	}
	if c.Mock.SimulateCron != "" && !gronx.New().IsValid(c.Mock.SimulateCron) {
		return fmt.Errorf("invalid mock.simulate_cron expression: %s", c.Mock.SimulateCron)
	}
	return nil
}

// Summary lists the effective settings for LogConfigSummary.
func (c *Config) Summary(source string) []string {
	items := []string{
		"source: " + source,
		"api: " + c.API.BaseURL + " (timeout " + c.API.Timeout.String() + ")",
		"stream: " + c.Stream.URL + " (read limit " + c.Stream.ReadLimit.String() + ")",
		"send timeout: " + c.Sync.SendTimeout.String(),
		"pending timeout: " + c.Sync.PendingTimeout.String(),
		"search debounce: " + c.Search.Debounce.String(),
	}
	if c.User.ID != "" {
		items = append(items, "user: "+c.User.ID)
	}
	if c.Metrics.Addr != "" {
		items = append(items, "metrics: "+c.Metrics.Addr)
	}
	return items
}

package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overlays CHATSYNC_* environment variables onto cfg and reports
// whether any were set. Unparseable values are ignored.
func ApplyEnv(cfg *Config) bool {
	envs := map[string]string{
		"USER_ID":     os.Getenv("CHATSYNC_USER_ID"),
		"USER_NAME":   os.Getenv("CHATSYNC_USER_NAME"),
		"API_URL":     os.Getenv("CHATSYNC_API_URL"),
		"API_TOKEN":   os.Getenv("CHATSYNC_API_TOKEN"),
		"API_TIMEOUT": os.Getenv("CHATSYNC_API_TIMEOUT"),
		"STREAM_URL":  os.Getenv("CHATSYNC_STREAM_URL"),

		"STREAM_READ_LIMIT":  os.Getenv("CHATSYNC_STREAM_READ_LIMIT"),
		"STREAM_TYPING_IDLE": os.Getenv("CHATSYNC_STREAM_TYPING_IDLE"),

		// sync tuning
		"SEND_TIMEOUT":    os.Getenv("CHATSYNC_SEND_TIMEOUT"),
		"PENDING_TIMEOUT": os.Getenv("CHATSYNC_PENDING_TIMEOUT"),
		"TYPING_TTL":      os.Getenv("CHATSYNC_TYPING_TTL"),
		"LOG_PAGE_LIMIT":  os.Getenv("CHATSYNC_LOG_PAGE_LIMIT"),

		"SEARCH_DEBOUNCE": os.Getenv("CHATSYNC_SEARCH_DEBOUNCE"),
		"SEARCH_LIMIT":    os.Getenv("CHATSYNC_SEARCH_LIMIT"),

		// logging
		"LOG_LEVEL":  os.Getenv("CHATSYNC_LOG_LEVEL"),
		"LOG_FORMAT": os.Getenv("CHATSYNC_LOG_FORMAT"),
		"LOG_SINK":   os.Getenv("CHATSYNC_LOG_SINK"),

		"METRICS_ADDR": os.Getenv("CHATSYNC_METRICS_ADDR"),

		// mock server
		"MOCK_ADDRESS":       os.Getenv("CHATSYNC_MOCK_ADDRESS"),
		"MOCK_PORT":          os.Getenv("CHATSYNC_MOCK_PORT"),
		"MOCK_DB_PATH":       os.Getenv("CHATSYNC_MOCK_DB_PATH"),
		"MOCK_SIMULATE_CRON": os.Getenv("CHATSYNC_MOCK_SIMULATE_CRON"),
		"MOCK_RATE_RPS":      os.Getenv("CHATSYNC_MOCK_RATE_RPS"),
		"MOCK_RATE_BURST":    os.Getenv("CHATSYNC_MOCK_RATE_BURST"),
	}

	used := false
	for _, v := range envs {
		if v != "" {
			used = true
			break
		}
	}
	if !used {
		return false
	}

	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(envs[key]); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *Duration) {
		if d, err := parseDuration(envs[key]); err == nil && d > 0 {
			*dst = d
		}
	}
	setInt := func(key string, dst *int) {
		if n, err := strconv.Atoi(strings.TrimSpace(envs[key])); err == nil {
			*dst = n
		}
	}

	setString("USER_ID", &cfg.User.ID)
	setString("USER_NAME", &cfg.User.Name)
	setString("API_URL", &cfg.API.BaseURL)
	setString("API_TOKEN", &cfg.API.Token)
	setDuration("API_TIMEOUT", &cfg.API.Timeout)
	setString("STREAM_URL", &cfg.Stream.URL)
	if s, err := parseSize(envs["STREAM_READ_LIMIT"]); err == nil && s > 0 {
		cfg.Stream.ReadLimit = s
	}
	setDuration("STREAM_TYPING_IDLE", &cfg.Stream.TypingIdle)

	setDuration("SEND_TIMEOUT", &cfg.Sync.SendTimeout)
	setDuration("PENDING_TIMEOUT", &cfg.Sync.PendingTimeout)
	setDuration("TYPING_TTL", &cfg.Sync.TypingTTL)
	setInt("LOG_PAGE_LIMIT", &cfg.Sync.LogPageLimit)

	setDuration("SEARCH_DEBOUNCE", &cfg.Search.Debounce)
	setInt("SEARCH_LIMIT", &cfg.Search.Limit)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_SINK", &cfg.Logging.Sink)
	setString("METRICS_ADDR", &cfg.Metrics.Addr)

	setString("MOCK_ADDRESS", &cfg.Mock.Address)
	setInt("MOCK_PORT", &cfg.Mock.Port)
	setString("MOCK_DB_PATH", &cfg.Mock.DBPath)
	setString("MOCK_SIMULATE_CRON", &cfg.Mock.SimulateCron)
	if v := envs["MOCK_RATE_RPS"]; v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.Mock.RateLimit.RPS = f
		}
	}
	setInt("MOCK_RATE_BURST", &cfg.Mock.RateLimit.Burst)
	return true
}

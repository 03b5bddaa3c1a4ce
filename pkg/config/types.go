package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct shared by the client binary and
// the mock server.
type Config struct {
	User    UserConfig    `yaml:"user"`
	API     APIConfig     `yaml:"api"`
	Stream  StreamConfig  `yaml:"stream"`
	Sync    SyncConfig    `yaml:"sync"`
	Search  SearchConfig  `yaml:"search"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Mock    MockConfig    `yaml:"mock"`
}

// UserConfig pins the local identity. When ID is empty the client asks the
// profile endpoint.
type UserConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
}

// APIConfig holds REST collaborator settings.
type APIConfig struct {
	BaseURL         string    `yaml:"base_url"`
	Token           string    `yaml:"token"`
	Timeout         Duration  `yaml:"timeout"`
	MaxResponseSize SizeBytes `yaml:"max_response_size"`
}

// StreamConfig holds real-time channel settings.
type StreamConfig struct {
	URL          string    `yaml:"url"`
	ReadLimit    SizeBytes `yaml:"read_limit"`
	PingInterval Duration  `yaml:"ping_interval"`
	// TypingIdle is how long after the last keystroke a typing_stop is sent.
	TypingIdle Duration `yaml:"typing_idle"`
	// TypingRate caps typing_start frames per second per conversation.
	TypingRate float64 `yaml:"typing_rate"`
	Reconnect  struct {
		Initial Duration `yaml:"initial"`
		Max     Duration `yaml:"max"`
	} `yaml:"reconnect"`
}

// SyncConfig tunes the optimistic write and presence bookkeeping.
type SyncConfig struct {
	SendTimeout    Duration `yaml:"send_timeout"`
	PendingTimeout Duration `yaml:"pending_timeout"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	TypingTTL      Duration `yaml:"typing_ttl"`
	LogPageLimit   int      `yaml:"log_page_limit"`
}

type SearchConfig struct {
	Debounce Duration `yaml:"debounce"`
	Limit    int      `yaml:"limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Sink   string `yaml:"sink"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// MockConfig configures the development chat server.
type MockConfig struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	Seed      bool   `yaml:"seed"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	// SimulateCron schedules synthetic incoming messages; empty disables it.
	SimulateCron string   `yaml:"simulate_cron"`
	StatusDelay  Duration `yaml:"status_delay"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.Bytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Defaults()
	assert.Equal(t, "http://localhost:8080/api", c.API.BaseURL)
	assert.Equal(t, 10*time.Second, c.API.Timeout.Duration())
	assert.Equal(t, int64(64*1024), c.Stream.ReadLimit.Int64())
	assert.Equal(t, 15*time.Second, c.Sync.SendTimeout.Duration())
	assert.Equal(t, 30*time.Second, c.Sync.PendingTimeout.Duration())
	assert.Equal(t, 300*time.Millisecond, c.Search.Debounce.Duration())
	assert.Equal(t, 50, c.Search.Limit)
	assert.Equal(t, 3*time.Second, c.Stream.TypingIdle.Duration())
	assert.Equal(t, "127.0.0.1:8080", c.Addr())
}

func TestLoadFileAndResolve(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	content := []byte("api:\n  base_url: http://chat.local/api/\n  timeout: 2\nstream:\n  read_limit: 1MB\nsearch:\n  debounce: 150ms\nmock:\n  port: 9090\n")
	require.NoError(t, os.WriteFile(p, content, 0o600))

	c, source, err := Load(p, true)
	require.NoError(t, err)
	assert.Equal(t, "config", source)
	assert.Equal(t, "http://chat.local/api", c.API.BaseURL)
	assert.Equal(t, 2*time.Second, c.API.Timeout.Duration())
	assert.Equal(t, int64(1000*1000), c.Stream.ReadLimit.Int64())
	assert.Equal(t, 150*time.Millisecond, c.Search.Debounce.Duration())
	assert.Equal(t, 9090, c.Mock.Port)

	t.Setenv("CHATSYNC_CONFIG", p)
	assert.Equal(t, p, ResolveConfigPath("/nope", false))
	assert.Equal(t, "/nope", ResolveConfigPath("/nope", true))
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	c, source, err := Load(missing, false)
	require.NoError(t, err)
	assert.Equal(t, "defaults", source)
	assert.Equal(t, defaultStreamURL, c.Stream.URL)

	_, _, err = Load(missing, true)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATSYNC_USER_ID", "user-1")
	t.Setenv("CHATSYNC_SEND_TIMEOUT", "5s")
	t.Setenv("CHATSYNC_SEARCH_LIMIT", "10")
	t.Setenv("CHATSYNC_STREAM_READ_LIMIT", "128KB")
	t.Setenv("CHATSYNC_TYPING_TTL", "not-a-duration")

	c, source, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, "env", source)
	assert.Equal(t, "user-1", c.User.ID)
	assert.Equal(t, 5*time.Second, c.Sync.SendTimeout.Duration())
	assert.Equal(t, 10, c.Search.Limit)
	assert.Equal(t, int64(128*1000), c.Stream.ReadLimit.Int64())
	assert.Equal(t, defaultTypingTTL, c.Sync.TypingTTL.Duration())
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(c *Config)
	}{
		{"bad cron", func(c *Config) { c.Mock.SimulateCron = "every minute" }},
		{"bad api url", func(c *Config) { c.API.BaseURL = "localhost" }},
		{"pending shorter than send", func(c *Config) {
			c.Sync.SendTimeout = Duration(time.Minute)
			c.Sync.PendingTimeout = Duration(time.Second)
		}},
		{"port out of range", func(c *Config) { c.Mock.Port = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{}
			tc.mut(c)
			assert.Error(t, c.ValidateConfig())
		})
	}

	ok := &Config{}
	ok.Mock.SimulateCron = "*/5 * * * *"
	assert.NoError(t, ok.ValidateConfig())
}

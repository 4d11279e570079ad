package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "config.json", cfg.Monitor.ConfigFile)
	assert.Equal(t, 60*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 3, cfg.Monitor.MaxAttempts)
	assert.Equal(t, "playwright", cfg.Fetcher.Strategy)
	assert.Equal(t, 500*time.Millisecond, cfg.Jitter.PreNavMin)
	assert.Equal(t, 2*time.Second, cfg.Jitter.PreNavMax)
	assert.Equal(t, 3*time.Second, cfg.Jitter.SettleMin)
	assert.Equal(t, 5*time.Second, cfg.Jitter.SettleMax)
	assert.Equal(t, 2*time.Second, cfg.Jitter.BackoffMin)
	assert.Equal(t, 5*time.Second, cfg.Jitter.BackoffMax)
	assert.Len(t, cfg.Fetcher.UserAgents, 4)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CHECK_INTERVAL", "2m")
	t.Setenv("FETCH_STRATEGY", "static")
	t.Setenv("FETCH_USER_AGENTS", "ua-one, ua-two,")
	t.Setenv("FETCH_HEADLESS", "false")
	t.Setenv("PROXY_URL", "http://proxy:3128")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, "static", cfg.Fetcher.Strategy)
	assert.Equal(t, []string{"ua-one", "ua-two"}, cfg.Fetcher.UserAgents)
	assert.False(t, cfg.Fetcher.Headless)
	assert.Equal(t, "http://proxy:3128", cfg.Fetcher.ProxyURL)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("CHECK_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Monitor.Interval)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DISCORD_TOKEN=from-file\nSTOCKBOT_TEST_ONLY=1\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DISCORD_TOKEN")
		os.Unsetenv("STOCKBOT_TEST_ONLY")
	})

	cfg, err := Load(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Discord.Token)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		cfg.Discord.Token = "token"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults with token",
			mutate: func(*Config) {},
		},
		{
			name:    "missing discord token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantErr: "DISCORD_TOKEN",
		},
		{
			name:    "webhook notifier needs url",
			mutate:  func(c *Config) { c.Discord.Notifier = "webhook" },
			wantErr: "DISCORD_WEBHOOK_URL",
		},
		{
			name:   "log notifier needs nothing",
			mutate: func(c *Config) { c.Discord.Notifier = "log"; c.Discord.Token = "" },
		},
		{
			name:   "several notifiers",
			mutate: func(c *Config) { c.Discord.Notifier = "discord, webhook"; c.Discord.WebhookURL = "https://hooks.example/x" },
		},
		{
			name:    "second notifier missing its setting",
			mutate:  func(c *Config) { c.Discord.Notifier = "log,webhook" },
			wantErr: "DISCORD_WEBHOOK_URL",
		},
		{
			name:    "unknown notifier",
			mutate:  func(c *Config) { c.Discord.Notifier = "discord,sms" },
			wantErr: `"sms"`,
		},
		{
			name:    "empty notifier list",
			mutate:  func(c *Config) { c.Discord.Notifier = " , " },
			wantErr: "NOTIFIER",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Fetcher.Strategy = "curl" },
			wantErr: "FETCH_STRATEGY",
		},
		{
			name:    "attempts out of range",
			mutate:  func(c *Config) { c.Monitor.MaxAttempts = 0 },
			wantErr: "SCRAPER_MAX_ATTEMPTS",
		},
		{
			name: "inverted backoff window",
			mutate: func(c *Config) {
				c.Jitter.BackoffMin = 10 * time.Second
				c.Jitter.BackoffMax = time.Second
			},
			wantErr: "JITTER_BACKOFF",
		},
		{
			name:    "redis without database",
			mutate:  func(c *Config) { c.Redis.Addr = "localhost:6379" },
			wantErr: "REDIS_ADDR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDiscordConfig_Sinks(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"discord", []string{"discord"}},
		{"Discord, webhook ,log", []string{"discord", "webhook", "log"}},
		{"log,log", []string{"log"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DiscordConfig{Notifier: tt.in}.Sinks())
		})
	}
}

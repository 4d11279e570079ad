package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Discord  DiscordConfig
	Monitor  MonitorConfig
	Fetcher  FetcherConfig
	Jitter   JitterConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DiscordConfig struct {
	Token      string
	WebhookURL string
	// Notifier is a comma separated list of "discord", "webhook" and "log".
	// Alerts go to every listed sink.
	Notifier string
}

// Sinks returns the configured notifier names, trimmed and deduplicated.
func (d DiscordConfig) Sinks() []string {
	var sinks []string
	for _, part := range strings.Split(d.Notifier, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" || slices.Contains(sinks, name) {
			continue
		}
		sinks = append(sinks, name)
	}
	return sinks
}

type MonitorConfig struct {
	ConfigFile   string
	ProfilesFile string
	Interval     time.Duration
	ItemTimeout  time.Duration
	MaxAttempts  int
}

type FetcherConfig struct {
	Strategy       string
	Headless       bool
	NavTimeout     time.Duration
	ProxyURL       string
	Locale         string
	TimezoneID     string
	AcceptLanguage string
	UserAgents     []string
	HostRate       float64
	HostBurst      int
}

type JitterConfig struct {
	PreNavMin  time.Duration
	PreNavMax  time.Duration
	SettleMin  time.Duration
	SettleMax  time.Duration
	BackoffMin time.Duration
	BackoffMax time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type LoggingConfig struct {
	Level  string
	Format string
}

var strategies = map[string]bool{"playwright": true, "rod": true, "static": true}

// Load reads the environment, after merging any of the given dotenv files that
// exist. Variables already set in the environment win over dotenv values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("PORT", 8000),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Discord: DiscordConfig{
			Token:      getEnvOrDefault("DISCORD_TOKEN", ""),
			WebhookURL: getEnvOrDefault("DISCORD_WEBHOOK_URL", ""),
			Notifier:   getEnvOrDefault("NOTIFIER", "discord"),
		},
		Monitor: MonitorConfig{
			ConfigFile:   getEnvOrDefault("CONFIG_FILE", "config.json"),
			ProfilesFile: getEnvOrDefault("PROFILES_FILE", ""),
			Interval:     getDurationOrDefault("CHECK_INTERVAL", 60*time.Second),
			ItemTimeout:  getDurationOrDefault("ITEM_TIMEOUT", 90*time.Second),
			MaxAttempts:  getIntOrDefault("SCRAPER_MAX_ATTEMPTS", 3),
		},
		Fetcher: FetcherConfig{
			Strategy:       getEnvOrDefault("FETCH_STRATEGY", "playwright"),
			Headless:       getBoolOrDefault("FETCH_HEADLESS", true),
			NavTimeout:     getDurationOrDefault("FETCH_NAV_TIMEOUT", 30*time.Second),
			ProxyURL:       getEnvOrDefault("PROXY_URL", ""),
			Locale:         getEnvOrDefault("FETCH_LOCALE", "en-GB"),
			TimezoneID:     getEnvOrDefault("FETCH_TIMEZONE", "Europe/London"),
			AcceptLanguage: getEnvOrDefault("FETCH_ACCEPT_LANGUAGE", "en-GB,en;q=0.9"),
			UserAgents:     getStringSliceOrDefault("FETCH_USER_AGENTS", defaultUserAgents()),
			HostRate:       getFloatOrDefault("FETCH_HOST_RATE", 0.5),
			HostBurst:      getIntOrDefault("FETCH_HOST_BURST", 1),
		},
		Jitter: JitterConfig{
			PreNavMin:  getDurationOrDefault("JITTER_PRENAV_MIN", 500*time.Millisecond),
			PreNavMax:  getDurationOrDefault("JITTER_PRENAV_MAX", 2*time.Second),
			SettleMin:  getDurationOrDefault("JITTER_SETTLE_MIN", 3*time.Second),
			SettleMax:  getDurationOrDefault("JITTER_SETTLE_MAX", 5*time.Second),
			BackoffMin: getDurationOrDefault("JITTER_BACKOFF_MIN", 2*time.Second),
			BackoffMax: getDurationOrDefault("JITTER_BACKOFF_MAX", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "stock_alerts"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 5)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("CHECK_INTERVAL must be positive")
	}

	if c.Monitor.MaxAttempts < 1 || c.Monitor.MaxAttempts > 5 {
		return fmt.Errorf("SCRAPER_MAX_ATTEMPTS must be between 1 and 5")
	}

	if !strategies[c.Fetcher.Strategy] {
		return fmt.Errorf("FETCH_STRATEGY must be one of playwright, rod, static")
	}

	if len(c.Fetcher.UserAgents) == 0 {
		return fmt.Errorf("FETCH_USER_AGENTS cannot be empty")
	}

	windows := []struct {
		name     string
		min, max time.Duration
	}{
		{"JITTER_PRENAV", c.Jitter.PreNavMin, c.Jitter.PreNavMax},
		{"JITTER_SETTLE", c.Jitter.SettleMin, c.Jitter.SettleMax},
		{"JITTER_BACKOFF", c.Jitter.BackoffMin, c.Jitter.BackoffMax},
	}
	for _, w := range windows {
		if w.min < 0 || w.min > w.max {
			return fmt.Errorf("%s_MIN cannot be greater than %s_MAX", w.name, w.name)
		}
	}

	sinks := c.Discord.Sinks()
	if len(sinks) == 0 {
		return fmt.Errorf("NOTIFIER must name at least one of discord, webhook, log")
	}
	for _, sink := range sinks {
		switch sink {
		case "discord":
			if c.Discord.Token == "" {
				return fmt.Errorf("DISCORD_TOKEN is required for the discord notifier")
			}
		case "webhook":
			if c.Discord.WebhookURL == "" {
				return fmt.Errorf("DISCORD_WEBHOOK_URL is required for the webhook notifier")
			}
		case "log":
		default:
			return fmt.Errorf("NOTIFIER entry %q must be one of discord, webhook, log", sink)
		}
	}

	if c.Redis.Enabled() && !c.Database.Enabled() {
		return fmt.Errorf("REDIS_ADDR requires DB_HOST: the relay reads from the outbox table")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	}
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/stock-alert-bot/internal/browser"
	"github.com/maltedev/stock-alert-bot/internal/checker"
	"github.com/maltedev/stock-alert-bot/internal/classifier"
	"github.com/maltedev/stock-alert-bot/internal/config"
	"github.com/maltedev/stock-alert-bot/internal/database"
	"github.com/maltedev/stock-alert-bot/internal/fetcher"
	"github.com/maltedev/stock-alert-bot/internal/notify"
	"github.com/maltedev/stock-alert-bot/internal/ratelimit"
	"github.com/maltedev/stock-alert-bot/internal/storage"
)

func openStore() (*storage.ConfigStore, error) {
	cs, err := storage.NewConfigStore(cfg.Monitor.ConfigFile, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Monitor.ConfigFile, err)
	}
	return cs, nil
}

func newPolicy(c *config.Config) *ratelimit.JitterPolicy {
	return ratelimit.NewJitterPolicy(ratelimit.JitterOptions{
		UserAgents:     c.Fetcher.UserAgents,
		AcceptLanguage: c.Fetcher.AcceptLanguage,
		Locale:         c.Fetcher.Locale,
		TimezoneID:     c.Fetcher.TimezoneID,
		PreNavigation:  ratelimit.Window{Min: c.Jitter.PreNavMin, Max: c.Jitter.PreNavMax},
		Settle:         ratelimit.Window{Min: c.Jitter.SettleMin, Max: c.Jitter.SettleMax},
		Backoff:        ratelimit.Window{Min: c.Jitter.BackoffMin, Max: c.Jitter.BackoffMax},
	})
}

func newRegistry(c *config.Config) (*classifier.Registry, error) {
	registry := classifier.NewRegistry()
	if c.Monitor.ProfilesFile == "" {
		return registry, nil
	}
	n, err := registry.LoadFile(c.Monitor.ProfilesFile)
	if err != nil {
		return nil, err
	}
	log.Info("store profiles loaded", "file", c.Monitor.ProfilesFile, "count", n)
	return registry, nil
}

// newChecker wires the fetch strategy, pacing and retry controller. The
// returned closer shuts the browser down.
func newChecker(c *config.Config, strategy string) (*checker.Controller, io.Closer, error) {
	registry, err := newRegistry(c)
	if err != nil {
		return nil, nil, err
	}

	policy := newPolicy(c)
	opts := browser.DefaultOptions()
	opts.Headless = c.Fetcher.Headless
	opts.Timeout = c.Fetcher.NavTimeout
	opts.ProxyServer = c.Fetcher.ProxyURL

	f, err := browser.Open(strategy, opts, policy, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start %s fetcher: %w", strategy, err)
	}

	paced := fetcher.NewPaced(f, policy, ratelimit.NewHostLimiter(c.Fetcher.HostRate, c.Fetcher.HostBurst), log)
	return checker.New(paced, registry, policy, c.Monitor.MaxAttempts, log), paced, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newNotifier builds one sink per NOTIFIER entry. Several sinks are wrapped
// in a notify.Fanout.
func newNotifier(c *config.Config) (notify.Notifier, io.Closer, error) {
	var (
		sinks   notify.Fanout
		closers []io.Closer
	)
	closeAll := closerFunc(func() error {
		var errs []error
		for _, cl := range closers {
			errs = append(errs, cl.Close())
		}
		return errors.Join(errs...)
	})

	for _, name := range c.Discord.Sinks() {
		switch name {
		case "webhook":
			sinks = append(sinks, notify.NewWebhook(c.Discord.WebhookURL, log))
		case "log":
			sinks = append(sinks, notify.NewLogNotifier(log))
		case "discord":
			d, err := notify.NewDiscord(c.Discord.Token, log)
			if err != nil {
				_ = closeAll.Close()
				return nil, nil, err
			}
			sinks = append(sinks, d)
			closers = append(closers, d)
		default:
			_ = closeAll.Close()
			return nil, nil, fmt.Errorf("unknown notifier %q", name)
		}
	}

	switch len(sinks) {
	case 0:
		return nil, nil, fmt.Errorf("no notifier configured")
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}

func openDatabase(ctx context.Context, c *config.Config) (*database.DB, error) {
	return database.New(ctx, database.Config{
		Host:        c.Database.Host,
		Port:        c.Database.Port,
		User:        c.Database.User,
		Password:    c.Database.Password,
		Database:    c.Database.Name,
		MaxConns:    c.Database.MaxConns,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
	})
}

func openRedis(ctx context.Context, c *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

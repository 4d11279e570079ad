package browser

import (
	"fmt"
	"log/slog"

	"github.com/maltedev/stock-alert-bot/internal/fetcher"
	"github.com/maltedev/stock-alert-bot/internal/ratelimit"
)

const (
	StrategyPlaywright = "playwright"
	StrategyRod        = "rod"
	StrategyStatic     = "static"
)

// Open starts the named fetch strategy.
func Open(strategy string, opts *Options, policy ratelimit.Policy, logger *slog.Logger) (fetcher.Fetcher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	switch strategy {
	case StrategyPlaywright, "":
		return New(opts, policy, logger)
	case StrategyRod:
		return NewRod(opts, policy, logger)
	case StrategyStatic:
		return fetcher.NewStatic(fetcher.StaticOptions{Timeout: opts.Timeout, ProxyURL: opts.ProxyServer}), nil
	default:
		return nil, fmt.Errorf("unknown fetch strategy %q", strategy)
	}
}

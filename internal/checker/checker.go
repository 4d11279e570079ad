package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/stock-alert-bot/internal/classifier"
	"github.com/maltedev/stock-alert-bot/internal/fetcher"
	"github.com/maltedev/stock-alert-bot/internal/models"
	"github.com/maltedev/stock-alert-bot/internal/ratelimit"
)

var ErrBlocked = errors.New("blocked by anti-bot protection")

// State is the outcome of one attempt.
type State string

const (
	StateSuccess        State = "success"
	StateBlocked        State = "blocked"
	StateTransientError State = "transient_error"
)

type Target struct {
	Item  string
	Store models.Store
	URL   string
}

// Result is the terminal outcome of a check.
type Result struct {
	models.StockResult
	Attempts int
	// Err is the error of the last failed attempt, nil on success.
	Err error
}

type attemptOutcome struct {
	state  State
	result models.StockResult
	err    error
}

// Controller wraps fetching and classification in a bounded retry loop.
type Controller struct {
	fetcher         fetcher.Fetcher
	registry        *classifier.Registry
	policy          ratelimit.Policy
	defaultAttempts int
	logger          *slog.Logger
}

func New(f fetcher.Fetcher, registry *classifier.Registry, policy ratelimit.Policy, defaultAttempts int, logger *slog.Logger) *Controller {
	if defaultAttempts < 1 {
		defaultAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		fetcher:         f,
		registry:        registry,
		policy:          policy,
		defaultAttempts: defaultAttempts,
		logger:          logger.With("component", "checker"),
	}
}

// Check never returns an error: exhausted or cancelled checks come back as
// Indeterminate with the last reason.
func (c *Controller) Check(ctx context.Context, target Target) Result {
	profile := c.registry.Resolve(target.Store)
	maxAttempts := profile.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = c.defaultAttempts
	}

	log := c.logger.With("item", target.Item, "store", target.Store.Name, "url", target.URL, "profile", profile.Name)

	var last attemptOutcome
	attempts := 0
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			delay := c.policy.BackoffDelay(n)
			log.Info("retrying after backoff", "attempt", n, "delay", delay, "last_state", last.state)
			if err := ratelimit.Sleep(ctx, delay); err != nil {
				break
			}
		}

		attempts = n
		last = c.attempt(ctx, target, profile)

		switch last.state {
		case StateSuccess:
			log.Info("check finished", "attempt", n, "verdict", last.result.Verdict, "reason", last.result.Reason, "low_stock", last.result.LowStock)
			return Result{StockResult: last.result, Attempts: n}
		case StateBlocked:
			log.Warn("attempt blocked", "attempt", n, "reason", last.result.Reason)
		default:
			log.Warn("attempt failed", "attempt", n, "error", last.err)
		}

		if ctx.Err() != nil {
			break
		}
	}

	reason := last.result.Reason
	if ctx.Err() != nil {
		reason = fmt.Sprintf("cancelled: %v", ctx.Err())
		if last.result.Reason != "" {
			reason += "; last: " + last.result.Reason
		}
	}
	log.Warn("check indeterminate", "attempts", attempts, "reason", reason)

	result := models.Indeterminate(reason)
	result.Title = last.result.Title
	return Result{StockResult: result, Attempts: attempts, Err: last.err}
}

func (c *Controller) attempt(ctx context.Context, target Target, profile *classifier.Profile) attemptOutcome {
	page, err := c.fetcher.Fetch(ctx, fetcher.Request{URL: target.URL, Identity: c.policy.Identity()})
	if err != nil {
		var fe *fetcher.FetchError
		if !errors.As(err, &fe) {
			return attemptOutcome{state: StateTransientError, result: models.Indeterminate("fetch failed: " + err.Error()), err: err}
		}

		partial, ok := fe.PartialPage()
		switch {
		case ok:
			c.logger.Info("navigation timed out, classifying partial page", "item", target.Item, "title", partial.Title)
			page = partial
		case fe.Blocked():
			return attemptOutcome{
				state:  StateBlocked,
				result: models.Indeterminate(fmt.Sprintf("blocked: HTTP %d", fe.Status)),
				err:    fmt.Errorf("%w: %v", ErrBlocked, err),
			}
		default:
			return attemptOutcome{state: StateTransientError, result: models.Indeterminate("fetch failed: " + fe.Error()), err: err}
		}
	}

	result := classifier.Classify(page, profile)
	if result.Verdict == models.VerdictIndeterminate {
		return attemptOutcome{state: StateBlocked, result: result, err: fmt.Errorf("%w: %s", ErrBlocked, result.Reason)}
	}
	return attemptOutcome{state: StateSuccess, result: result}
}

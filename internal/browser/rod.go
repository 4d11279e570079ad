package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/maltedev/stock-alert-bot/internal/fetcher"
	"github.com/maltedev/stock-alert-bot/internal/ratelimit"
)

// Rod drives Chromium over CDP with the stealth patches applied to every
// page. Each Fetch runs in its own incognito context.
type Rod struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	opts     *Options
	policy   ratelimit.Policy
	logger   *slog.Logger
}

func NewRod(opts *Options, policy ratelimit.Policy, logger *slog.Logger) (*Rod, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(true)
	if opts.ProxyServer != "" {
		l = l.Proxy(opts.ProxyServer)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Rod{
		launcher: l,
		browser:  browser,
		opts:     opts,
		policy:   policy,
		logger:   logger.With("component", "rod"),
	}, nil
}

func (r *Rod) Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Page, error) {
	incognito, err := r.browser.Incognito()
	if err != nil {
		return nil, &fetcher.FetchError{URL: req.URL, Err: fmt.Errorf("failed to open incognito context: %w", err)}
	}
	defer func() {
		if err := incognito.Close(); err != nil {
			r.logger.Warn("failed to close incognito context", "url", req.URL, "error", err)
		}
	}()

	page, err := stealth.Page(incognito)
	if err != nil {
		return nil, &fetcher.FetchError{URL: req.URL, Err: fmt.Errorf("failed to create page: %w", err)}
	}
	defer page.Close()

	if err := r.applyIdentity(page, req.Identity); err != nil {
		r.logger.Debug("identity override incomplete", "url", req.URL, "error", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(req.URL); err != nil {
		timeout := fetcher.IsTimeout(err)
		var partial *fetcher.Page
		if timeout {
			partial = r.snapshot(page.Context(ctx), req.URL, 0)
		}
		return nil, &fetcher.FetchError{URL: req.URL, Timeout: timeout, Page: partial, Err: err}
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		r.logger.Debug("dom did not settle", "url", req.URL, "error", err)
	}

	status := 0
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`); err == nil {
		status = res.Value.Int()
	}

	if err := ratelimit.Sleep(ctx, r.policy.SettleDelay()); err != nil {
		return nil, &fetcher.FetchError{URL: req.URL, Timeout: true, Page: r.snapshot(page.Context(context.Background()), req.URL, status), Err: err}
	}

	result := r.snapshot(page.Context(ctx), req.URL, status)
	if result == nil {
		return nil, &fetcher.FetchError{URL: req.URL, Status: status, Err: errors.New("failed to read page content")}
	}
	if status >= 300 {
		return nil, &fetcher.FetchError{URL: req.URL, Status: status, Page: result, Err: fmt.Errorf("unexpected status %d", status)}
	}
	return result, nil
}

func (r *Rod) applyIdentity(page *rod.Page, id ratelimit.Identity) error {
	var errs []error
	if id.UserAgent != "" {
		errs = append(errs, page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      id.UserAgent,
			AcceptLanguage: id.AcceptLanguage,
		}))
	}
	if id.ViewportWidth > 0 && id.ViewportHeight > 0 {
		errs = append(errs, page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             id.ViewportWidth,
			Height:            id.ViewportHeight,
			DeviceScaleFactor: 1,
		}))
	}
	if id.TimezoneID != "" {
		errs = append(errs, proto.EmulationSetTimezoneOverride{TimezoneID: id.TimezoneID}.Call(page))
	}
	if id.Locale != "" {
		errs = append(errs, proto.EmulationSetLocaleOverride{Locale: id.Locale}.Call(page))
	}
	return errors.Join(errs...)
}

func (r *Rod) snapshot(page *rod.Page, url string, status int) *fetcher.Page {
	html, err := page.HTML()
	if err != nil {
		return nil
	}
	result := &fetcher.Page{URL: url, FinalURL: url, Status: status, HTML: html}
	if info, err := page.Info(); err == nil {
		result.Title = strings.TrimSpace(info.Title)
		result.FinalURL = info.URL
	} else {
		result.Title = fetcher.ExtractTitle(html)
	}
	return result
}

func (r *Rod) Close() error {
	err := r.browser.Close()
	r.launcher.Kill()
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

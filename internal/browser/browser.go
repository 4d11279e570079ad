package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/stock-alert-bot/internal/fetcher"
	"github.com/maltedev/stock-alert-bot/internal/ratelimit"
)

// Browser is a long-lived Chromium. Every Fetch opens its own context and
// page and closes both before returning.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	policy  ratelimit.Policy
	logger  *slog.Logger
}

type Options struct {
	Headless     bool
	Timeout      time.Duration
	ProxyServer  string
	ExtraHeaders map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless: true,
		Timeout:  30 * time.Second,
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

// Interstitials that only need a click to reach the product page.
var continueMarkers = []string{
	"Klicke auf die Schaltfläche unten",
	"Click the button below to continue shopping",
}

var continueSelectors = []string{
	`button:has-text("Continue shopping")`,
	`button:has-text("Weiter shoppen")`,
	`input[type="submit"][value*="Continue"]`,
	`input[type="submit"][value*="Weiter"]`,
	`.a-button-primary`,
}

func New(opts *Options, policy ratelimit.Policy, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		opts:    opts,
		policy:  policy,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) newContext(id ratelimit.Identity) (playwright.BrowserContext, error) {
	headers := make(map[string]string, len(b.opts.ExtraHeaders)+1)
	for k, v := range b.opts.ExtraHeaders {
		headers[k] = v
	}
	if id.AcceptLanguage != "" {
		headers["Accept-Language"] = id.AcceptLanguage
	}

	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		ExtraHttpHeaders:  headers,
	}
	if id.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(id.UserAgent)
	}
	if id.Locale != "" {
		contextOpts.Locale = playwright.String(id.Locale)
	}
	if id.TimezoneID != "" {
		contextOpts.TimezoneId = playwright.String(id.TimezoneID)
	}
	if id.ViewportWidth > 0 && id.ViewportHeight > 0 {
		contextOpts.Viewport = &playwright.Size{Width: id.ViewportWidth, Height: id.ViewportHeight}
	}

	bctx, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return bctx, nil
}

func (b *Browser) Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Page, error) {
	bctx, err := b.newContext(req.Identity)
	if err != nil {
		return nil, &fetcher.FetchError{URL: req.URL, Err: err}
	}
	defer func() {
		if err := bctx.Close(); err != nil {
			b.logger.Warn("failed to close browser context", "url", req.URL, "error", err)
		}
	}()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, &fetcher.FetchError{URL: req.URL, Err: fmt.Errorf("failed to create new page: %w", err)}
	}
	defer page.Close()

	timeout := b.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	resp, navErr := page.Goto(req.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if navErr != nil {
		if errors.Is(navErr, playwright.ErrTimeout) {
			// The main document is often usable even when subresources time out.
			partial := b.snapshot(page, req.URL, 0)
			return nil, &fetcher.FetchError{URL: req.URL, Timeout: true, Page: partial, Err: navErr}
		}
		return nil, &fetcher.FetchError{URL: req.URL, Timeout: fetcher.IsTimeout(navErr), Err: navErr}
	}

	status := 0
	if resp != nil {
		status = resp.Status()
	}

	if err := ratelimit.Sleep(ctx, b.policy.SettleDelay()); err != nil {
		return nil, &fetcher.FetchError{URL: req.URL, Timeout: true, Page: b.snapshot(page, req.URL, status), Err: err}
	}

	if err := b.dismissInterstitial(ctx, page); err != nil {
		b.logger.Debug("interstitial not dismissed", "url", req.URL, "error", err)
	}

	result := b.snapshot(page, req.URL, status)
	if result == nil {
		return nil, &fetcher.FetchError{URL: req.URL, Status: status, Err: errors.New("failed to read page content")}
	}
	if status >= 300 {
		return nil, &fetcher.FetchError{URL: req.URL, Status: status, Page: result, Err: fmt.Errorf("unexpected status %d", status)}
	}
	return result, nil
}

func (b *Browser) snapshot(page playwright.Page, url string, status int) *fetcher.Page {
	content, err := page.Content()
	if err != nil {
		return nil
	}
	title, err := page.Title()
	if err != nil {
		title = fetcher.ExtractTitle(content)
	}
	return &fetcher.Page{
		URL:      url,
		FinalURL: page.URL(),
		Status:   status,
		Title:    strings.TrimSpace(title),
		HTML:     content,
	}
}

// dismissInterstitial clicks through "continue shopping" soft blocks. Hard
// blocks such as captchas are left for the classifier.
func (b *Browser) dismissInterstitial(ctx context.Context, page playwright.Page) error {
	content, err := page.Content()
	if err != nil {
		return fmt.Errorf("failed to get page content: %w", err)
	}
	if !containsAny(content, continueMarkers) {
		return nil
	}

	b.logger.Info("interstitial detected, attempting to continue", "url", page.URL())
	for _, selector := range continueSelectors {
		button := page.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		if err := button.Click(); err != nil {
			b.logger.Debug("failed to click continue button", "selector", selector, "error", err)
			continue
		}
		if err := ratelimit.Sleep(ctx, b.policy.SettleDelay()); err != nil {
			return err
		}
		return nil
	}
	return errors.New("no continue button found")
}

func (b *Browser) Close() error {
	var errs []error

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

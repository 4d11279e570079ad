package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/maltedev/stock-alert-bot/internal/ratelimit"
)

// Page is what a single navigation produced.
type Page struct {
	URL      string
	FinalURL string
	Status   int
	Title    string
	HTML     string
}

// Document parses the page for selector and text queries.
func (p *Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}

type Request struct {
	URL      string
	Identity ratelimit.Identity
}

// Fetcher retrieves one page per call. Each call uses its own session, which
// is released before Fetch returns.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Page, error)
	Close() error
}

// FetchError covers transport failures, timeouts and non-2xx responses.
// Page carries whatever was loaded before a timeout, if anything.
type FetchError struct {
	URL     string
	Status  int
	Timeout bool
	Page    *Page
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	case e.Timeout:
		return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Blocked reports statuses sites use to turn bots away.
func (e *FetchError) Blocked() bool {
	switch e.Status {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// PartialPage returns the partially loaded page of a timeout, if it has a title.
func (e *FetchError) PartialPage() (*Page, bool) {
	if !e.Timeout || e.Page == nil || strings.TrimSpace(e.Page.Title) == "" {
		return nil, false
	}
	return e.Page, true
}

// IsTimeout reports deadline and network timeout errors.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusError(url string, status int, page *Page) error {
	if status == 0 || (status >= 200 && status < 300) {
		return nil
	}
	return &FetchError{URL: url, Status: status, Page: page, Err: fmt.Errorf("unexpected status %d", status)}
}

// Paced applies the pre-navigation delay and per-host pacing before handing
// the request to the wrapped strategy.
type Paced struct {
	next   Fetcher
	policy ratelimit.Policy
	hosts  *ratelimit.HostLimiter
	logger *slog.Logger
}

func NewPaced(next Fetcher, policy ratelimit.Policy, hosts *ratelimit.HostLimiter, logger *slog.Logger) *Paced {
	if logger == nil {
		logger = slog.Default()
	}
	return &Paced{
		next:   next,
		policy: policy,
		hosts:  hosts,
		logger: logger.With("component", "fetcher"),
	}
}

func (p *Paced) Fetch(ctx context.Context, req Request) (*Page, error) {
	if p.hosts != nil {
		if err := p.hosts.Wait(ctx, req.URL); err != nil {
			return nil, &FetchError{URL: req.URL, Timeout: IsTimeout(err), Err: err}
		}
	}

	delay := p.policy.PreNavigationDelay()
	p.logger.Debug("pre-navigation delay", "url", req.URL, "delay", delay)
	if err := ratelimit.Sleep(ctx, delay); err != nil {
		return nil, &FetchError{URL: req.URL, Timeout: IsTimeout(err), Err: err}
	}

	return p.next.Fetch(ctx, req)
}

func (p *Paced) Close() error {
	return p.next.Close()
}

// ExtractTitle returns the text of the first <title> element.
func ExtractTitle(body string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				if tokenizer.Next() == html.TextToken {
					return strings.TrimSpace(string(tokenizer.Text()))
				}
				return ""
			}
		}
	}
}

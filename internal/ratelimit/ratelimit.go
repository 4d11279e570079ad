package ratelimit

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Identity is the browser fingerprint presented for one attempt.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Locale         string
	TimezoneID     string
	ViewportWidth  int
	ViewportHeight int
}

// Policy supplies every randomised value a check uses, so tests can swap in
// a fixed one.
type Policy interface {
	Identity() Identity
	PreNavigationDelay() time.Duration
	SettleDelay() time.Duration
	BackoffDelay(attempt int) time.Duration
}

type Window struct {
	Min time.Duration
	Max time.Duration
}

func (w Window) pick(r *rand.Rand) time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	delta := w.Max - w.Min
	return w.Min + time.Duration(r.Int63n(int64(delta)))
}

type JitterOptions struct {
	UserAgents     []string
	AcceptLanguage string
	Locale         string
	TimezoneID     string
	PreNavigation  Window
	Settle         Window
	Backoff        Window
	// Seed is only set by tests; zero uses the clock.
	Seed int64
}

var viewports = [][2]int{{1920, 1080}, {1536, 864}, {1440, 900}, {1366, 768}}

// JitterPolicy picks a random identity and random delays within the
// configured windows.
type JitterPolicy struct {
	mu   sync.Mutex
	rng  *rand.Rand
	opts JitterOptions
}

func NewJitterPolicy(opts JitterOptions) *JitterPolicy {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &JitterPolicy{
		rng:  rand.New(rand.NewSource(seed)),
		opts: opts,
	}
}

func (p *JitterPolicy) Identity() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := Identity{
		AcceptLanguage: p.opts.AcceptLanguage,
		Locale:         p.opts.Locale,
		TimezoneID:     p.opts.TimezoneID,
	}
	if n := len(p.opts.UserAgents); n > 0 {
		id.UserAgent = p.opts.UserAgents[p.rng.Intn(n)]
	}
	vp := viewports[p.rng.Intn(len(viewports))]
	id.ViewportWidth, id.ViewportHeight = vp[0], vp[1]
	return id
}

func (p *JitterPolicy) PreNavigationDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.PreNavigation.pick(p.rng)
}

func (p *JitterPolicy) SettleDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Settle.pick(p.rng)
}

func (p *JitterPolicy) BackoffDelay(int) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Backoff.pick(p.rng)
}

// FixedPolicy returns the same identity and delays every time.
type FixedPolicy struct {
	Ident   Identity
	PreNav  time.Duration
	Settle  time.Duration
	Backoff time.Duration
}

func (p FixedPolicy) Identity() Identity                { return p.Ident }
func (p FixedPolicy) PreNavigationDelay() time.Duration { return p.PreNav }
func (p FixedPolicy) SettleDelay() time.Duration        { return p.Settle }
func (p FixedPolicy) BackoffDelay(int) time.Duration    { return p.Backoff }

// NoDelay is a zero-delay policy with a fixed desktop identity.
func NoDelay() FixedPolicy {
	return FixedPolicy{Ident: Identity{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage: "en-GB,en;q=0.9",
		Locale:         "en-GB",
		TimezoneID:     "Europe/London",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HostLimiter paces requests per host so scheduled and manual checks never
// hit one site back to back.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewHostLimiter allows perSecond requests per host. A non-positive rate
// disables pacing.
func NewHostLimiter(perSecond float64, burst int) *HostLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	return h.limiter(hostOf(rawURL)).Wait(ctx)
}

func (h *HostLimiter) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = l
	}
	return l
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}

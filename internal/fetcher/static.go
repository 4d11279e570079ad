package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	tls "github.com/refraction-networking/utls"
)

const maxBodySize = 10 * 1024 * 1024

// chromeH1Spec is a Chrome ClientHello with ALPN limited to http/1.1, since
// http.Transport cannot speak h2 over a utls connection.
var chromeH1Spec *tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = &spec
}

type StaticOptions struct {
	Timeout  time.Duration
	ProxyURL string
}

// Static issues a single GET and returns the raw HTML. It cannot see stock
// widgets that are rendered by scripts.
type Static struct {
	client *resty.Client
}

func NewStatic(opts StaticOptions) *Static {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialTLSContext:    dialChromeTLS,
		ForceAttemptHTTP2: false,
		MaxIdleConns:      10,
		IdleConnTimeout:   30 * time.Second,
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8").
		SetHeader("Cache-Control", "no-cache")
	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}

	return &Static{client: client}
}

func (s *Static) Fetch(ctx context.Context, req Request) (*Page, error) {
	r := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if req.Identity.UserAgent != "" {
		r.SetHeader("User-Agent", req.Identity.UserAgent)
	}
	if req.Identity.AcceptLanguage != "" {
		r.SetHeader("Accept-Language", req.Identity.AcceptLanguage)
	}

	resp, err := r.Get(req.URL)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Timeout: IsTimeout(err), Err: err}
	}
	body := resp.RawBody()
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: req.URL, Timeout: IsTimeout(err), Err: fmt.Errorf("read body: %w", err)}
	}

	page := &Page{
		URL:      req.URL,
		FinalURL: req.URL,
		Status:   resp.StatusCode(),
		HTML:     string(data),
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		page.FinalURL = raw.Request.URL.String()
	}
	page.Title = ExtractTitle(page.HTML)

	if err := statusError(req.URL, page.Status, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *Static) Close() error {
	s.client.GetClient().CloseIdleConnections()
	return nil
}

func dialChromeTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	var tlsConn *tls.UConn
	if chromeH1Spec != nil {
		tlsConn = tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
		if err := tlsConn.ApplyPreset(chromeH1Spec); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply tls spec: %w", err)
		}
	} else {
		tlsConn = tls.UClient(conn, &tls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}, tls.HelloGolang)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return tlsConn, nil
}

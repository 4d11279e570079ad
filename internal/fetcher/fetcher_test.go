package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/stock-alert-bot/internal/ratelimit"
)

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"simple", `<html><head><title>Widget</title></head></html>`, "Widget"},
		{"whitespace and entities", "<title>\n  Tom &amp; Jerry \n</title>", "Tom & Jerry"},
		{"empty title", `<title></title>`, ""},
		{"no title", `<html><body>hi</body></html>`, ""},
		{"first wins", `<title>One</title><title>Two</title>`, "One"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTitle(tt.html))
		})
	}
}

func TestFetchError(t *testing.T) {
	tests := []struct {
		name        string
		err         *FetchError
		wantBlocked bool
		wantPartial bool
	}{
		{"forbidden", &FetchError{URL: "u", Status: 403}, true, false},
		{"rate limited", &FetchError{URL: "u", Status: 429}, true, false},
		{"unavailable", &FetchError{URL: "u", Status: 503}, true, false},
		{"not found", &FetchError{URL: "u", Status: 404}, false, false},
		{"timeout with title", &FetchError{URL: "u", Timeout: true, Page: &Page{Title: "Widget"}}, false, true},
		{"timeout blank title", &FetchError{URL: "u", Timeout: true, Page: &Page{Title: "  "}}, false, false},
		{"timeout no page", &FetchError{URL: "u", Timeout: true}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBlocked, tt.err.Blocked())
			_, ok := tt.err.PartialPage()
			assert.Equal(t, tt.wantPartial, ok)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(&FetchError{Err: context.DeadlineExceeded}))
	assert.False(t, IsTimeout(errors.New("connection refused")))
}

func TestStatic_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
			assert.Equal(t, "en-GB", r.Header.Get("Accept-Language"))
			w.Write([]byte(`<html><head><title>Widget Page</title></head><body><button class="add-to-cart">Add</button></body></html>`))
		case "/moved":
			http.Redirect(w, r, "/ok", http.StatusFound)
		case "/blocked":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`<title>403 Forbidden</title>`))
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			w.Write([]byte(`<title>late</title>`))
		}
	}))
	defer srv.Close()

	f := NewStatic(StaticOptions{Timeout: 100 * time.Millisecond})
	defer f.Close()
	id := ratelimit.Identity{UserAgent: "test-agent", AcceptLanguage: "en-GB"}

	t.Run("success", func(t *testing.T) {
		page, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/ok", Identity: id})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, page.Status)
		assert.Equal(t, "Widget Page", page.Title)

		doc, err := page.Document()
		require.NoError(t, err)
		assert.Equal(t, 1, doc.Find("button.add-to-cart").Length())
	})

	t.Run("redirect records final url", func(t *testing.T) {
		page, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/moved", Identity: id})
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/ok", page.FinalURL)
	})

	t.Run("non-2xx is a fetch error", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/blocked", Identity: id})
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, http.StatusForbidden, fe.Status)
		assert.True(t, fe.Blocked())
		require.NotNil(t, fe.Page)
		assert.Equal(t, "403 Forbidden", fe.Page.Title)
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/slow", Identity: id})
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.True(t, fe.Timeout)
	})
}

type recordingFetcher struct {
	calls  int
	closed bool
}

func (r *recordingFetcher) Fetch(_ context.Context, req Request) (*Page, error) {
	r.calls++
	return &Page{URL: req.URL, Status: 200}, nil
}

func (r *recordingFetcher) Close() error {
	r.closed = true
	return nil
}

func TestPaced(t *testing.T) {
	t.Run("passes through with zero delay", func(t *testing.T) {
		next := &recordingFetcher{}
		p := NewPaced(next, ratelimit.NoDelay(), ratelimit.NewHostLimiter(0, 1), nil)

		page, err := p.Fetch(context.Background(), Request{URL: "https://shop.example/a"})
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example/a", page.URL)
		assert.Equal(t, 1, next.calls)

		require.NoError(t, p.Close())
		assert.True(t, next.closed)
	})

	t.Run("cancelled during pre-navigation delay", func(t *testing.T) {
		next := &recordingFetcher{}
		policy := ratelimit.FixedPolicy{PreNav: time.Hour}
		p := NewPaced(next, policy, nil, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := p.Fetch(ctx, Request{URL: "https://shop.example/a"})
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.True(t, fe.Timeout)
		assert.Zero(t, next.calls)
	})
}

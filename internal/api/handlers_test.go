package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/stock-alert-bot/internal/database"
	"github.com/maltedev/stock-alert-bot/internal/models"
	"github.com/maltedev/stock-alert-bot/internal/monitor"
	"github.com/maltedev/stock-alert-bot/internal/storage"
)

type fakeMonitor struct {
	outcomes []models.CheckOutcome
	err      error
	last     *monitor.CycleStats
	queued   int
}

func (f *fakeMonitor) QueueDepth() int { return f.queued }

func (f *fakeMonitor) CheckNow(ctx context.Context) ([]models.CheckOutcome, error) {
	return f.outcomes, f.err
}

func (f *fakeMonitor) LastCycle() (monitor.CycleStats, bool) {
	if f.last == nil {
		return monitor.CycleStats{}, false
	}
	return *f.last, true
}

type fakeOutbox struct {
	stats database.RelayStats
}

func (f fakeOutbox) Stats(context.Context) (database.RelayStats, error) { return f.stats, nil }

func newServer(t *testing.T, m *fakeMonitor, outbox OutboxStats) (http.Handler, *storage.ConfigStore) {
	t.Helper()
	cs, err := storage.NewConfigStore(filepath.Join(t.TempDir(), "config.json"), nil)
	require.NoError(t, err)
	if m == nil {
		m = &fakeMonitor{}
	}
	return NewRouter(NewHandlers(cs, m, outbox, 0, nil), nil), cs
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxStats
		wantCode   int
		wantStatus string
	}{
		{name: "no outbox", wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "healthy outbox", outbox: fakeOutbox{database.RelayStats{Pending: 2}}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "backlog", outbox: fakeOutbox{database.RelayStats{Pending: 5000}}, wantCode: http.StatusOK, wantStatus: "warning"},
		{name: "dead letters", outbox: fakeOutbox{database.RelayStats{DeadLetter: 500}}, wantCode: http.StatusServiceUnavailable, wantStatus: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newServer(t, nil, tt.outbox)
			rec, body := do(t, h, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestHealthReportsQueuedCycles(t *testing.T) {
	h, _ := newServer(t, &fakeMonitor{queued: 2}, nil)
	_, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, float64(2), body["queued_cycles"])
}

type fakeHistory struct {
	checks   []database.StockCheck
	err      error
	gotItem  string
	gotLimit int
}

func (f *fakeHistory) Recent(_ context.Context, item string, limit int) ([]database.StockCheck, error) {
	f.gotItem, f.gotLimit = item, limit
	return f.checks, f.err
}

func TestItemHistory(t *testing.T) {
	cs, err := storage.NewConfigStore(filepath.Join(t.TempDir(), "config.json"), nil)
	require.NoError(t, err)
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))
	require.NoError(t, cs.AddItem("Widget", "https://shopa.example/w", "ShopA"))

	checkedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &fakeHistory{checks: []database.StockCheck{
		{RunID: uuid.New(), Item: "Widget", Store: "ShopA", Verdict: "in_stock", Reason: "add to cart button found", Alerted: true, Attempts: 1, CheckedAt: checkedAt},
		{RunID: uuid.New(), Item: "Widget", Store: "ShopA", Verdict: "out_of_stock", Attempts: 2, CheckedAt: checkedAt.Add(-time.Minute)},
	}}
	h := NewRouter(NewHandlers(cs, &fakeMonitor{}, nil, 0, nil).WithHistory(history), nil)

	rec, body := do(t, h, http.MethodGet, "/api/v1/items/Widget/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Widget", history.gotItem)
	assert.Equal(t, 5, history.gotLimit)
	assert.Equal(t, "Widget", body["item"])
	checks := body["checks"].([]any)
	require.Len(t, checks, 2)
	first := checks[0].(map[string]any)
	assert.Equal(t, "in_stock", first["verdict"])
	assert.Equal(t, true, first["alerted"])

	_, _ = do(t, h, http.MethodGet, "/api/v1/items/Widget/history", "")
	assert.Equal(t, 20, history.gotLimit)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/items/Widget/history?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/items/Missing/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	history.err = errors.New("connection refused")
	rec, _ = do(t, h, http.MethodGet, "/api/v1/items/Widget/history", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestItemHistoryDisabled(t *testing.T) {
	h, cs := newServer(t, nil, nil)
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))
	require.NoError(t, cs.AddItem("Widget", "https://shopa.example/w", "ShopA"))

	rec, _ := do(t, h, http.MethodGet, "/api/v1/items/Widget/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSetup(t *testing.T) {
	h, cs := newServer(t, nil, nil)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/setup", `{"channel_id":"C42"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	id, ok := cs.ChannelID()
	assert.True(t, ok)
	assert.Equal(t, "C42", id)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/setup", `{"channel_id":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/setup", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoresAndItems(t *testing.T) {
	h, cs := newServer(t, nil, nil)

	steps := []struct {
		method, path, body string
		wantCode           int
	}{
		{http.MethodPost, "/api/v1/stores", `{"name":"ShopA","url":"https://shopa.example"}`, http.StatusCreated},
		{http.MethodPost, "/api/v1/stores", `{"name":"ShopA","url":"https://shopa.example"}`, http.StatusConflict},
		{http.MethodPost, "/api/v1/stores", `{"name":"ShopB","url":"not a url"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/items", `{"name":"Widget","url":"https://shopa.example/w","store":"ShopA"}`, http.StatusCreated},
		{http.MethodPost, "/api/v1/items", `{"name":"Gadget","url":"https://shopa.example/g","store":"ShopA"}`, http.StatusCreated},
		{http.MethodPost, "/api/v1/items", `{"name":"Orphan","url":"https://x.example/o","store":"Nowhere"}`, http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/items/Missing", ``, http.StatusNotFound},
	}
	for _, s := range steps {
		rec, _ := do(t, h, s.method, s.path, s.body)
		assert.Equal(t, s.wantCode, rec.Code, "%s %s %s", s.method, s.path, s.body)
	}

	_, body := do(t, h, http.MethodGet, "/api/v1/items", "")
	items := body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "Gadget", items[0].(map[string]any)["name"])
	assert.Equal(t, "unknown", items[0].(map[string]any)["last_status"])

	rec, body := do(t, h, http.MethodDelete, "/api/v1/stores/ShopA", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"Gadget", "Widget"}, body["removed_items"])
	assert.Empty(t, cs.Items())

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/stores/ShopA", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheck(t *testing.T) {
	t.Run("returns outcome lines", func(t *testing.T) {
		m := &fakeMonitor{outcomes: []models.CheckOutcome{
			{Item: "Widget", Store: "ShopA", URL: "https://shopa.example/w", Attempts: 1, Alerted: true,
				Result: models.StockResult{Verdict: models.VerdictInStock, LowStock: true, Reason: "availability says \"only 3 left in stock\""}},
		}}
		h, _ := newServer(t, m, nil)

		rec, body := do(t, h, http.MethodPost, "/api/v1/check", "")
		require.Equal(t, http.StatusOK, rec.Code)

		lines := body["outcomes"].([]any)
		require.Len(t, lines, 1)
		line := lines[0].(map[string]any)
		assert.Equal(t, "In Stock (low stock)", line["status"])
		assert.Equal(t, true, line["alerted"])
	})

	t.Run("no channel", func(t *testing.T) {
		h, _ := newServer(t, &fakeMonitor{err: monitor.ErrNoChannel}, nil)
		rec, body := do(t, h, http.MethodPost, "/api/v1/check", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, body["error"], "setup")
	})

	t.Run("still running", func(t *testing.T) {
		h, _ := newServer(t, &fakeMonitor{err: context.DeadlineExceeded}, nil)
		rec, _ := do(t, h, http.MethodPost, "/api/v1/check", "")
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})
}

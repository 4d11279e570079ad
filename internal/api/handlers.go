package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/stock-alert-bot/internal/database"
	"github.com/maltedev/stock-alert-bot/internal/models"
	"github.com/maltedev/stock-alert-bot/internal/monitor"
	"github.com/maltedev/stock-alert-bot/internal/storage"
)

type Catalog interface {
	ChannelID() (string, bool)
	SetChannel(channelID string) error
	Stores() []models.Store
	AddStore(name, baseURL string) error
	RemoveStore(name string) ([]string, error)
	Items() []models.Item
	Item(name string) (models.Item, bool)
	AddItem(name, itemURL, store string) error
	RemoveItem(name string) error
}

type Monitor interface {
	CheckNow(ctx context.Context) ([]models.CheckOutcome, error)
	LastCycle() (monitor.CycleStats, bool)
	QueueDepth() int
}

// OutboxStats is satisfied by *database.Relay.
type OutboxStats interface {
	Stats(ctx context.Context) (database.RelayStats, error)
}

// HistoryReader is satisfied by *database.HistoryRepository.
type HistoryReader interface {
	Recent(ctx context.Context, item string, limit int) ([]database.StockCheck, error)
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type Handlers struct {
	catalog      Catalog
	monitor      Monitor
	outbox       OutboxStats
	history      HistoryReader
	checkTimeout time.Duration
	logger       *slog.Logger
}

func NewHandlers(catalog Catalog, m Monitor, outbox OutboxStats, checkTimeout time.Duration, logger *slog.Logger) *Handlers {
	if checkTimeout <= 0 {
		checkTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		catalog:      catalog,
		monitor:      m,
		outbox:       outbox,
		checkTimeout: checkTimeout,
		logger:       logger.With("component", "api"),
	}
}

// WithHistory enables the item history endpoint.
func (h *Handlers) WithHistory(history HistoryReader) *Handlers {
	h.history = history
	return h
}

type SetupRequest struct {
	ChannelID string `json:"channel_id"`
}

type StoreRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ItemRequest struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Store string `json:"store"`
}

type ItemResponse struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Store      string `json:"store"`
	LastStatus string `json:"last_status"`
}

type HistoryLine struct {
	RunID     string    `json:"run_id"`
	Store     string    `json:"store"`
	Verdict   string    `json:"verdict"`
	Reason    string    `json:"reason"`
	LowStock  bool      `json:"low_stock"`
	Attempts  int       `json:"attempts"`
	Alerted   bool      `json:"alerted"`
	CheckedAt time.Time `json:"checked_at"`
}

type CheckResponse struct {
	Outcomes []CheckLine `json:"outcomes"`
}

type CheckLine struct {
	Item     string `json:"item"`
	Store    string `json:"store"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	ImageURL string `json:"image_url,omitempty"`
	Attempts int    `json:"attempts"`
	Alerted  bool   `json:"alerted"`
	Error    string `json:"error,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok", "queued_cycles": h.monitor.QueueDepth()}
	status := http.StatusOK

	if last, ok := h.monitor.LastCycle(); ok {
		health["last_cycle"] = last
	}

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		switch {
		case err != nil:
			h.logger.Warn("failed to read outbox stats", "error", err)
		default:
			health["outbox"] = stats
			if stats.Pending > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if stats.DeadLetter > 100 {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) Setup(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if req.ChannelID == "" {
		h.respondError(w, http.StatusBadRequest, "channel_id is required")
		return
	}

	if err := h.catalog.SetChannel(req.ChannelID); err != nil {
		h.respondConfigError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{
		"message":    "Alert channel set.",
		"channel_id": req.ChannelID,
	})
}

func (h *Handlers) ListStores(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{"stores": h.catalog.Stores()})
}

func (h *Handlers) AddStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.catalog.AddStore(strings.TrimSpace(req.Name), strings.TrimSpace(req.URL)); err != nil {
		h.respondConfigError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, models.Store{Name: strings.TrimSpace(req.Name), BaseURL: strings.TrimSpace(req.URL)})
}

func (h *Handlers) RemoveStore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := h.catalog.RemoveStore(name)
	if err != nil {
		h.respondConfigError(w, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"store":         name,
		"removed_items": removed,
	})
}

func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	items := h.catalog.Items()
	resp := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, ItemResponse{
			Name:       item.Name,
			URL:        item.URL,
			Store:      item.Store,
			LastStatus: item.StatusText(),
		})
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"items": resp})
}

func (h *Handlers) AddItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	req.Store = strings.TrimSpace(req.Store)

	if err := h.catalog.AddItem(req.Name, req.URL, req.Store); err != nil {
		h.respondConfigError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, ItemResponse{Name: req.Name, URL: req.URL, Store: req.Store, LastStatus: "unknown"})
}

func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.catalog.RemoveItem(name); err != nil {
		h.respondConfigError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"item": name})
}

// ItemHistory returns the newest recorded checks of one item.
func (h *Handlers) ItemHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	item, ok := h.catalog.Item(name)
	if !ok {
		h.respondError(w, http.StatusNotFound, "item not found: "+name)
		return
	}
	if h.history == nil {
		h.respondError(w, http.StatusServiceUnavailable, "check history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			h.respondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	checks, err := h.history.Recent(r.Context(), item.Name, limit)
	if err != nil {
		h.logger.Error("failed to read item history", "item", item.Name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	lines := make([]HistoryLine, 0, len(checks))
	for _, c := range checks {
		lines = append(lines, HistoryLine{
			RunID:     c.RunID.String(),
			Store:     c.Store,
			Verdict:   c.Verdict,
			Reason:    c.Reason,
			LowStock:  c.LowStock,
			Attempts:  c.Attempts,
			Alerted:   c.Alerted,
			CheckedAt: c.CheckedAt,
		})
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"item":        item.Name,
		"last_status": item.StatusText(),
		"checks":      lines,
	})
}

// Check runs a manual cycle and waits for it. The cycle itself is queued
// behind any running one.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	outcomes, err := h.monitor.CheckNow(ctx)
	switch {
	case errors.Is(err, monitor.ErrNoChannel):
		h.respondError(w, http.StatusConflict, "No alert channel set. Run setup first.")
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.respondError(w, http.StatusGatewayTimeout, "check is still running, results will be posted to the alert channel")
		return
	case err != nil:
		h.logger.Error("manual check failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "manual check failed")
		return
	}

	resp := CheckResponse{Outcomes: make([]CheckLine, 0, len(outcomes))}
	for _, o := range outcomes {
		resp.Outcomes = append(resp.Outcomes, CheckLine{
			Item:     o.Item,
			Store:    o.Store,
			URL:      o.URL,
			Status:   o.StatusText(),
			Reason:   o.Result.Reason,
			ImageURL: o.Result.ImageURL,
			Attempts: o.Attempts,
			Alerted:  o.Alerted,
			Error:    o.Error,
		})
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handlers) respondConfigError(w http.ResponseWriter, err error) {
	switch {
	case storage.IsNotFound(err):
		h.respondError(w, http.StatusNotFound, err.Error())
	case storage.IsConflict(err):
		h.respondError(w, http.StatusConflict, err.Error())
	case storage.IsInvalid(err):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("config update failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save configuration")
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/stock-alert-bot/internal/checker"
	"github.com/maltedev/stock-alert-bot/internal/models"
	"github.com/maltedev/stock-alert-bot/internal/notify"
	"github.com/maltedev/stock-alert-bot/internal/queue"
	"github.com/maltedev/stock-alert-bot/internal/storage"
)

var ErrNoChannel = errors.New("no alert channel configured, run setup first")

type Checker interface {
	Check(ctx context.Context, target checker.Target) checker.Result
}

// Catalog is the part of the configuration store a cycle needs.
type Catalog interface {
	ChannelID() (string, bool)
	Items() []models.Item
	Store(name string) (models.Store, bool)
	UpdateItem(name string, fn func(item *models.Item) (bool, error)) error
}

// Recorder keeps a history of check outcomes. Optional.
type Recorder interface {
	RecordCheck(ctx context.Context, runID uuid.UUID, outcome models.CheckOutcome) error
}

type Options struct {
	Interval    time.Duration
	ItemTimeout time.Duration
	Recorder    Recorder
}

// CycleStats summarises the last finished cycle.
type CycleStats struct {
	RunID         string    `json:"run_id"`
	Kind          string    `json:"kind"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Items         int       `json:"items"`
	Alerts        int       `json:"alerts"`
	Indeterminate int       `json:"indeterminate"`
	Error         string    `json:"error,omitempty"`
}

// Monitor owns every check cycle. Scheduled ticks and manual requests go
// through one queue and run strictly one after another.
type Monitor struct {
	checker     Checker
	catalog     Catalog
	notifier    notify.Notifier
	recorder    Recorder
	queue       queue.Queue
	interval    time.Duration
	itemTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.RWMutex
	last *CycleStats
}

func New(c Checker, catalog Catalog, n notify.Notifier, opts Options, logger *slog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		checker:     c,
		catalog:     catalog,
		notifier:    n,
		recorder:    opts.Recorder,
		queue:       queue.NewInMemoryQueue(),
		interval:    opts.Interval,
		itemTimeout: opts.ItemTimeout,
		logger:      logger.With("component", "monitor"),
		now:         time.Now,
	}
}

// Run schedules a cycle right away and then every interval, and executes
// queued cycles until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", "interval", m.interval, "item_timeout", m.itemTimeout)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.schedule(ctx)
	}()
	defer func() {
		_ = m.queue.Close()
		wg.Wait()
		m.logger.Info("monitor stopped")
	}()

	for {
		req, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				return nil
			}
			return err
		}

		outcomes, err := m.runCycle(ctx, req.Kind)
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, ErrNoChannel) {
				level = slog.LevelWarn
			}
			m.logger.Log(ctx, level, "cycle aborted", "request_id", req.ID, "kind", req.Kind.String(), "error", err)
		}
		req.Complete(queue.Result{Outcomes: outcomes, Err: err})
	}
}

func (m *Monitor) schedule(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.enqueueScheduled()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.enqueueScheduled()
		}
	}
}

func (m *Monitor) enqueueScheduled() {
	err := m.queue.Push(queue.NewRequest(queue.KindScheduled))
	switch {
	case errors.Is(err, queue.ErrCoalesced):
		m.logger.Debug("previous scheduled cycle still pending, skipping tick")
	case err != nil && !errors.Is(err, queue.ErrQueueClosed):
		m.logger.Error("failed to enqueue scheduled cycle", "error", err)
	}
}

// CheckNow queues a manual cycle and waits for its outcomes. Giving up on
// ctx does not cancel the cycle.
func (m *Monitor) CheckNow(ctx context.Context) ([]models.CheckOutcome, error) {
	req := queue.NewRequest(queue.KindManual)
	if err := m.queue.Push(req); err != nil {
		return nil, fmt.Errorf("failed to queue manual check: %w", err)
	}
	res, err := req.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return res.Outcomes, res.Err
}

// QueueDepth is the number of cycles waiting behind the running one.
func (m *Monitor) QueueDepth() int {
	return m.queue.Size()
}

func (m *Monitor) LastCycle() (CycleStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return CycleStats{}, false
	}
	return *m.last, true
}

func (m *Monitor) runCycle(ctx context.Context, kind queue.Kind) ([]models.CheckOutcome, error) {
	manual := kind == queue.KindManual
	stats := CycleStats{RunID: uuid.NewString(), Kind: kind.String(), StartedAt: m.now()}
	log := m.logger.With("run_id", stats.RunID, "kind", stats.Kind)

	defer func() {
		stats.FinishedAt = m.now()
		m.mu.Lock()
		m.last = &stats
		m.mu.Unlock()
	}()

	channelID, ok := m.catalog.ChannelID()
	if !ok {
		stats.Error = ErrNoChannel.Error()
		return nil, ErrNoChannel
	}

	items := m.catalog.Items()
	slices.SortFunc(items, func(a, b models.Item) int { return strings.Compare(a.Name, b.Name) })
	log.Info("cycle started", "items", len(items))

	runID := uuid.MustParse(stats.RunID)
	outcomes := make([]models.CheckOutcome, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			stats.Error = err.Error()
			return outcomes, err
		}

		outcome := m.checkItem(ctx, log, channelID, item, manual)
		outcomes = append(outcomes, outcome)

		stats.Items++
		if outcome.Alerted {
			stats.Alerts++
		}
		if outcome.Result.Verdict == models.VerdictIndeterminate {
			stats.Indeterminate++
		}

		if m.recorder != nil {
			if err := m.recorder.RecordCheck(ctx, runID, outcome); err != nil {
				log.Error("failed to record check", "item", item.Name, "error", err)
			}
		}
	}

	if manual {
		if err := m.notifier.SendSummary(ctx, channelID, outcomes); err != nil {
			log.Error("failed to send manual check summary", "error", err)
		}
	}

	log.Info("cycle finished", "items", stats.Items, "alerts", stats.Alerts, "indeterminate", stats.Indeterminate)
	return outcomes, nil
}

// checkItem never fails the cycle: problems end up in the outcome.
func (m *Monitor) checkItem(ctx context.Context, log *slog.Logger, channelID string, item models.Item, manual bool) models.CheckOutcome {
	log = log.With("item", item.Name, "store", item.Store, "url", item.URL)
	outcome := models.CheckOutcome{Item: item.Name, Store: item.Store, URL: item.URL}

	store, ok := m.catalog.Store(item.Store)
	if !ok {
		outcome.Result = models.Indeterminate("store not configured")
		outcome.Error = fmt.Sprintf("store %q not configured", item.Store)
		outcome.CheckedAt = m.now()
		log.Warn("item references a missing store")
		return outcome
	}

	itemCtx, cancel := context.WithTimeout(ctx, m.itemTimeout)
	res := m.checker.Check(itemCtx, checker.Target{Item: item.Name, Store: store, URL: item.URL})
	cancel()

	outcome.Result = res.StockResult
	outcome.Attempts = res.Attempts
	outcome.CheckedAt = m.now()
	if res.Err != nil {
		outcome.Error = res.Err.Error()
	}

	decision := notify.Decide(item, res.StockResult, manual)
	if decision.Emit {
		alert := notify.Alert{
			Item:      item.Name,
			Store:     item.Store,
			URL:       item.URL,
			Result:    res.StockResult,
			Broadcast: !manual,
			At:        outcome.CheckedAt,
		}
		// An undelivered alert leaves the state alone so the next cycle retries it.
		if err := m.notifier.SendAlert(ctx, channelID, alert); err != nil {
			log.Error("failed to deliver alert", "error", err)
			outcome.Error = err.Error()
			return outcome
		}
		outcome.Alerted = true
	}

	err := m.catalog.UpdateItem(item.Name, func(current *models.Item) (bool, error) {
		return decision.Apply(current), nil
	})
	switch {
	case storage.IsNotFound(err):
		log.Info("item removed during check, dropping result")
	case err != nil:
		log.Error("failed to persist item state", "error", err)
		outcome.Error = err.Error()
	}
	return outcome
}

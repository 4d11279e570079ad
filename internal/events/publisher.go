package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/stock-alert-bot/internal/database"
	"github.com/maltedev/stock-alert-bot/internal/models"
)

type EventType string

const EventTypeStockAlert EventType = "STOCK_ALERT"

// StockAlertPayload is the body of a STOCK_ALERT event.
type StockAlertPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Item      string    `json:"item"`
	Store     string    `json:"store"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	LowStock  bool      `json:"low_stock"`
	Reason    string    `json:"reason"`
	Source    string    `json:"source"`
}

// Publisher records check history and, for alerting checks, a STOCK_ALERT
// outbox event in the same transaction.
type Publisher struct {
	db      *database.DB
	history *database.HistoryRepository
	outbox  *database.OutboxRepository
	stream  string
	logger  *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultAlertStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:      db,
		history: database.NewHistoryRepository(db),
		outbox:  database.NewOutboxRepository(db),
		stream:  stream,
		logger:  logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) RecordCheck(ctx context.Context, runID uuid.UUID, outcome models.CheckOutcome) error {
	check := historyRow(runID, outcome)

	var event *database.OutboxEvent
	if outcome.Alerted {
		var err error
		if event, err = alertEvent(runID, outcome, p.stream); err != nil {
			return err
		}
	}

	err := p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.history.InsertWithTx(ctx, tx, check); err != nil {
			return err
		}
		if event != nil {
			return p.outbox.InsertWithTx(ctx, tx, event)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record check for %s: %w", outcome.Item, err)
	}

	if event != nil {
		p.logger.Info("alert event written to outbox",
			"event_id", event.ID,
			"item", outcome.Item,
			"store", outcome.Store)
	}
	return nil
}

func historyRow(runID uuid.UUID, o models.CheckOutcome) *database.StockCheck {
	return &database.StockCheck{
		RunID:     runID,
		Item:      o.Item,
		Store:     o.Store,
		URL:       o.URL,
		Verdict:   string(o.Result.Verdict),
		Reason:    o.Result.Reason,
		LowStock:  o.Result.LowStock,
		Attempts:  o.Attempts,
		Alerted:   o.Alerted,
		CheckedAt: o.CheckedAt,
	}
}

func alertEvent(runID uuid.UUID, o models.CheckOutcome, stream string) (*database.OutboxEvent, error) {
	id := uuid.New()
	ts := o.CheckedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	data, err := json.Marshal(StockAlertPayload{
		EventID:   id.String(),
		EventType: string(EventTypeStockAlert),
		Timestamp: ts,
		RunID:     runID.String(),
		Item:      o.Item,
		Store:     o.Store,
		URL:       o.URL,
		Title:     o.Result.Title,
		ImageURL:  o.Result.ImageURL,
		LowStock:  o.Result.LowStock,
		Reason:    o.Result.Reason,
		Source:    "monitor",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		ID:            id,
		AggregateType: "item",
		AggregateID:   o.Item,
		EventType:     string(EventTypeStockAlert),
		Payload:       data,
		TargetStream:  stream,
	}, nil
}

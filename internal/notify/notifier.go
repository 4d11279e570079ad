package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/stock-alert-bot/internal/models"
)

// Alert is one in-stock notification.
type Alert struct {
	Item   string
	Store  string
	URL    string
	Result models.StockResult
	// Broadcast pages every channel member.
	Broadcast bool
	At        time.Time
}

type Notifier interface {
	SendAlert(ctx context.Context, channelID string, alert Alert) error
	SendSummary(ctx context.Context, channelID string, outcomes []models.CheckOutcome) error
}

// DeliveryError wraps a failed send.
type DeliveryError struct {
	Channel string
	Sink    string
	Cause   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s channel %s: %v", e.Sink, e.Channel, e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// Fanout sends to every notifier and joins the failures.
type Fanout []Notifier

func (f Fanout) SendAlert(ctx context.Context, channelID string, alert Alert) error {
	var errs []error
	for _, n := range f {
		if err := n.SendAlert(ctx, channelID, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) SendSummary(ctx context.Context, channelID string, outcomes []models.CheckOutcome) error {
	var errs []error
	for _, n := range f {
		if err := n.SendSummary(ctx, channelID, outcomes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only writes to the log. Useful without chat credentials.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier", "sink", "log")}
}

func (l *LogNotifier) SendAlert(_ context.Context, channelID string, alert Alert) error {
	l.logger.Info("stock alert",
		"channel", channelID,
		"item", alert.Item,
		"store", alert.Store,
		"url", alert.URL,
		"low_stock", alert.Result.LowStock,
		"broadcast", alert.Broadcast)
	return nil
}

func (l *LogNotifier) SendSummary(_ context.Context, channelID string, outcomes []models.CheckOutcome) error {
	for _, o := range outcomes {
		l.logger.Info("manual check outcome",
			"channel", channelID,
			"item", o.Item,
			"store", o.Store,
			"status", o.StatusText(),
			"reason", o.Result.Reason)
	}
	return nil
}

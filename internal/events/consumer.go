package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/stock-alert-bot/internal/models"
	"github.com/maltedev/stock-alert-bot/internal/notify"
)

type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
}

type ConsumerConfig struct {
	Stream  string
	Group   string
	Name    string
	Channel string
	Block   time.Duration
	Count   int64
	// ReclaimInterval is how often pending entries are swept. Entries idle
	// for at least MinIdle are claimed by this consumer and handled again.
	ReclaimInterval time.Duration
	MinIdle         time.Duration
}

// Consumer reads STOCK_ALERT events from a Redis stream and hands them to a
// notifier, so alerts can be forwarded to sinks outside the monitor process.
type Consumer struct {
	redis    StreamClient
	notifier notify.Notifier
	cfg      ConsumerConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewConsumer(client StreamClient, n notify.Notifier, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Group == "" {
		cfg.Group = "stock-alert-forwarders"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count == 0 {
		cfg.Count = 10
	}
	if cfg.ReclaimInterval == 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	if cfg.MinIdle == 0 {
		cfg.MinIdle = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		redis:    client,
		notifier: n,
		cfg:      cfg,
		logger:   logger.With("component", "alert_consumer", "stream", cfg.Stream, "group", cfg.Group),
		now:      time.Now,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("consumer started")
	var lastReclaim time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if now := c.now(); now.Sub(lastReclaim) >= c.cfg.ReclaimInterval {
			lastReclaim = now
			c.reclaim(ctx)
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

// reclaim claims pending entries that have sat idle for MinIdle, whoever
// owns them, and handles them again. Entries whose delivery failed before
// end up here.
func (c *Consumer) reclaim(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := c.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			MinIdle:  c.cfg.MinIdle,
			Start:    start,
			Count:    c.cfg.Count,
		}).Result()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
				c.logger.Error("failed to claim pending messages", "error", err)
			}
			return
		}

		if len(msgs) > 0 {
			c.logger.Info("redelivering pending messages", "count", len(msgs))
		}
		for _, msg := range msgs {
			c.handle(ctx, msg)
		}

		if next == "" || next == "0-0" || next == start {
			return
		}
		start = next
	}
}

// handle acks everything except deliveries that failed, which stay pending
// until reclaim picks them up.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	if err := c.process(ctx, msg); err != nil {
		c.logger.Error("failed to process message", "id", msg.ID, "error", err)
		var de *notify.DeliveryError
		if errors.As(err, &de) {
			return
		}
	}
	if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) error {
	if t, _ := msg.Values["event_type"].(string); t != string(EventTypeStockAlert) {
		return nil
	}

	payload, err := decodeAlert(msg)
	if err != nil {
		return err
	}

	c.logger.Info("forwarding alert", "id", msg.ID, "item", payload.Item, "store", payload.Store)
	return c.notifier.SendAlert(ctx, c.cfg.Channel, notify.Alert{
		Item:  payload.Item,
		Store: payload.Store,
		URL:   payload.URL,
		Result: models.StockResult{
			Verdict:  models.VerdictInStock,
			Reason:   payload.Reason,
			ImageURL: payload.ImageURL,
			LowStock: payload.LowStock,
			Title:    payload.Title,
		},
		At: payload.Timestamp,
	})
}

func decodeAlert(msg redis.XMessage) (*StockAlertPayload, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no data field", msg.ID)
	}

	var envelope struct {
		Payload StockAlertPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %w", msg.ID, err)
	}
	if envelope.Payload.Item == "" {
		return nil, fmt.Errorf("message %s has no item", msg.ID)
	}
	return &envelope.Payload, nil
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"

	"github.com/maltedev/stock-alert-bot/internal/models"
)

// Webhook posts to a Discord incoming webhook. The channel argument is
// ignored because the webhook URL is bound to one channel.
type Webhook struct {
	url    string
	client *resty.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Webhook{
		url:    url,
		client: client,
		logger: logger.With("component", "notifier", "sink", "webhook"),
		now:    time.Now,
	}
}

func (w *Webhook) SendAlert(ctx context.Context, channelID string, alert Alert) error {
	return w.post(ctx, channelID, &discordgo.WebhookParams{
		Content:         alertContent(alert),
		Embeds:          []*discordgo.MessageEmbed{alertEmbed(alert)},
		AllowedMentions: allowedMentions(alert.Broadcast),
	})
}

func (w *Webhook) SendSummary(ctx context.Context, channelID string, outcomes []models.CheckOutcome) error {
	return w.post(ctx, channelID, &discordgo.WebhookParams{
		Embeds:          []*discordgo.MessageEmbed{summaryEmbed(summaryLines(outcomes), w.now())},
		AllowedMentions: allowedMentions(false),
	})
}

func (w *Webhook) post(ctx context.Context, channelID string, params *discordgo.WebhookParams) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(params).
		Post(w.url)
	if err != nil {
		return &DeliveryError{Channel: channelID, Sink: "webhook", Cause: err}
	}
	if resp.IsError() {
		return &DeliveryError{
			Channel: channelID,
			Sink:    "webhook",
			Cause:   fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	w.logger.Debug("webhook delivered", "status", resp.StatusCode())
	return nil
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/maltedev/stock-alert-bot/internal/models"
)

// messageSender is the slice of *discordgo.Session used here.
type messageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts embeds through a bot session.
type Discord struct {
	sender  messageSender
	session *discordgo.Session
	logger  *slog.Logger
	now     func() time.Time
}

// NewDiscord opens a bot session. The gateway connection is only needed
// for presence, so Open failures are logged and sends still go over REST.
func NewDiscord(token string, logger *slog.Logger) (*Discord, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages

	d := &Discord{
		sender:  session,
		session: session,
		logger:  logger.With("component", "notifier", "sink", "discord"),
		now:     time.Now,
	}

	if err := session.Open(); err != nil {
		d.logger.Warn("discord gateway unavailable, continuing with REST only", "error", err)
	}
	return d, nil
}

func newDiscordWithSender(sender messageSender, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{sender: sender, logger: logger, now: time.Now}
}

func (d *Discord) SendAlert(ctx context.Context, channelID string, alert Alert) error {
	msg := &discordgo.MessageSend{
		Content:         alertContent(alert),
		Embeds:          []*discordgo.MessageEmbed{alertEmbed(alert)},
		AllowedMentions: allowedMentions(alert.Broadcast),
	}
	if _, err := d.sender.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return &DeliveryError{Channel: channelID, Sink: "discord", Cause: err}
	}

	d.logger.Info("alert sent", "channel", channelID, "item", alert.Item, "store", alert.Store)
	return nil
}

func (d *Discord) SendSummary(ctx context.Context, channelID string, outcomes []models.CheckOutcome) error {
	msg := &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{summaryEmbed(summaryLines(outcomes), d.now())},
		AllowedMentions: allowedMentions(false),
	}
	if _, err := d.sender.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return &DeliveryError{Channel: channelID, Sink: "discord", Cause: err}
	}
	return nil
}

func (d *Discord) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

func summaryLines(outcomes []models.CheckOutcome) []string {
	lines := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		lines = append(lines, fmt.Sprintf("**%s** at **%s**: %s ([Link](%s))",
			plain(o.Item), plain(o.Store), o.StatusText(), o.URL))
	}
	return lines
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/stock-alert-bot/internal/database"
	"github.com/maltedev/stock-alert-bot/internal/events"
)

var (
	consumeGroup   string
	consumeName    string
	consumeChannel string
)

func init() {
	consumeCmd.Flags().StringVar(&consumeGroup, "group", "stock-alert-forwarders", "redis consumer group")
	consumeCmd.Flags().StringVar(&consumeName, "name", "", "consumer name within the group (defaults to the hostname)")
	consumeCmd.Flags().StringVar(&consumeChannel, "channel", "", "channel to forward alerts to (defaults to the configured alert channel)")
	rootCmd.AddCommand(consumeCmd)
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Forwards STOCK_ALERT events from the Redis stream to the configured notifier.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Redis.Enabled() {
			return fmt.Errorf("REDIS_ADDR is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rc, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rc.Close()

		notifier, closer, err := newNotifier(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		channel := consumeChannel
		if channel == "" {
			if cs, err := openStore(); err == nil {
				channel, _ = cs.ChannelID()
			}
		}
		name := consumeName
		if name == "" {
			name, _ = os.Hostname()
		}

		consumer := events.NewConsumer(rc, notifier, events.ConsumerConfig{
			Stream:  database.DefaultAlertStream,
			Group:   consumeGroup,
			Name:    name,
			Channel: channel,
		}, log)

		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

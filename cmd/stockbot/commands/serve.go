package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/stock-alert-bot/internal/api"
	"github.com/maltedev/stock-alert-bot/internal/database"
	"github.com/maltedev/stock-alert-bot/internal/events"
	"github.com/maltedev/stock-alert-bot/internal/monitor"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the monitor, the admin API and the outbox relay until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Flush(); err != nil {
			log.Error("final config flush failed", "error", err)
		}
	}()

	ctrl, fetchCloser, err := newChecker(cfg, cfg.Fetcher.Strategy)
	if err != nil {
		return err
	}
	defer fetchCloser.Close()

	notifier, notifyCloser, err := newNotifier(cfg)
	if err != nil {
		return err
	}
	defer notifyCloser.Close()

	opts := monitor.Options{Interval: cfg.Monitor.Interval, ItemTimeout: cfg.Monitor.ItemTimeout}
	var (
		outboxStats api.OutboxStats
		history     api.HistoryReader
		relay       *database.Relay
	)

	if cfg.Database.Enabled() {
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Recorder = events.NewPublisher(db, database.DefaultAlertStream, log)
		history = database.NewHistoryRepository(db)
		log.Info("check history enabled", "host", cfg.Database.Host, "database", cfg.Database.Name)

		if cfg.Redis.Enabled() {
			rc, err := openRedis(ctx, cfg)
			if err != nil {
				return err
			}
			relay = database.NewRelay(database.NewOutboxRepository(db), rc, log, database.RelayConfig{})
			defer relay.Close()
			outboxStats = relay
		}
	}

	// background workers stop before any of the resources above are closed
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
	}

	mon := monitor.New(ctrl, store, notifier, opts, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("monitor stopped with error", "error", err)
		}
	}()

	checkTimeout := cfg.Server.WriteTimeout * 9 / 10
	handlers := api.NewHandlers(store, mon, outboxStats, checkTimeout, log)
	if history != nil {
		handlers.WithHistory(history)
	}
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      api.NewRouter(handlers, nil),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	return nil
}

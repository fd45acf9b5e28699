package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"signalgate/internal/bus"
	"signalgate/internal/channel"
	"signalgate/internal/domain"
	"signalgate/internal/metrics"
	"signalgate/internal/relay"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the relay (receive poller + Telegram bridge + metrics)",
		Long:  "Polls signal-cli for incoming messages, stores them, forwards them to Telegram when enabled and serves metrics when enabled. Press Ctrl+C to stop.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	var store domain.MessageStore
	if s, err := openStore(cfg); err != nil {
		return err
	} else if s != nil {
		store = s
		defer s.Close()
	}

	var wg sync.WaitGroup

	if cfg.Relay.Enabled {
		poller := relay.NewPoller(relay.PollerConfig{
			Account:  cfg.Signal.Account,
			Interval: cfg.Relay.Interval(),
			Logger:   logger,
		}, c, store, messageBus)
		wg.Go(func() { poller.Start(ctx) })
	} else {
		logger.Info("relay poller disabled")
	}

	if cfg.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Telegram.Token,
			ChatID:    cfg.Telegram.ChatID,
			AllowFrom: cfg.Telegram.AllowFrom,
			Account:   cfg.Signal.Account,
			Logger:    logger,
		}, c)
		wg.Go(func() {
			if err := tg.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		})
		logger.Info("telegram channel enabled", "chat_id", cfg.Telegram.ChatID)
	} else {
		// Nothing consumes the bus; drain it so the poller never blocks.
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-messageBus.Subscribe():
					if !ok {
						return
					}
				}
			}
		})
		logger.Info("telegram channel disabled")
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Default.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Go(func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		})
	}

	logger.Info("signalgate running. Press Ctrl+C to stop.", "account", cfg.Signal.Account, "version", version)

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		messageBus.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

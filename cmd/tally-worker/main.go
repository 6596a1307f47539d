package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/amqp"
	"tally/internal/config"
	"tally/internal/executor"
	applog "tally/internal/log"
	"tally/internal/schedule"
	"tally/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting tally-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	amqpClient, err := amqp.DialWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	processor := schedule.NewProcessor(repo)

	exec := executor.New(executor.Config{
		Limit:       cfg.ThrottleLimit,
		Period:      cfg.ThrottlePeriod,
		RetryBase:   cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
	}, func(key string, err error) {
		logger.Error("Recurring work item failed after retries", "user_id", key, "error", err)
	})
	defer exec.Stop()

	logger.Info("Worker configured",
		"throttle_limit", cfg.ThrottleLimit,
		"throttle_period", cfg.ThrottlePeriod,
		"retry_max_attempts", cfg.RetryMaxAttempts)

	// Each delivery is handed to the executor keyed by user, which enforces
	// the per-user throttle and retry policy. The delivery is acked once
	// enqueued; a crash before completion is covered by the next discovery
	// run, since processing is idempotent.
	handle := func(ctx context.Context, msg *amqp.ProcessRecurringMessage) error {
		return exec.Submit(msg.UserID, func(ctx context.Context) error {
			processed, err := processor.ProcessDue(ctx, msg.TransactionID, msg.UserID)
			if err != nil {
				return err
			}
			if !processed {
				slog.DebugContext(ctx, "Work item no longer due, skipped",
					"transaction_id", msg.TransactionID)
			}
			return nil
		})
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	err = amqpClient.ConsumeProcessRecurring(ctx, handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped with error", "error", err)
		os.Exit(1)
	}

	// Give in-flight work a moment to finish before Stop cancels it.
	time.Sleep(2 * time.Second)
	logger.Info("Tally-worker shutdown complete")
}

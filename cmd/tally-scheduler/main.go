package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/alerts"
	"tally/internal/amqp"
	"tally/internal/config"
	"tally/internal/insights"
	applog "tally/internal/log"
	"tally/internal/notify"
	"tally/internal/schedule"
	"tally/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: applog.ComponentScheduler})
	applog.SetDefault(logger)

	logger.Info("Starting tally-scheduler")

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

	var sender notify.Sender = notify.LogSender{}
	if cfg.ResendAPIKey != "" {
		sender = notify.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom)
	} else {
		logger.Warn("Resend API key not set, emails will only be logged")
	}

	var ai *insights.Service
	if cfg.GeminiAPIKey != "" {
		ai, err = insights.NewService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("Failed to initialize Gemini client, reports will use fallback insights", "error", err)
			ai = nil
		}
	}

	scheduler := schedule.NewScheduler(repo, amqpClient, cfg.FanOutLimit)
	monitor := alerts.NewMonitor(repo.Queries(), sender)
	reporter := alerts.NewMonthlyReporter(repo.Queries(), ai, sender)

	logger.Info("Scheduler configured",
		"discovery_interval", cfg.DiscoveryInterval,
		"alert_interval", cfg.AlertInterval,
		"report_interval", cfg.ReportInterval)

	// Run initial discovery and alert scan on startup
	if count, err := scheduler.Run(ctx, time.Now()); err != nil {
		logger.Error("Initial recurring discovery failed", "error", err)
	} else {
		logger.Info("Initial recurring discovery complete", "dispatched", count)
	}
	if count, err := monitor.Run(ctx, time.Now()); err != nil {
		logger.Error("Initial budget scan failed", "error", err)
	} else {
		logger.Info("Initial budget scan complete", "alerts_sent", count)
	}

	go runDiscovery(ctx, scheduler, cfg.DiscoveryInterval, logger)
	go runAlerts(ctx, monitor, cfg.AlertInterval, logger)
	go runReports(ctx, reporter, cfg.ReportInterval, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	cancel()
	logger.Info("Tally-scheduler shutdown complete")
}

func runDiscovery(ctx context.Context, scheduler *schedule.Scheduler, interval time.Duration, logger *applog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			count, err := scheduler.Run(ctx, now)
			if err != nil {
				logger.Error("Recurring discovery failed", "error", err)
				continue
			}
			logger.Info("Recurring discovery complete", "dispatched", count)
		}
	}
}

func runAlerts(ctx context.Context, monitor *alerts.Monitor, interval time.Duration, logger *applog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			count, err := monitor.Run(ctx, now)
			if err != nil {
				logger.Error("Budget scan failed", "error", err)
				continue
			}
			logger.Info("Budget scan complete", "alerts_sent", count)
		}
	}
}

// runReports ticks at the report interval but only fires once per calendar
// month, on the first tick after the month rolls over.
func runReports(ctx context.Context, reporter *alerts.MonthlyReporter, interval time.Duration, logger *applog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastRun := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Year() == lastRun.Year() && now.Month() == lastRun.Month() {
				continue
			}
			count, err := reporter.Run(ctx, now)
			if err != nil {
				logger.Error("Monthly report run failed", "error", err)
				continue
			}
			lastRun = now
			logger.Info("Monthly report run complete", "reports_sent", count)
		}
	}
}

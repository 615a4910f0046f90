package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailroom/internal/config"
	"mailroom/internal/constants"
	"mailroom/internal/database"
	"mailroom/internal/models"
	"mailroom/internal/retry"
	"mailroom/internal/service"
	"mailroom/internal/tracing"
	"mailroom/pkg/mailapi"
	"mailroom/pkg/mailapi/types"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Mailroom %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting Mailroom")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			if level > logrus.InfoLevel {
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	apiKey := os.Getenv("MAILROOM_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("MAILROOM_API_KEY environment variable is required")
	}

	mailClient := mailapi.NewClientWithLogger(types.ClientConfig{
		BaseURL:    cfg.Mail.APIBaseURL,
		APIKey:     apiKey,
		Mailbox:    cfg.Mail.Mailbox,
		Timeout:    time.Duration(cfg.Mail.TimeoutSec) * time.Second,
		RetryCount: cfg.Mail.RetryCount,
	}, logger)

	// DLQ backoff drives the next_retry_at schedule for captured
	// operations; it is deliberately slower than the in-process retry.
	dlqBackoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.DLQ.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.DLQ.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.DLQ.MaxRetries,
		Jitter:       true,
	})
	deadLetters := service.NewDeadLetterService(db, dlqBackoff, cfg.DLQ.MaxRetries, logger)

	dedup := service.NewDedupEngine(db, time.Duration(cfg.Ingest.FingerprintToleranceSec)*time.Second, logger)
	categorizer := service.NewCategorizer(db, logger)
	linker := service.NewLinker(db, time.Duration(cfg.Linking.WindowDays)*24*time.Hour, logger)
	coordinator := service.NewIngestionCoordinator(dedup, categorizer, linker, db, deadLetters, mailClient, logger)

	notifier := service.NewNotificationEngine(db, mailClient, nil, deadLetters, cfg.Notifier.BatchSize, logger)
	triage := service.NewTriageService(db, logger)

	deadLetters.RegisterHandler(models.OperationEmailImport, coordinator.RetryImportHandler())
	deadLetters.RegisterHandler(models.OperationEmailSend, notifier.RetrySendHandler())

	poller := service.NewMailPoller(mailClient, coordinator, cfg.Ingest, cfg.Retry, logger)
	if err := poller.Start(ctx); err != nil {
		logger.Warnf("Failed to start mail poller: %v", err)
	}
	defer poller.Stop()

	notifierSweeper := service.NewSweeper("notifications",
		time.Duration(cfg.Notifier.SweepIntervalSec)*time.Second,
		func(ctx context.Context) error {
			_, err := notifier.Sweep(ctx)
			return err
		}, logger)
	go notifierSweeper.Start(ctx)

	dlqSweeper := service.NewSweeper("dead-letters",
		time.Duration(cfg.DLQ.SweepIntervalSec)*time.Second,
		func(ctx context.Context) error {
			_, err := deadLetters.Sweep(ctx, cfg.DLQ.BatchSize)
			return err
		}, logger)
	go dlqSweeper.Start(ctx)

	server := NewServer(cfg, coordinator, notifier, deadLetters, triage, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/api"
	"github.com/0x-Decrypt/task-scheduler/internal/executor"
	"github.com/0x-Decrypt/task-scheduler/internal/monitor"
	"github.com/0x-Decrypt/task-scheduler/internal/notify"
	"github.com/0x-Decrypt/task-scheduler/internal/scheduler"
	"github.com/0x-Decrypt/task-scheduler/internal/storage"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")

	viper.SetDefault("app.name", "task-scheduler")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("storage.path", "scheduler.db")
	viper.SetDefault("storage.retention", "720h")
	viper.SetDefault("metrics.interval", "15s")
	viper.SetDefault("nats.enabled", false)
	viper.SetDefault("nats.url", nats.DefaultURL)
	viper.SetDefault("nats.connect_timeout", "5s")
	viper.SetDefault("shutdown.timeout", "30s")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Fatal("Failed to read config file", zap.Error(err))
		}
		logger.Info("No config file found, using defaults")
	}

	// Open task storage
	store, err := storage.NewSQLiteStore(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	// Build the notifier chain. NATS publishing is optional; the log
	// notifier always runs.
	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}

	var nc *nats.Conn
	if viper.GetBool("nats.enabled") {
		nc, err = nats.Connect(viper.GetString("nats.url"),
			nats.Name(viper.GetString("app.name")),
			nats.Timeout(viper.GetDuration("nats.connect_timeout")),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				logger.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			}))
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()

		logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
		notifiers = append(notifiers, notify.NewNATSNotifier(nc, logger))
	}

	// Wire executor and scheduler
	taskExecutor := executor.NewExecutor(store, notify.NewMultiNotifier(notifiers...), logger)
	taskScheduler := scheduler.NewScheduler(store, taskExecutor, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := taskScheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Prune old execution records once a day.
	if retention := viper.GetDuration("storage.retention"); retention > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := store.DeleteExecutionsBefore(ctx, time.Now().Add(-retention)); err != nil {
						logger.Error("Failed to prune execution history", zap.Error(err))
					}
				}
			}
		}()
	}

	// Metrics collection
	metrics := monitor.NewMetricsCollector(taskScheduler, taskExecutor, viper.GetDuration("metrics.interval"), logger)
	metrics.Start(ctx)

	// HTTP API
	server := api.NewServer(viper.GetString("server.addr"), store, taskScheduler, metrics, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	// Graceful shutdown: stop taking requests, then drain the scheduler.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), viper.GetDuration("shutdown.timeout"))
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	metrics.Stop()
	if err := taskScheduler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Scheduler did not drain before deadline", zap.Error(err))
	}

	logger.Info("Server shut down gracefully")
}

/**
 * @description
 * This is the main entry point for the payment-service.
 * It initializes and wires together all the components of the application:
 * configuration, database connection, optional Redis and RabbitMQ clients,
 * the Stripe gateway client, the repository, the service and webhook
 * processor, and the HTTP router. Finally it starts the HTTP server and a
 * background sweep for expired staged submissions.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jobforge/payment-service/internal/api"
	"github.com/jobforge/payment-service/internal/app"
	"github.com/jobforge/payment-service/internal/config"
	"github.com/jobforge/payment-service/internal/store"
	"github.com/jobforge/payment-service/pkg/rabbitmq"
	"github.com/jobforge/payment-service/pkg/stripeclient"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load application configuration from environment variables. Missing
	// required keys abort startup here.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AuthTokenSecret == "" {
		logger.Warn("no session-token secret configured; trusting X-Owner-Ref header (development mode)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database.
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = 50
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Optional Redis client for webhook event dedupe.
	var deduper *api.EventDeduper
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		deduper = api.NewEventDeduper(redis.NewClient(opts))
		logger.Info("webhook dedupe enabled")
	}

	// Optional RabbitMQ producer for post-commit content events.
	var events app.EventPublisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		events = producer
		logger.Info("event producer connected")
	}

	// Initialize application layers.
	gateway := stripeclient.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, time.Duration(cfg.VerifyTimeoutSeconds)*time.Second)
	repository := store.NewPostgresRepository(dbpool)
	lifecycle := app.NewSubscriptionLifecycle(repository, events, cfg.EventsExchange)
	settings := app.Settings{
		JobPostAmountCents:   cfg.JobPostAmountCents,
		Currency:             cfg.Currency,
		RealtimeAlertPriceID: cfg.RealtimeAlertPriceID,
		VerifyTimeout:        time.Duration(cfg.VerifyTimeoutSeconds) * time.Second,
		EventsExchange:       cfg.EventsExchange,
		AdminAccounts:        cfg.AdminAccountList(),
	}
	service := app.NewService(repository, gateway, lifecycle, events, settings)
	processor := app.NewWebhookProcessor(repository, gateway, lifecycle, events, cfg.EventsExchange)

	handler := api.NewHandler(service)
	webhookHandler := api.NewWebhookHandler(gateway, processor, deduper)
	router := api.NewRouter(handler, webhookHandler, cfg.AuthTokenSecret)

	// Background sweep for staged submissions that were never paid.
	stagingTTL := time.Duration(cfg.StagingTTLHours) * time.Hour
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				service.PurgeExpiredStagedSubmissions(ctx, stagingTTL)
			}
		}
	}()

	// Configure and start the HTTP server.
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			cancel()
		}
	}()

	// Wait for a termination signal.
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

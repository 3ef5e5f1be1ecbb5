package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/webhook-retry/internal/config"
	"github.com/kursadbilgin/webhook-retry/internal/handler"
	"github.com/kursadbilgin/webhook-retry/internal/infra/postgresql"
	"github.com/kursadbilgin/webhook-retry/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/webhook-retry/internal/infra/redis"
	"github.com/kursadbilgin/webhook-retry/internal/notifier"
	"github.com/kursadbilgin/webhook-retry/internal/observability"
	"github.com/kursadbilgin/webhook-retry/internal/provider"
	"github.com/kursadbilgin/webhook-retry/internal/queue"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
	"github.com/kursadbilgin/webhook-retry/internal/service"
	"github.com/kursadbilgin/webhook-retry/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("webhook-retry stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	publisherConn, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq publisher initialization failed: %w", err)
	}
	publisher := queue.NewRabbitMQPublisher(publisherConn)
	defer publisher.Close()

	consumerConn, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq consumer initialization failed: %w", err)
	}
	consumer := queue.NewRabbitMQConsumer(consumerConn, cfg.WorkerConcurrency, logger)
	defer consumer.Close()

	attempts := repository.NewGormRetryAttemptRepo(db)
	deadLetters := repository.NewGormDeadLetterRepo(db)
	events := repository.NewGormWebhookEventRepo(db)
	alerts := repository.NewGormAlertRepo(db)
	tx := repository.NewGormTransactor(db)

	taskQueue, err := infraredis.NewDelayedTaskQueue(rdb, infraredis.DefaultScheduleKey, logger)
	if err != nil {
		return err
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, cfg.RateLimits)
	if err != nil {
		return err
	}

	deliverer, err := provider.NewHTTPDeliverer(cfg.Endpoints, cfg.DefaultWebhookURL)
	if err != nil {
		return err
	}

	failureNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}

	retries, err := service.NewRetryService(attempts, deadLetters, taskQueue, failureNotifier, cfg.Retry, logger)
	if err != nil {
		return err
	}
	retries.SetMetrics(metrics)
	retries.SetEventLookup(events)
	retries.SetAlertRecorder(alerts)
	retries.SetTransactor(tx)

	executor, err := service.NewDeliveryExecutor(retries, attempts, consumer, deliverer, rateLimiter, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	executor.SetMetrics(metrics)
	executor.SetTransactor(tx)

	dispatcher, err := service.NewRetryDispatcher(taskQueue, taskQueue, publisher, cfg.DispatchEvery(), 0, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	scanner, err := service.NewRecoveryScanner(attempts, taskQueue, cfg.RecoveryEvery(), cfg.RecoveryStaleAfter(), 0, logger)
	if err != nil {
		return err
	}
	scanner.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware(transport.StatusFor))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, metrics)
	if err := handler.RegisterRetryRoutes(app, retries); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return executor.Start(groupCtx) })
	g.Go(func() error { return dispatcher.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("webhook-retry api started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down webhook-retry")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}

// buildNotifier always logs failures and also posts them to ALERT_WEBHOOK_URL
// when one is configured.
func buildNotifier(cfg *config.Config, logger *zap.Logger) (notifier.Notifier, error) {
	logNotifier := notifier.NewLogNotifier(logger)
	if strings.TrimSpace(cfg.AlertWebhookURL) == "" {
		return logNotifier, nil
	}

	webhookNotifier, err := notifier.NewWebhookNotifier(cfg.AlertWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("alert webhook notifier initialization failed: %w", err)
	}
	return notifier.NewMultiNotifier(logNotifier, webhookNotifier), nil
}

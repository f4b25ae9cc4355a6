package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/meritpath/worker-service/internal/api/router"
	"github.com/meritpath/worker-service/internal/config"
	"github.com/meritpath/worker-service/internal/scholar"
	"github.com/meritpath/worker-service/internal/worker"
	"github.com/meritpath/worker-service/internal/worker/domain"
	"github.com/meritpath/worker-service/internal/worker/handler"
	"github.com/meritpath/worker-service/internal/worker/queue"
	"github.com/meritpath/worker-service/internal/worker/storage"
	"github.com/meritpath/worker-service/migrations"
	"github.com/meritpath/worker-service/shared/logger"
	"github.com/meritpath/worker-service/shared/postgresql"
	"github.com/meritpath/worker-service/shared/rabbitmq"
	"github.com/meritpath/worker-service/shared/redisclient"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.NewDefault().Info("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	runMigrations := flag.Bool("migrate", false, "Apply database migrations before starting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyWorkerDefaults()
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_backend", cfg.Queue.Backend),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	if *runMigrations {
		if err := dbClient.Migrate(migrations.FS); err != nil {
			return err
		}
	}

	backend, err := initQueue(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer backend.close()

	registry := handler.NewRegistry()
	registry.Register(domain.JobTypePrintNumbers,
		handler.NewNumberPrinter(cfg.Worker.PrintNumbersDelay, appLogger.Logger).Handler())
	registry.Register(domain.JobTypeFindCiters,
		handler.NewCitationFinder(
			scholar.NewClient(scholarConfig(&cfg.SemanticScholar), appLogger.Logger),
			storage.NewCitationStorage(dbClient.GetDB(), appLogger.Logger),
			appLogger.Logger,
		).Handler())

	dispatcher := worker.NewDispatcher(
		backend.queue,
		storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		registry,
		worker.Config{
			MaxConcurrentJobs:  cfg.Worker.MaxConcurrentJobs,
			MaxBatchSize:       cfg.Worker.MaxBatchSize,
			WaitTime:           cfg.Worker.WaitTime,
			VisibilityTimeout:  cfg.Worker.VisibilityTimeout,
			IdleBackoff:        cfg.Worker.IdleBackoff,
			ErrorBackoff:       cfg.Worker.ErrorBackoff,
			JobTimeout:         cfg.Worker.JobTimeout,
			HeartbeatInterval:  cfg.Worker.HeartbeatInterval,
			StaleAfter:         cfg.Worker.StaleAfter,
			StaleCheckInterval: cfg.Worker.StaleCheckInterval,
		},
		appLogger.Logger,
	)

	workerInstance := worker.NewWorker(&worker.WorkerConfig{
		Logger:          appLogger.Logger,
		Dispatcher:      dispatcher,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	})

	appLogger.Info("Job handlers registered",
		slog.Any("job_types", registry.Types()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := workerInstance.Run(gctx)
		if released := backend.release(); released > 0 {
			appLogger.Info("Returned unfinished messages to the queue",
				slog.Int("count", released),
			)
		}
		return err
	})

	if cfg.Worker.HealthPort != 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Worker.HealthPort),
			Handler:           initRouter(cfg.App.Environment, appLogger.Logger, workerInstance, dbClient, backend.health),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			appLogger.Info("Starting health server", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	appLogger.Info("Worker service started successfully")

	if err := g.Wait(); err != nil {
		appLogger.Error("Worker service stopped with error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// queueBackend is the queue the dispatcher polls plus its lifecycle hooks
type queueBackend struct {
	queue   worker.Queue
	health  router.HealthChecker
	release func() int
	close   func()
}

// initQueue connects the configured broker
func initQueue(cfg *config.Config, logger *slog.Logger) (*queueBackend, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		rdb, err := redisclient.NewClient(redisConfig(&cfg.Redis), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		logger.Info("Redis connection established")

		q := queue.NewRedis(rdb, cfg.Queue.Name, logger)
		return &queueBackend{
			queue:   q,
			health:  q,
			release: func() int { return 0 },
			close:   func() { _ = rdb.Close() },
		}, nil
	default:
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		logger.Info("RabbitMQ connection established")

		q := queue.NewRabbitMQ(rabbitClient, logger)
		return &queueBackend{
			queue:   q,
			health:  rabbitClient,
			release: q.Release,
			close:   func() { _ = rabbitClient.Close() },
		}, nil
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

func redisConfig(cfg *config.RedisConfig) *redisclient.Config {
	return &redisclient.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

func scholarConfig(cfg *config.SemanticScholarConfig) scholar.Config {
	return scholar.Config{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
}

// initRouter builds the health and status router
func initRouter(environment string, logger *slog.Logger, w *worker.Worker, db *postgresql.Client, broker router.HealthChecker) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return router.SetupWorkerRouter(logger, w, db, broker)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/engine"
	"github.com/power4-engine/internal/handler"
	"github.com/power4-engine/internal/kafka"
	"github.com/power4-engine/internal/memstore"
	"github.com/power4-engine/internal/postgres"
	"github.com/power4-engine/internal/rating"
	"github.com/power4-engine/internal/redis"
	"github.com/power4-engine/internal/service"
	"github.com/power4-engine/internal/websocket"
	"github.com/power4-engine/internal/worker"
)

// storage is everything the server needs from the game and rating store
type storage interface {
	engine.Store
	service.RatingReader
	service.IdleGameLister
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyChecks := map[string]handler.ReadyCheck{}

	// Initialize storage
	var store storage
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage, games and ratings are lost on restart")
		store = memstore.New()
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		logger.Info("connected to PostgreSQL")

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		readyChecks["postgres"] = repo.Ping
		store = repo
	}

	// Initialize the engine
	calc := rating.NewCalculator(cfg.Rating.Table())
	gameEngine := engine.New(store, calc, &cfg.Game, logger)

	// Initialize services
	leaderboardService := service.NewLeaderboardService(store, &cfg.Leaderboard, logger)
	gameService := service.NewGameService(gameEngine, store, leaderboardService, logger)

	// Initialize Redis
	var syncWorker *worker.SyncWorker
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisService, err := redis.NewLeaderboardService(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisService.Close()
		logger.Info("connected to Redis")

		leaderboardService.SetCache(redisService)
		readyChecks["redis"] = redisService.Ping

		syncWorker = worker.NewSyncWorker(redisService, store, &cfg.Sync, logger)

		// Rebuild the cache from the durable records on startup (recovery)
		if err := syncWorker.RebuildFromDatabase(ctx); err != nil {
			logger.Warn("failed to rebuild leaderboard on startup", "error", err)
		}
		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	// Initialize Kafka
	var kafkaProducer *kafka.Producer
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka producer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaProducer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, writing the leaderboard directly", "error", err)
			kafkaProducer = nil
		} else {
			gameService.SetPublisher(kafkaProducer)
		}

		if cfg.Kafka.ConsumeEvents {
			kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
			if err != nil {
				logger.Warn("failed to create Kafka consumer, continuing without it", "error", err)
				kafkaConsumer = nil
			} else if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without it", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	gameService.SetHub(wsHub)
	logger.Info("WebSocket hub initialized")

	// Initialize idle game sweeper
	var sweeper *worker.Sweeper
	if cfg.Sweeper.Enabled {
		sweeper, err = worker.NewSweeper(gameService, &cfg.Sweeper, logger)
		if err != nil {
			logger.Error("failed to create idle game sweeper", "error", err)
			os.Exit(1)
		}
		sweeper.Start()
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(gameService, leaderboardService, wsHub, &cfg.Auth, logger)
	for name, check := range readyChecks {
		httpHandler.AddReadyCheck(name, check)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first so no commit misses its fan-out
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if sweeper != nil {
		if err := sweeper.Stop(); err != nil {
			logger.Error("failed to stop idle game sweeper", "error", err)
		}
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	logger.Info("server stopped")
}

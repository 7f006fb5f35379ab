// Command settlement-replay publishes every stored rating record to the
// settlement topic so that consumers can rebuild their leaderboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/kafka"
	"github.com/power4-engine/internal/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	pageSize := flag.Int("page", 500, "Rating records per event")
	dryRun := flag.Bool("dry-run", false, "Count records without publishing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *pageSize <= 0 {
		log.Fatalf("Page size must be positive, got %d", *pageSize)
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Settlement Replay")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Database:         %s@%s/%s\n", cfg.Postgres.User, cfg.Postgres.Host, cfg.Postgres.Database)
	fmt.Printf("  Brokers:          %v\n", cfg.Kafka.Brokers)
	fmt.Printf("  Topic:            %s\n", cfg.Kafka.Topic)
	fmt.Printf("  Page size:        %d\n", *pageSize)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	if *dryRun {
		total := 0
		for offset := 0; ; offset += *pageSize {
			page, err := repo.ListRatings(ctx, *pageSize, offset)
			if err != nil {
				log.Fatalf("Failed to list ratings: %v", err)
			}
			total += len(page)
			if len(page) < *pageSize {
				break
			}
		}
		fmt.Printf("Dry run: %d rating records would be replayed\n", total)
		return
	}

	// Configure Sarama producer
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Compression = sarama.CompressionSnappy
	saramaCfg.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaCfg.Producer.Flush.Messages = 100
	saramaCfg.Producer.Retry.Max = cfg.Kafka.RetryAttempts
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	records := 0
	start := time.Now()
replay:
	for offset := 0; ; offset += *pageSize {
		page, err := repo.ListRatings(ctx, *pageSize, offset)
		if err != nil {
			log.Printf("Failed to list ratings at offset %d: %v", offset, err)
			break
		}
		if len(page) == 0 {
			break
		}

		msg, err := kafka.Message(cfg.Kafka.Topic, kafka.NewReplayEvent(page))
		if err != nil {
			log.Printf("Failed to encode page at offset %d: %v", offset, err)
			break
		}

		select {
		case producer.Input() <- msg:
		case <-ctx.Done():
			fmt.Println("\nInterrupted, flushing...")
			break replay
		}

		records += len(page)
		fmt.Printf("\r  Progress: %d records", records)
		if len(page) < *pageSize {
			break
		}
	}

	producer.AsyncClose()
	wg.Wait()

	fmt.Printf("\n✓ Completed in %s. Records: %d, Events sent: %d, Errors: %d\n",
		time.Since(start).Round(time.Millisecond),
		records,
		atomic.LoadInt64(&successCount),
		atomic.LoadInt64(&errorCount),
	)
	if atomic.LoadInt64(&errorCount) > 0 {
		os.Exit(1)
	}
}

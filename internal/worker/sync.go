package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
)

// RatingSource pages through the durable rating records
type RatingSource interface {
	ListRatings(ctx context.Context, limit, offset int) ([]domain.RatingRecord, error)
}

// LeaderboardWriter is the cache the worker keeps in step with the store
type LeaderboardWriter interface {
	ApplyRecords(ctx context.Context, records []domain.RatingRecord) error
	BatchSetRatings(ctx context.Context, records []domain.RatingRecord) error
	Reset(ctx context.Context) error
}

// SyncWorker periodically copies rating records from the database into the
// leaderboard cache
type SyncWorker struct {
	cache   LeaderboardWriter
	ratings RatingSource
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	cache LeaderboardWriter,
	ratings RatingSource,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		cache:   cache,
		ratings: ratings,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	// Records applied through the guarded path never overwrite a newer
	// settlement that reached the cache during the cycle.
	count, err := w.eachPage(ctx, w.cache.ApplyRecords)
	if err != nil {
		w.logger.Error("sync cycle failed", "synced", count, "error", err)
		return
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", count,
	)
}

// RebuildFromDatabase clears the leaderboard and reloads every rating record.
// Meant for startup, before settlements start flowing.
func (w *SyncWorker) RebuildFromDatabase(ctx context.Context) error {
	w.logger.Info("rebuilding leaderboard from database")

	if err := w.cache.Reset(ctx); err != nil {
		return err
	}
	count, err := w.eachPage(ctx, w.cache.BatchSetRatings)
	if err != nil {
		return err
	}

	w.logger.Info("rebuilt leaderboard from database", "player_count", count)
	return nil
}

// eachPage feeds the rating records to fn one batch at a time
func (w *SyncWorker) eachPage(ctx context.Context, fn func(context.Context, []domain.RatingRecord) error) (int, error) {
	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	total := 0
	for offset := 0; ; offset += batchSize {
		page, err := w.ratings.ListRatings(ctx, batchSize, offset)
		if err != nil {
			return total, fmt.Errorf("listing ratings at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			return total, nil
		}
		if err := fn(ctx, page); err != nil {
			return total, err
		}
		total += len(page)
		if len(page) < batchSize {
			return total, nil
		}
	}
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}

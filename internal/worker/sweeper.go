package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/power4-engine/internal/config"
)

// IdleGameCloser abandons games nobody has moved in for a while
type IdleGameCloser interface {
	AbandonIdleGames(ctx context.Context, idleFor time.Duration, limit int) (int, error)
}

// Sweeper abandons idle games on a schedule
type Sweeper struct {
	games     IdleGameCloser
	config    *config.SweeperConfig
	logger    *slog.Logger
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewSweeper creates the scheduler and registers the sweep job. Nothing runs
// until Start.
func NewSweeper(games IdleGameCloser, cfg *config.SweeperConfig, logger *slog.Logger) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		games:     games,
		config:    cfg,
		logger:    logger,
		scheduler: scheduler,
		ctx:       ctx,
		cancel:    cancel,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(func() { s.RunOnce(s.ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("abandon-idle-games"),
	)
	if err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("scheduling sweep: %w", err)
	}
	return s, nil
}

// Start begins running the sweep job
func (s *Sweeper) Start() {
	s.scheduler.Start()
	s.logger.Info("idle game sweeper started",
		"interval", s.config.Interval,
		"idle_timeout", s.config.IdleTimeout,
	)
}

// Stop cancels an in-flight sweep and waits for the scheduler to wind down
func (s *Sweeper) Stop() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	s.logger.Info("idle game sweeper stopped")
	return nil
}

// RunOnce abandons up to one batch of idle games
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.games.AbandonIdleGames(ctx, s.config.IdleTimeout, s.config.BatchSize)
	if err != nil {
		s.logger.Error("idle game sweep failed", "abandoned", n, "error", err)
		return n
	}
	if n > 0 {
		s.logger.Info("abandoned idle games", "count", n)
	}
	return n
}

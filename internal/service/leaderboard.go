package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
)

// RatingReader reads the authoritative rating records
type RatingReader interface {
	GetRating(ctx context.Context, userID int64) (*domain.RatingRecord, error)
	ListRatings(ctx context.Context, limit, offset int) ([]domain.RatingRecord, error)
}

// RatingCache is the ranked copy of the rating records
type RatingCache interface {
	ApplyRecords(ctx context.Context, records []domain.RatingRecord) error
	GetTopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
	GetPlayer(ctx context.Context, playerID int64) (*domain.LeaderboardEntry, error)
}

// LeaderboardService answers rating leaderboard queries from the cache when
// one is configured and from the store otherwise
type LeaderboardService struct {
	ratings RatingReader
	cache   RatingCache
	config  *config.LeaderboardConfig
	logger  *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(ratings RatingReader, cfg *config.LeaderboardConfig, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{
		ratings: ratings,
		config:  cfg,
		logger:  logger,
	}
}

// SetCache sets the rating cache
func (s *LeaderboardService) SetCache(cache RatingCache) {
	s.cache = cache
}

// ApplyRecords copies committed rating records into the cache
func (s *LeaderboardService) ApplyRecords(ctx context.Context, records []domain.RatingRecord) error {
	if s.cache == nil || len(records) == 0 {
		return nil
	}
	if err := s.cache.ApplyRecords(ctx, records); err != nil {
		return fmt.Errorf("updating rating cache: %w", err)
	}
	return nil
}

// ApplySettlements applies a batch of settlement events
func (s *LeaderboardService) ApplySettlements(ctx context.Context, events []domain.SettlementEvent) error {
	for _, ev := range events {
		if err := s.ApplyRecords(ctx, ev.Records); err != nil {
			s.logger.Error("failed to apply settlement",
				"event_id", ev.EventID,
				"game_id", ev.GameID,
				"error", err,
			)
			// Continue processing other events
		}
	}
	return nil
}

// GetTopN returns the N highest rated players
func (s *LeaderboardService) GetTopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	// Validate limit
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}

	if s.cache != nil {
		entries, err := s.cache.GetTopN(ctx, n)
		if err == nil {
			return entries, nil
		}
		s.logger.Warn("rating cache unavailable, reading store", "error", err)
	}

	records, err := s.ratings.ListRatings(ctx, n, 0)
	if err != nil {
		return nil, fmt.Errorf("listing ratings: %w", err)
	}
	entries := make([]domain.LeaderboardEntry, len(records))
	for i, rec := range records {
		entries[i] = domain.LeaderboardEntry{
			Rank:        int64(i + 1),
			PlayerID:    rec.UserID,
			Rating:      rec.Rating,
			GamesPlayed: rec.GamesPlayed,
		}
	}
	return entries, nil
}

// GetPlayer returns a player's rating record and, when the cache has it, rank
func (s *LeaderboardService) GetPlayer(ctx context.Context, playerID int64) (*domain.PlayerStanding, error) {
	rec, err := s.ratings.GetRating(ctx, playerID)
	if err != nil {
		return nil, err
	}

	standing := &domain.PlayerStanding{RatingRecord: *rec}
	if s.cache != nil {
		entry, err := s.cache.GetPlayer(ctx, playerID)
		switch {
		case err == nil:
			standing.Rank = entry.Rank
		case !domain.IsNotFoundError(err):
			s.logger.Warn("failed to read rank", "player_id", playerID, "error", err)
		}
	}
	return standing, nil
}

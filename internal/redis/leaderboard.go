package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

const leaderboardKey = "ratings:leaderboard"

// applyRecord writes a rating record unless the cached one has already seen
// more games. Settlement events can arrive late or twice.
var applyRecord = redis.NewScript(`
local seen = redis.call('HGET', KEYS[2], 'games_played')
if seen and tonumber(seen) > tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[6])
redis.call('HSET', KEYS[2], 'rating', ARGV[1], 'games_played', ARGV[2], 'wins', ARGV[3], 'losses', ARGV[4], 'draws', ARGV[5])
return 1
`)

// LeaderboardService provides the Redis-cached rating leaderboard
type LeaderboardService struct {
	client *redis.Client
	logger *slog.Logger
}

// NewLeaderboardService creates a new Redis leaderboard service
func NewLeaderboardService(cfg *config.RedisConfig, logger *slog.Logger) (*LeaderboardService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewLeaderboardServiceWithClient(client, logger), nil
}

// NewLeaderboardServiceWithClient wraps an existing client
func NewLeaderboardServiceWithClient(client *redis.Client, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *LeaderboardService) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *LeaderboardService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// playerKey returns the Redis key for a player's rating details
func playerKey(playerID int64) string {
	return fmt.Sprintf("player:%d:rating", playerID)
}

func member(playerID int64) string {
	return strconv.FormatInt(playerID, 10)
}

// ApplyRecords stores post-settlement rating records. A record older than the
// cached one, judged by games played, is skipped.
func (s *LeaderboardService) ApplyRecords(ctx context.Context, records []domain.RatingRecord) error {
	for _, rec := range records {
		applied, err := applyRecord.Run(ctx, s.client,
			[]string{leaderboardKey, playerKey(rec.UserID)},
			rec.Rating, rec.GamesPlayed, rec.Wins, rec.Losses, rec.Draws, member(rec.UserID),
		).Int()
		if err != nil {
			return fmt.Errorf("applying rating of %d: %w", rec.UserID, err)
		}
		if applied == 0 {
			s.logger.Debug("skipped stale rating record", "player_id", rec.UserID, "games_played", rec.GamesPlayed)
		}
	}
	return nil
}

// BatchSetRatings overwrites ratings using pipelining
func (s *LeaderboardService) BatchSetRatings(ctx context.Context, records []domain.RatingRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, rec := range records {
		pipe.ZAdd(ctx, leaderboardKey, redis.Z{
			Score:  float64(rec.Rating),
			Member: member(rec.UserID),
		})
		pipe.HSet(ctx, playerKey(rec.UserID),
			"rating", rec.Rating,
			"games_played", rec.GamesPlayed,
			"wins", rec.Wins,
			"losses", rec.Losses,
			"draws", rec.Draws,
		)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("batch setting ratings: %w", err)
	}
	return nil
}

// GetTopN returns the N highest rated players
func (s *LeaderboardService) GetTopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	if len(results) == 0 {
		return entries, nil
	}

	pipe := s.client.Pipeline()
	games := make([]*redis.StringCmd, len(results))
	for i, result := range results {
		id, err := strconv.ParseInt(result.Member.(string), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing member %v: %w", result.Member, err)
		}
		entries[i] = domain.LeaderboardEntry{
			Rank:     int64(i + 1),
			PlayerID: id,
			Rating:   int(result.Score),
		}
		games[i] = pipe.HGet(ctx, playerKey(id), "games_played")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting games played: %w", err)
	}
	for i, cmd := range games {
		entries[i].GamesPlayed, _ = cmd.Int()
	}
	return entries, nil
}

// GetPlayer returns a player's rank and rating
func (s *LeaderboardService) GetPlayer(ctx context.Context, playerID int64) (*domain.LeaderboardEntry, error) {
	// Use pipeline to get rank, rating and games played together
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, leaderboardKey, member(playerID))
	scoreCmd := pipe.ZScore(ctx, leaderboardKey, member(playerID))
	gamesCmd := pipe.HGet(ctx, playerKey(playerID), "games_played")
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: player %d is not ranked", domain.ErrNotFound, playerID)
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}

	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}
	games, _ := gamesCmd.Int()

	return &domain.LeaderboardEntry{
		Rank:        rank + 1, // Convert 0-indexed to 1-indexed
		PlayerID:    playerID,
		Rating:      int(score),
		GamesPlayed: games,
	}, nil
}

// GetCount returns the number of ranked players
func (s *LeaderboardService) GetCount(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, leaderboardKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// Reset clears the ranking. Player detail hashes are left for the next
// rebuild to overwrite.
func (s *LeaderboardService) Reset(ctx context.Context) error {
	err := s.client.Del(ctx, leaderboardKey).Err()
	if err != nil {
		return fmt.Errorf("resetting leaderboard: %w", err)
	}
	return nil
}

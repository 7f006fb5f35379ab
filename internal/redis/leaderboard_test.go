package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/power4-engine/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*LeaderboardService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLeaderboardServiceWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestApplyRecords(t *testing.T) {
	s, mr := newTestService(t)
	ctx := context.Background()

	err := s.ApplyRecords(ctx, []domain.RatingRecord{
		{UserID: 1, Rating: 1220, GamesPlayed: 1, Wins: 1},
		{UserID: 2, Rating: 1180, GamesPlayed: 1, Losses: 1},
	})
	require.NoError(t, err)

	score, err := mr.ZScore(leaderboardKey, "1")
	require.NoError(t, err)
	assert.Equal(t, float64(1220), score)
	assert.Equal(t, "1", mr.HGet("player:2:rating", "losses"))

	top, err := s.GetTopN(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, domain.LeaderboardEntry{Rank: 1, PlayerID: 1, Rating: 1220, GamesPlayed: 1}, top[0])
	assert.Equal(t, int64(2), top[1].PlayerID)
}

func TestApplyRecordsSkipsStale(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyRecords(ctx, []domain.RatingRecord{{UserID: 1, Rating: 1260, GamesPlayed: 3}}))
	require.NoError(t, s.ApplyRecords(ctx, []domain.RatingRecord{{UserID: 1, Rating: 1240, GamesPlayed: 2}}))

	entry, err := s.GetPlayer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1260, entry.Rating)
	assert.Equal(t, 3, entry.GamesPlayed)
}

func TestGetPlayer(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.BatchSetRatings(ctx, []domain.RatingRecord{
		{UserID: 1, Rating: 1100, GamesPlayed: 4},
		{UserID: 2, Rating: 1500, GamesPlayed: 40},
		{UserID: 3, Rating: 1300, GamesPlayed: 12},
	}))

	entry, err := s.GetPlayer(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Rank)
	assert.Equal(t, 1300, entry.Rating)
	assert.Equal(t, 12, entry.GamesPlayed)

	_, err = s.GetPlayer(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	count, err := s.GetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestGetTopNLimitAndReset(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.BatchSetRatings(ctx, []domain.RatingRecord{
		{UserID: 1, Rating: 1100},
		{UserID: 2, Rating: 1500},
		{UserID: 3, Rating: 1300},
	}))

	top, err := s.GetTopN(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(2), top[0].PlayerID)
	assert.Equal(t, int64(3), top[1].PlayerID)
	assert.Equal(t, int64(2), top[1].Rank)

	require.NoError(t, s.Reset(ctx))
	top, err = s.GetTopN(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
	"github.com/power4-engine/internal/engine"
	"github.com/power4-engine/internal/memstore"
	"github.com/power4-engine/internal/rating"
	rediscache "github.com/power4-engine/internal/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHub struct {
	mu       sync.Mutex
	moves    []*domain.MoveResult
	finishes []*domain.Settlement
}

func (h *recordingHub) BroadcastMove(result *domain.MoveResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moves = append(h.moves, result)
}

func (h *recordingHub) BroadcastFinish(settlement *domain.Settlement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finishes = append(h.finishes, settlement)
}

type recordingPublisher struct {
	err       error
	published []*domain.Settlement
}

func (p *recordingPublisher) PublishSettlement(ctx context.Context, settlement *domain.Settlement) error {
	p.published = append(p.published, settlement)
	return p.err
}

type fixture struct {
	games       *GameService
	leaderboard *LeaderboardService
	store       *memstore.Store
	cache       *rediscache.LeaderboardService
	hub         *recordingHub
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	eng := engine.New(store, rating.NewCalculator(rating.DefaultConfig()), &config.GameConfig{DefaultRows: 6, DefaultCols: 7}, logger)

	f := &fixture{store: store, hub: &recordingHub{}}
	f.leaderboard = NewLeaderboardService(store, &config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 2}, logger)
	if withCache {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		f.cache = rediscache.NewLeaderboardServiceWithClient(client, logger)
		f.leaderboard.SetCache(f.cache)
	}
	f.games = NewGameService(eng, store, f.leaderboard, logger)
	f.games.SetHub(f.hub)
	return f
}

func (f *fixture) startGame(t *testing.T, p1, p2 int64) int64 {
	t.Helper()
	g, err := f.games.CreateGame(context.Background(), domain.CreateGameRequest{Player1ID: p1, Player2ID: &p2})
	require.NoError(t, err)
	return g.ID
}

func finishWon(gameID, winner int64) domain.FinishRequest {
	return domain.FinishRequest{
		GameID:       gameID,
		FinishIntent: domain.FinishIntent{Status: domain.GameStatusFinished, WinnerID: domain.Int64(winner)},
	}
}

func TestRatedFinishUpdatesCache(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id := f.startGame(t, 1, 2)

	_, err := f.games.FinishGame(ctx, finishWon(id, 2))
	require.NoError(t, err)

	require.Len(t, f.hub.finishes, 1)
	top, err := f.cache.GetTopN(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(2), top[0].PlayerID)
	assert.Equal(t, 1220, top[0].Rating)

	standing, err := f.leaderboard.GetPlayer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), standing.Rank)
	assert.Equal(t, 1180, standing.Rating)
	assert.Equal(t, 1, standing.Losses)
}

func TestRatedFinishIsPublished(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	pub := &recordingPublisher{}
	f.games.SetPublisher(pub)
	id := f.startGame(t, 1, 2)

	_, err := f.games.FinishGame(ctx, finishWon(id, 1))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Equal(t, id, pub.published[0].GameID)
	count, err := f.cache.GetCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPublishFailureFallsBackToCache(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.games.SetPublisher(&recordingPublisher{err: errors.New("broker down")})
	id := f.startGame(t, 1, 2)

	res, err := f.games.FinishGame(ctx, finishWon(id, 1))
	require.NoError(t, err)
	assert.True(t, res.Settlement.RatingUpdated)

	count, err := f.cache.GetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUnratedFinishIsNotPropagated(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	pub := &recordingPublisher{}
	f.games.SetPublisher(pub)
	id := f.startGame(t, 1, 2)

	_, err := f.games.FinishGame(ctx, domain.FinishRequest{
		GameID:       id,
		FinishIntent: domain.FinishIntent{Status: domain.GameStatusAbandoned},
	})
	require.NoError(t, err)

	assert.Len(t, f.hub.finishes, 1)
	assert.Empty(t, pub.published)
}

func TestMovesAreBroadcastOnlyAfterCommit(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.startGame(t, 1, 2)

	_, err := f.games.PlayMove(ctx, domain.PlayRequest{GameID: id, PlayerID: 2, Column: 0})
	assert.ErrorIs(t, err, domain.ErrTurnMismatch)
	assert.Empty(t, f.hub.moves)

	res, err := f.games.PlayMove(ctx, domain.PlayRequest{GameID: id, PlayerID: 1, Column: 0})
	require.NoError(t, err)
	require.Len(t, f.hub.moves, 1)
	assert.Equal(t, res, f.hub.moves[0])

	_, err = f.games.SubmitMove(ctx, domain.MoveRequest{
		GameID:   id,
		PlayerID: 2,
		Column:   0,
		Row:      1,
		Finish:   &domain.FinishIntent{Status: domain.GameStatusFinished, WinnerID: domain.Int64(2)},
	})
	require.NoError(t, err)
	assert.Len(t, f.hub.moves, 2)
	assert.Len(t, f.hub.finishes, 1)
}

func TestGetTopNFallsBackToStore(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for _, p := range []int64{2, 3, 4} {
		id := f.startGame(t, 1, p)
		_, err := f.games.FinishGame(ctx, finishWon(id, 1))
		require.NoError(t, err)
	}

	// MaxLimit caps the request
	top, err := f.leaderboard.GetTopN(ctx, 50)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(1), top[0].PlayerID)
	assert.Equal(t, 3, top[0].GamesPlayed)
	assert.Equal(t, int64(2), top[1].Rank)

	standing, err := f.leaderboard.GetPlayer(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, standing.Rank)
	assert.Equal(t, 3, standing.Wins)

	_, err = f.leaderboard.GetPlayer(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplySettlements(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	err := f.leaderboard.ApplySettlements(ctx, []domain.SettlementEvent{
		{GameID: 1, Records: []domain.RatingRecord{{UserID: 1, Rating: 1220, GamesPlayed: 1}, {UserID: 2, Rating: 1180, GamesPlayed: 1}}},
		{GameID: 2, Records: []domain.RatingRecord{{UserID: 1, Rating: 1238, GamesPlayed: 2}, {UserID: 3, Rating: 1182, GamesPlayed: 1}}},
	})
	require.NoError(t, err)

	entry, err := f.cache.GetPlayer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1238, entry.Rating)
	assert.Equal(t, int64(1), entry.Rank)
}

func TestAbandonIdleGames(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	idle1 := f.startGame(t, 1, 2)
	idle2 := f.startGame(t, 3, 4)
	done := f.startGame(t, 5, 6)
	_, err := f.games.FinishGame(ctx, finishWon(done, 5))
	require.NoError(t, err)

	f.games.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := f.games.AbandonIdleGames(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []int64{idle1, idle2} {
		g, err := f.store.GetGame(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.GameStatusAbandoned, g.Status)
	}
	_, err = f.store.GetRating(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, err = f.games.AbandonIdleGames(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

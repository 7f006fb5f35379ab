package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/power4-engine/internal/domain"
	"github.com/power4-engine/internal/engine"
)

// fanoutTimeout bounds post-commit notifications
const fanoutTimeout = 5 * time.Second

// Notifier pushes game events to watching clients
type Notifier interface {
	BroadcastMove(result *domain.MoveResult)
	BroadcastFinish(settlement *domain.Settlement)
}

// SettlementPublisher publishes rated settlements
type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, settlement *domain.Settlement) error
}

// IdleGameLister finds active games nobody has moved in
type IdleGameLister interface {
	IdleGames(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// GameService runs engine operations and, once they have committed, notifies
// watchers and propagates rating changes. Failures after the commit are
// logged and never undo or fail the operation.
type GameService struct {
	engine      *engine.Engine
	games       IdleGameLister
	leaderboard *LeaderboardService
	hub         Notifier
	publisher   SettlementPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewGameService creates a new game service
func NewGameService(
	engine *engine.Engine,
	games IdleGameLister,
	leaderboard *LeaderboardService,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		engine:      engine,
		games:       games,
		leaderboard: leaderboard,
		logger:      logger,
		now:         time.Now,
	}
}

// SetHub sets the WebSocket hub for broadcasting
func (s *GameService) SetHub(hub Notifier) {
	s.hub = hub
}

// SetPublisher routes rated settlements through a publisher instead of
// writing the cache directly
func (s *GameService) SetPublisher(publisher SettlementPublisher) {
	s.publisher = publisher
}

// CreateGame starts a new game
func (s *GameService) CreateGame(ctx context.Context, req domain.CreateGameRequest) (*domain.Game, error) {
	return s.engine.CreateGame(ctx, req)
}

// GetGame returns a game with its moves
func (s *GameService) GetGame(ctx context.Context, gameID int64) (*domain.GameView, error) {
	return s.engine.GetGame(ctx, gameID)
}

// SubmitMove commits a client-computed move
func (s *GameService) SubmitMove(ctx context.Context, req domain.MoveRequest) (*domain.MoveResult, error) {
	result, err := s.engine.CommitMove(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterMove(ctx, result)
	return result, nil
}

// PlayMove commits a move given only its column
func (s *GameService) PlayMove(ctx context.Context, req domain.PlayRequest) (*domain.MoveResult, error) {
	result, err := s.engine.PlayMove(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterMove(ctx, result)
	return result, nil
}

// AutoMove plays a random legal move for the player whose turn ran out
func (s *GameService) AutoMove(ctx context.Context, gameID int64) (*domain.MoveResult, error) {
	result, err := s.engine.AutoMove(ctx, gameID)
	if err != nil {
		return nil, err
	}
	s.afterMove(ctx, result)
	return result, nil
}

// FinishGame closes a game without a move
func (s *GameService) FinishGame(ctx context.Context, req domain.FinishRequest) (*domain.FinishResult, error) {
	result, err := s.engine.FinishGame(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterSettle(ctx, result.Settlement)
	return result, nil
}

// AbandonIdleGames closes up to limit active games that have not changed for
// idleFor. Games finished concurrently are skipped.
func (s *GameService) AbandonIdleGames(ctx context.Context, idleFor time.Duration, limit int) (int, error) {
	ids, err := s.games.IdleGames(ctx, s.now().Add(-idleFor), limit)
	if err != nil {
		return 0, fmt.Errorf("listing idle games: %w", err)
	}

	abandoned := 0
	for _, id := range ids {
		_, err := s.FinishGame(ctx, domain.FinishRequest{
			GameID:       id,
			FinishIntent: domain.FinishIntent{Status: domain.GameStatusAbandoned},
		})
		switch {
		case err == nil:
			abandoned++
		case errors.Is(err, domain.ErrGameNotActive):
		default:
			return abandoned, fmt.Errorf("abandoning game %d: %w", id, err)
		}
	}
	return abandoned, nil
}

func (s *GameService) afterMove(ctx context.Context, result *domain.MoveResult) {
	if s.hub != nil {
		s.hub.BroadcastMove(result)
	}
	if result.Settlement != nil {
		s.afterSettle(ctx, result.Settlement)
	}
}

func (s *GameService) afterSettle(ctx context.Context, settlement *domain.Settlement) {
	if s.hub != nil {
		s.hub.BroadcastFinish(settlement)
	}
	if !settlement.RatingUpdated {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanoutTimeout)
	defer cancel()

	if s.publisher != nil {
		err := s.publisher.PublishSettlement(ctx, settlement)
		if err == nil {
			return
		}
		s.logger.Error("failed to publish settlement, updating cache directly",
			"game_id", settlement.GameID,
			"error", err,
		)
	}

	if err := s.leaderboard.ApplyRecords(ctx, settlement.Records); err != nil {
		s.logger.Error("failed to update leaderboard", "game_id", settlement.GameID, "error", err)
	}
}

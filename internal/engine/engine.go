// Package engine commits moves and settles games. Every mutation runs in one
// store transaction that starts by locking the game row, so all work on a
// game is linearized while different games proceed independently.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/power4-engine/internal/board"
	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
	"github.com/power4-engine/internal/rating"
)

// Engine is the move-commit and settlement core
type Engine struct {
	store  Store
	calc   *rating.Calculator
	config *config.GameConfig
	logger *slog.Logger
	now    func() time.Time
	// pick returns an index in [0, n) for automatic moves
	pick func(n int) int
}

// New creates a new engine
func New(store Store, calc *rating.Calculator, cfg *config.GameConfig, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		calc:   calc,
		config: cfg,
		logger: logger,
		now:    time.Now,
		pick:   rand.IntN,
	}
}

// CreateGame starts an active game with player 1 to move.
func (e *Engine) CreateGame(ctx context.Context, req domain.CreateGameRequest) (*domain.Game, error) {
	if req.Player1ID <= 0 {
		return nil, fmt.Errorf("%w: player1_id required", domain.ErrInvalidRequest)
	}
	if req.Player2ID != nil && (*req.Player2ID <= 0 || *req.Player2ID == req.Player1ID) {
		return nil, fmt.Errorf("%w: player2_id must be a different player", domain.ErrInvalidRequest)
	}

	dims := board.Dimensions{Rows: req.Rows, Cols: req.Cols}
	if dims.Rows == 0 {
		dims.Rows = e.config.DefaultRows
	}
	if dims.Cols == 0 {
		dims.Cols = e.config.DefaultCols
	}
	if err := dims.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	g := &domain.Game{
		Status:       domain.GameStatusActive,
		Rows:         dims.Rows,
		Cols:         dims.Cols,
		Player1ID:    req.Player1ID,
		Player2ID:    req.Player2ID,
		PlayerToMove: domain.Int64(req.Player1ID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateGame(ctx, g); err != nil {
		return nil, fmt.Errorf("creating game: %w", err)
	}

	e.logger.Info("game created", "game_id", g.ID, "player1_id", g.Player1ID, "rows", g.Rows, "cols", g.Cols)
	return g, nil
}

// GetGame returns a game and its moves ordered by move number. It takes no
// locks.
func (e *Engine) GetGame(ctx context.Context, gameID int64) (*domain.GameView, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	moves, err := e.store.ListMoves(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing moves: %w", err)
	}
	if moves == nil {
		moves = []domain.Move{}
	}
	return &domain.GameView{Game: *g, Moves: moves, Draw: g.IsDraw()}, nil
}

// lockActive locks the game row and checks it is still being played.
func lockActive(ctx context.Context, tx Tx, gameID int64) (*domain.Game, error) {
	g, err := tx.LockGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status != domain.GameStatusActive {
		return nil, fmt.Errorf("%w: game %d is %s", domain.ErrGameNotActive, gameID, g.Status)
	}
	return g, nil
}

func dimensions(g *domain.Game) board.Dimensions {
	return board.Dimensions{Rows: g.Rows, Cols: g.Cols}
}

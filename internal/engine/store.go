package engine

import (
	"context"
	"time"

	"github.com/power4-engine/internal/domain"
)

// Store is the persistent state the engine works against.
type Store interface {
	// RunInTx runs fn in a single transaction. It commits when fn returns nil
	// and rolls back otherwise; fn's error is returned unchanged.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	CreateGame(ctx context.Context, g *domain.Game) error
	GetGame(ctx context.Context, gameID int64) (*domain.Game, error)
	ListMoves(ctx context.Context, gameID int64) ([]domain.Move, error)
}

// Tx is one open transaction. Locks taken through it are held until the
// transaction ends.
type Tx interface {
	// LockGame reads the game row under an exclusive lock.
	LockGame(ctx context.Context, gameID int64) (*domain.Game, error)
	ColumnHeight(ctx context.Context, gameID int64, column int) (int, error)
	NextMoveNo(ctx context.Context, gameID int64) (int, error)
	ListMoves(ctx context.Context, gameID int64) ([]domain.Move, error)
	InsertMove(ctx context.Context, m *domain.Move) error
	SetPlayerToMove(ctx context.Context, gameID, playerID int64, at time.Time) error
	CloseGame(ctx context.Context, gameID int64, status domain.GameStatus, winnerID *int64, at time.Time) error

	// LockRating reads a player's rating record under an exclusive lock,
	// creating it with defaultRating first if it does not exist.
	LockRating(ctx context.Context, userID int64, defaultRating int) (*domain.RatingRecord, error)
	SaveRating(ctx context.Context, rec *domain.RatingRecord) error
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/power4-engine/internal/domain"
)

// txStore runs the engine's transactional reads and writes on one pgx.Tx.
// Game and rating rows are read with SELECT ... FOR UPDATE.
type txStore struct {
	tx pgx.Tx
}

func (t *txStore) LockGame(ctx context.Context, gameID int64) (*domain.Game, error) {
	return getGame(ctx, t.tx, selectGame+` WHERE id = $1 FOR UPDATE`, gameID)
}

func (t *txStore) ColumnHeight(ctx context.Context, gameID int64, column int) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM moves WHERE game_id = $1 AND column_index = $2`,
		gameID, column,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting column %d: %w", column, err)
	}
	return n, nil
}

func (t *txStore) NextMoveNo(ctx context.Context, gameID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(move_no), 0) + 1 FROM moves WHERE game_id = $1`,
		gameID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reading last move number: %w", err)
	}
	return n, nil
}

func (t *txStore) ListMoves(ctx context.Context, gameID int64) ([]domain.Move, error) {
	return listMoves(ctx, t.tx, gameID)
}

func (t *txStore) InsertMove(ctx context.Context, m *domain.Move) error {
	query := `
		INSERT INTO moves (game_id, move_no, player_id, column_index, row_index, disc, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(ctx, query, m.GameID, m.MoveNo, m.PlayerID, m.Column, m.Row, m.Disc, m.PlayedAt)
	return err
}

func (t *txStore) SetPlayerToMove(ctx context.Context, gameID, playerID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE games SET player_to_move = $2, updated_at = $3 WHERE id = $1`,
		gameID, playerID, at,
	)
	return err
}

func (t *txStore) CloseGame(ctx context.Context, gameID int64, status domain.GameStatus, winnerID *int64, at time.Time) error {
	query := `
		UPDATE games
		SET status = $2, winner_id = $3, player_to_move = NULL, finished_at = $4, updated_at = $4
		WHERE id = $1
	`
	_, err := t.tx.Exec(ctx, query, gameID, string(status), winnerID, at)
	return err
}

// LockRating inserts a default record when the player has none, then locks
// the row. Concurrent inserts of the same user collapse on the primary key.
func (t *txStore) LockRating(ctx context.Context, userID int64, defaultRating int) (*domain.RatingRecord, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_ratings (user_id, rating) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, defaultRating,
	)
	if err != nil {
		return nil, fmt.Errorf("creating rating: %w", err)
	}

	rec, err := scanRating(t.tx.QueryRow(ctx, selectRating+` WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("reading rating: %w", err)
	}
	return rec, nil
}

func (t *txStore) SaveRating(ctx context.Context, rec *domain.RatingRecord) error {
	query := `
		UPDATE user_ratings
		SET rating = $2, games_played = $3, wins = $4, losses = $5, draws = $6, updated_at = $7
		WHERE user_id = $1
	`
	_, err := t.tx.Exec(ctx, query, rec.UserID, rec.Rating, rec.GamesPlayed, rec.Wins, rec.Losses, rec.Draws, rec.UpdatedAt)
	return err
}

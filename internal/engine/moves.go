package engine

import (
	"context"
	"fmt"

	"github.com/power4-engine/internal/board"
	"github.com/power4-engine/internal/domain"
)

// CommitMove records a move whose row and successor were computed by the
// caller. The row is re-derived from the stored moves under the game lock and
// the move is rejected if the claim disagrees. When req.Finish is set the game
// is settled in the same transaction.
func (e *Engine) CommitMove(ctx context.Context, req domain.MoveRequest) (*domain.MoveResult, error) {
	if req.GameID <= 0 || req.PlayerID <= 0 {
		return nil, fmt.Errorf("%w: game_id and player_id required", domain.ErrInvalidRequest)
	}

	var result *domain.MoveResult
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		g, err := lockActive(ctx, tx, req.GameID)
		if err != nil {
			return err
		}
		result, err = e.applyMove(ctx, tx, g, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("move committed",
		"game_id", result.GameID,
		"move_no", result.MoveNo,
		"column", result.Column,
		"row", result.Row,
		"finished", result.Finished,
	)
	return result, nil
}

// PlayMove records a move given only its column. The row, the next player and
// any resulting win or draw are derived from the stored moves.
func (e *Engine) PlayMove(ctx context.Context, req domain.PlayRequest) (*domain.MoveResult, error) {
	if req.GameID <= 0 || req.PlayerID <= 0 {
		return nil, fmt.Errorf("%w: game_id and player_id required", domain.ErrInvalidRequest)
	}

	var result *domain.MoveResult
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		g, err := lockActive(ctx, tx, req.GameID)
		if err != nil {
			return err
		}
		if err := checkTurn(g, req.PlayerID); err != nil {
			return err
		}
		grid, err := loadGrid(ctx, tx, g)
		if err != nil {
			return err
		}
		result, err = e.playColumn(ctx, tx, g, grid, req.PlayerID, req.Column)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AutoMove plays for whoever is to move, in a random column that still has
// room. It is what a turn timer calls when the player lets the clock run out.
func (e *Engine) AutoMove(ctx context.Context, gameID int64) (*domain.MoveResult, error) {
	if gameID <= 0 {
		return nil, fmt.Errorf("%w: game_id required", domain.ErrInvalidRequest)
	}

	var result *domain.MoveResult
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		g, err := lockActive(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if g.PlayerToMove == nil {
			return fmt.Errorf("%w: nobody is to move in game %d", domain.ErrMissingParticipant, g.ID)
		}
		grid, err := loadGrid(ctx, tx, g)
		if err != nil {
			return err
		}

		open := grid.OpenColumns()
		if len(open) == 0 {
			return fmt.Errorf("%w: board of game %d is full", domain.ErrInvalidPlacement, g.ID)
		}
		column := open[e.pick(len(open))]

		result, err = e.playColumn(ctx, tx, g, grid, *g.PlayerToMove, column)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("automatic move played", "game_id", gameID, "column", result.Column, "move_no", result.MoveNo)
	return result, nil
}

// loadGrid rebuilds the board of a locked game from its moves
func loadGrid(ctx context.Context, tx Tx, g *domain.Game) (*board.Grid, error) {
	moves, err := tx.ListMoves(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("listing moves: %w", err)
	}
	grid := board.NewGrid(dimensions(g))
	for _, m := range moves {
		grid.Drop(m.Column, m.PlayerID)
	}
	return grid, nil
}

// playColumn drops playerID's disc in column, judges the position and
// commits the move through applyMove.
func (e *Engine) playColumn(ctx context.Context, tx Tx, g *domain.Game, grid *board.Grid, playerID int64, column int) (*domain.MoveResult, error) {
	dims := dimensions(g)
	if column < 0 || column >= dims.Cols {
		return nil, board.Validate(column, 0, 0, dims)
	}
	height := grid.Height(column)
	if err := board.Validate(column, height, height, dims); err != nil {
		return nil, err
	}

	row := grid.Drop(column, playerID)
	move := domain.MoveRequest{
		GameID:   g.ID,
		PlayerID: playerID,
		Column:   column,
		Row:      row,
	}
	switch {
	case grid.ConnectsFour(row, column):
		move.Finish = &domain.FinishIntent{Status: domain.GameStatusFinished, WinnerID: domain.Int64(playerID)}
	case grid.Full():
		move.Finish = &domain.FinishIntent{Status: domain.GameStatusFinished}
	default:
		move.NextPlayerID = domain.Int64(g.OpponentOf(playerID))
	}
	return e.applyMove(ctx, tx, g, move)
}

// applyMove runs the checks and writes of a move against a game already
// locked and known to be active.
func (e *Engine) applyMove(ctx context.Context, tx Tx, g *domain.Game, req domain.MoveRequest) (*domain.MoveResult, error) {
	if err := checkTurn(g, req.PlayerID); err != nil {
		return nil, err
	}

	height, err := tx.ColumnHeight(ctx, g.ID, req.Column)
	if err != nil {
		return nil, fmt.Errorf("counting column: %w", err)
	}
	if err := board.Validate(req.Column, req.Row, height, dimensions(g)); err != nil {
		return nil, err
	}

	moveNo, err := tx.NextMoveNo(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("numbering move: %w", err)
	}

	now := e.now()
	move := &domain.Move{
		GameID:   g.ID,
		MoveNo:   moveNo,
		PlayerID: req.PlayerID,
		Column:   req.Column,
		Row:      height,
		Disc:     g.DiscFor(req.PlayerID),
		PlayedAt: now,
	}
	if err := tx.InsertMove(ctx, move); err != nil {
		return nil, fmt.Errorf("inserting move: %w", err)
	}

	result := &domain.MoveResult{
		GameID: g.ID,
		MoveNo: move.MoveNo,
		Row:    move.Row,
		Column: move.Column,
		Disc:   move.Disc,
	}

	if req.Finish != nil {
		settlement, err := e.settle(ctx, tx, g, *req.Finish)
		if err != nil {
			return nil, err
		}
		result.Finished = true
		result.Settlement = settlement
		return result, nil
	}

	if req.NextPlayerID == nil {
		return nil, fmt.Errorf("%w: next_player_id required when the game continues", domain.ErrMissingParticipant)
	}
	next := *req.NextPlayerID
	if !g.IsParticipant(next) {
		return nil, fmt.Errorf("%w: next player %d does not play in game %d", domain.ErrMissingParticipant, next, g.ID)
	}
	if err := tx.SetPlayerToMove(ctx, g.ID, next, now); err != nil {
		return nil, fmt.Errorf("passing turn: %w", err)
	}
	result.NextPlayerID = domain.Int64(next)
	return result, nil
}

func checkTurn(g *domain.Game, playerID int64) error {
	if g.PlayerToMove == nil || *g.PlayerToMove != playerID {
		return fmt.Errorf("%w: player %d is not to move in game %d", domain.ErrTurnMismatch, playerID, g.ID)
	}
	return nil
}

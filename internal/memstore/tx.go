package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/power4-engine/internal/domain"
)

type tx struct {
	store *Store
	held  map[chan struct{}]bool

	games   map[int64]*domain.Game
	dirty   map[int64]bool
	moves   []domain.Move
	ratings map[int64]*domain.RatingRecord
}

func (t *tx) acquire(ctx context.Context, l chan struct{}) error {
	if t.held[l] {
		return nil
	}
	select {
	case l <- struct{}{}:
		t.held[l] = true
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for row lock: %w", ctx.Err())
	}
}

func (t *tx) release() {
	for l := range t.held {
		<-l
	}
	t.held = nil
}

func (t *tx) LockGame(ctx context.Context, gameID int64) (*domain.Game, error) {
	if err := t.acquire(ctx, t.store.lockFor(t.store.gameLocks, gameID)); err != nil {
		return nil, err
	}
	if g, ok := t.games[gameID]; ok {
		cp := *g
		return &cp, nil
	}
	g, err := t.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	t.games[gameID] = g
	cp := *g
	return &cp, nil
}

func (t *tx) lockedGame(gameID int64) (*domain.Game, error) {
	g, ok := t.games[gameID]
	if !ok {
		return nil, fmt.Errorf("game %d is not locked by this transaction", gameID)
	}
	return g, nil
}

func (t *tx) ListMoves(ctx context.Context, gameID int64) ([]domain.Move, error) {
	moves, err := t.store.ListMoves(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, m := range t.moves {
		if m.GameID == gameID {
			moves = append(moves, m)
		}
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].MoveNo < moves[j].MoveNo })
	return moves, nil
}

func (t *tx) ColumnHeight(ctx context.Context, gameID int64, column int) (int, error) {
	moves, err := t.ListMoves(ctx, gameID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range moves {
		if m.Column == column {
			n++
		}
	}
	return n, nil
}

func (t *tx) NextMoveNo(ctx context.Context, gameID int64) (int, error) {
	moves, err := t.ListMoves(ctx, gameID)
	if err != nil {
		return 0, err
	}
	last := 0
	for _, m := range moves {
		if m.MoveNo > last {
			last = m.MoveNo
		}
	}
	return last + 1, nil
}

// InsertMove enforces the same uniqueness the moves table does: one move per
// number and one disc per cell.
func (t *tx) InsertMove(ctx context.Context, m *domain.Move) error {
	moves, err := t.ListMoves(ctx, m.GameID)
	if err != nil {
		return err
	}
	for _, existing := range moves {
		if existing.MoveNo == m.MoveNo {
			return fmt.Errorf("duplicate move number %d in game %d", m.MoveNo, m.GameID)
		}
		if existing.Column == m.Column && existing.Row == m.Row {
			return fmt.Errorf("cell (%d,%d) already taken in game %d", m.Row, m.Column, m.GameID)
		}
	}
	t.moves = append(t.moves, *m)
	return nil
}

func (t *tx) markDirty(gameID int64) {
	if t.dirty == nil {
		t.dirty = make(map[int64]bool)
	}
	t.dirty[gameID] = true
}

func (t *tx) SetPlayerToMove(ctx context.Context, gameID, playerID int64, at time.Time) error {
	g, err := t.lockedGame(gameID)
	if err != nil {
		return err
	}
	g.PlayerToMove = domain.Int64(playerID)
	g.UpdatedAt = at
	t.markDirty(gameID)
	return nil
}

func (t *tx) CloseGame(ctx context.Context, gameID int64, status domain.GameStatus, winnerID *int64, at time.Time) error {
	g, err := t.lockedGame(gameID)
	if err != nil {
		return err
	}
	g.Status = status
	g.WinnerID = winnerID
	g.PlayerToMove = nil
	finished := at
	g.FinishedAt = &finished
	g.UpdatedAt = at
	t.markDirty(gameID)
	return nil
}

func (t *tx) LockRating(ctx context.Context, userID int64, defaultRating int) (*domain.RatingRecord, error) {
	if err := t.acquire(ctx, t.store.lockFor(t.store.ratingLocks, userID)); err != nil {
		return nil, err
	}
	if r, ok := t.ratings[userID]; ok {
		cp := *r
		return &cp, nil
	}
	r, err := t.store.GetRating(ctx, userID)
	if err != nil {
		r = &domain.RatingRecord{UserID: userID, Rating: defaultRating}
	}
	t.ratings[userID] = r
	cp := *r
	return &cp, nil
}

func (t *tx) SaveRating(ctx context.Context, rec *domain.RatingRecord) error {
	if _, ok := t.ratings[rec.UserID]; !ok {
		return fmt.Errorf("rating of %d is not locked by this transaction", rec.UserID)
	}
	cp := *rec
	t.ratings[rec.UserID] = &cp
	return nil
}

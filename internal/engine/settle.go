package engine

import (
	"context"
	"fmt"

	"github.com/power4-engine/internal/domain"
	"github.com/power4-engine/internal/rating"
)

// FinishGame closes a game without a move, e.g. on resignation or
// abandonment. It opens its own transaction and locks the game row first.
func (e *Engine) FinishGame(ctx context.Context, req domain.FinishRequest) (*domain.FinishResult, error) {
	if req.GameID <= 0 {
		return nil, fmt.Errorf("%w: game_id required", domain.ErrInvalidRequest)
	}

	var settlement *domain.Settlement
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		g, err := lockActive(ctx, tx, req.GameID)
		if err != nil {
			return err
		}
		settlement, err = e.settle(ctx, tx, g, req.FinishIntent)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &domain.FinishResult{
		GameID:     req.GameID,
		Finished:   true,
		Settlement: settlement,
	}, nil
}

// settle closes a locked, active game and, for a finished two-player game,
// applies the rating update. It must run inside the transaction holding the
// game lock; rating rows are locked after it, in ascending user id order.
func (e *Engine) settle(ctx context.Context, tx Tx, g *domain.Game, intent domain.FinishIntent) (*domain.Settlement, error) {
	status := intent.Status
	if status == "" {
		status = domain.GameStatusFinished
	}
	if status != domain.GameStatusFinished && status != domain.GameStatusAbandoned {
		return nil, fmt.Errorf("%w: cannot close a game as %q", domain.ErrInvalidOutcome, status)
	}
	if intent.WinnerID != nil && !g.IsParticipant(*intent.WinnerID) {
		return nil, fmt.Errorf("%w: winner %d does not play in game %d", domain.ErrInvalidOutcome, *intent.WinnerID, g.ID)
	}

	now := e.now()
	if err := tx.CloseGame(ctx, g.ID, status, intent.WinnerID, now); err != nil {
		return nil, fmt.Errorf("closing game: %w", err)
	}

	s := &domain.Settlement{
		GameID:     g.ID,
		Status:     status,
		WinnerID:   intent.WinnerID,
		FinishedAt: now,
	}
	if status != domain.GameStatusFinished || !g.HasOpponent() {
		e.logger.Info("game closed without rating update", "game_id", g.ID, "status", status)
		return s, nil
	}

	p1, p2 := g.Player1ID, *g.Player2ID
	r1, r2, err := e.lockRatings(ctx, tx, p1, p2)
	if err != nil {
		return nil, err
	}

	outcome := rating.Draw
	switch {
	case intent.WinnerID == nil:
	case *intent.WinnerID == p1:
		outcome = rating.AWin
	default:
		outcome = rating.BWin
	}

	k1 := e.calc.K(r1.GamesPlayed, r1.Rating)
	k2 := e.calc.K(r2.GamesPlayed, r2.Rating)
	new1, new2 := e.calc.Update(r1.Rating, r1.GamesPlayed, r2.Rating, r2.GamesPlayed, outcome)

	s.Player1 = &domain.RatingChange{PlayerID: p1, Old: r1.Rating, New: new1, K: k1}
	s.Player2 = &domain.RatingChange{PlayerID: p2, Old: r2.Rating, New: new2, K: k2}

	record(r1, new1, outcome, rating.AWin)
	record(r2, new2, outcome, rating.BWin)
	r1.UpdatedAt, r2.UpdatedAt = now, now
	for _, r := range []*domain.RatingRecord{r1, r2} {
		if err := tx.SaveRating(ctx, r); err != nil {
			return nil, fmt.Errorf("saving rating of %d: %w", r.UserID, err)
		}
	}

	s.RatingUpdated = true
	s.Records = []domain.RatingRecord{*r1, *r2}
	e.logger.Info("game settled",
		"game_id", g.ID,
		"outcome", outcome.String(),
		"p1", p1, "p1_new", s.Player1.New, "p1_delta", s.Player1.Delta(),
		"p2", p2, "p2_new", s.Player2.New, "p2_delta", s.Player2.Delta(),
	)
	return s, nil
}

// lockRatings locks both rating rows, lower user id first, and returns them in
// argument order.
func (e *Engine) lockRatings(ctx context.Context, tx Tx, a, b int64) (*domain.RatingRecord, *domain.RatingRecord, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	rf, err := tx.LockRating(ctx, first, e.calc.DefaultRating())
	if err != nil {
		return nil, nil, fmt.Errorf("locking rating of %d: %w", first, err)
	}
	rs, err := tx.LockRating(ctx, second, e.calc.DefaultRating())
	if err != nil {
		return nil, nil, fmt.Errorf("locking rating of %d: %w", second, err)
	}
	if first == a {
		return rf, rs, nil
	}
	return rs, rf, nil
}

// record applies one settled game to r. win is the outcome that counts as a
// win for r's player.
func record(r *domain.RatingRecord, newRating int, outcome, win rating.Outcome) {
	r.Rating = newRating
	r.GamesPlayed++
	switch outcome {
	case rating.Draw:
		r.Draws++
	case win:
		r.Wins++
	default:
		r.Losses++
	}
}

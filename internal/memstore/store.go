// Package memstore is an in-memory implementation of the engine store used in
// tests and when no database is configured. Row locks are emulated with one
// lock per game and per rating record, held until the transaction ends, and
// writes stay private to the transaction until it commits.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/power4-engine/internal/domain"
	"github.com/power4-engine/internal/engine"
)

// Store is a development-only in-memory store
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	games   map[int64]*domain.Game
	moves   map[int64][]domain.Move
	ratings map[int64]*domain.RatingRecord

	locksMu     sync.Mutex
	gameLocks   map[int64]chan struct{}
	ratingLocks map[int64]chan struct{}
}

// New creates an empty store
func New() *Store {
	return &Store{
		games:       make(map[int64]*domain.Game),
		moves:       make(map[int64][]domain.Move),
		ratings:     make(map[int64]*domain.RatingRecord),
		gameLocks:   make(map[int64]chan struct{}),
		ratingLocks: make(map[int64]chan struct{}),
	}
}

// RunInTx runs fn in a transaction
func (s *Store) RunInTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	t := &tx{
		store:   s,
		held:    make(map[chan struct{}]bool),
		games:   make(map[int64]*domain.Game),
		ratings: make(map[int64]*domain.RatingRecord),
	}
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, g := range t.games {
		if t.dirty[id] {
			s.games[id] = g
		}
	}
	for _, m := range t.moves {
		s.moves[m.GameID] = append(s.moves[m.GameID], m)
	}
	for id, r := range t.ratings {
		s.ratings[id] = r
	}
}

func (s *Store) lockFor(table map[int64]chan struct{}, id int64) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := table[id]
	if !ok {
		l = make(chan struct{}, 1)
		table[id] = l
	}
	return l
}

// CreateGame inserts g and assigns its ID
func (s *Store) CreateGame(ctx context.Context, g *domain.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	g.ID = s.nextID
	cp := *g
	s.games[g.ID] = &cp
	return nil
}

// GetGame returns the committed state of a game
func (s *Store) GetGame(ctx context.Context, gameID int64) (*domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: game %d", domain.ErrNotFound, gameID)
	}
	cp := *g
	return &cp, nil
}

// ListMoves returns the committed moves of a game ordered by move number
func (s *Store) ListMoves(ctx context.Context, gameID int64) ([]domain.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	moves := append([]domain.Move(nil), s.moves[gameID]...)
	sort.Slice(moves, func(i, j int) bool { return moves[i].MoveNo < moves[j].MoveNo })
	return moves, nil
}

// GetRating returns a player's committed rating record
func (s *Store) GetRating(ctx context.Context, userID int64) (*domain.RatingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.ratings[userID]
	if !ok {
		return nil, fmt.Errorf("%w: rating of %d", domain.ErrNotFound, userID)
	}
	cp := *r
	return &cp, nil
}

// ListRatings returns rating records ordered by rating, highest first
func (s *Store) ListRatings(ctx context.Context, limit, offset int) ([]domain.RatingRecord, error) {
	s.mu.RLock()
	all := make([]domain.RatingRecord, 0, len(s.ratings))
	for _, r := range s.ratings {
		all = append(all, *r)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Rating != all[j].Rating {
			return all[i].Rating > all[j].Rating
		}
		return all[i].UserID < all[j].UserID
	})
	if offset >= len(all) {
		return []domain.RatingRecord{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// IdleGames returns active games not updated since before, oldest first
func (s *Store) IdleGames(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	s.mu.RLock()
	var idle []*domain.Game
	for _, g := range s.games {
		if g.Status == domain.GameStatusActive && g.UpdatedAt.Before(before) {
			idle = append(idle, g)
		}
	}
	s.mu.RUnlock()

	sort.Slice(idle, func(i, j int) bool { return idle[i].UpdatedAt.Before(idle[j].UpdatedAt) })
	ids := make([]int64, 0, len(idle))
	for _, g := range idle {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// Package rating implements the variable-K Elo update applied when a game
// settles. Everything here is pure; callers own persistence.
package rating

import (
	"fmt"
	"math"
)

// Outcome is the result of a game from player A's point of view
type Outcome int

const (
	AWin Outcome = iota
	BWin
	Draw
)

func (o Outcome) String() string {
	switch o {
	case AWin:
		return "a_win"
	case BWin:
		return "b_win"
	case Draw:
		return "draw"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// scores returns the actual scores of A and B.
func (o Outcome) scores() (float64, float64) {
	switch o {
	case AWin:
		return 1, 0
	case BWin:
		return 0, 1
	default:
		return 0.5, 0.5
	}
}

// KRule is one step of the K-factor table. A zero bound is unbounded.
type KRule struct {
	MaxGames  int     `yaml:"max_games" json:"max_games"`
	MaxRating int     `yaml:"max_rating" json:"max_rating"`
	K         float64 `yaml:"k" json:"k"`
}

func (r KRule) matches(games, rating int) bool {
	return (r.MaxGames == 0 || games < r.MaxGames) &&
		(r.MaxRating == 0 || rating < r.MaxRating)
}

// KTable is an ordered list of rules; the first matching rule wins.
type KTable []KRule

// K returns the K-factor for a player with the given finished-game count and
// rating. When no rule matches, the last rule's K applies.
func (t KTable) K(games, rating int) float64 {
	for _, r := range t {
		if r.matches(games, rating) {
			return r.K
		}
	}
	if len(t) == 0 {
		return DefaultKTable().K(games, rating)
	}
	return t[len(t)-1].K
}

// Validate checks that every K is positive.
func (t KTable) Validate() error {
	for i, r := range t {
		if r.K <= 0 {
			return fmt.Errorf("k_factors[%d]: k must be positive", i)
		}
		if r.MaxGames < 0 || r.MaxRating < 0 {
			return fmt.Errorf("k_factors[%d]: bounds must not be negative", i)
		}
	}
	return nil
}

// DefaultKTable: 40 for the first 30 games, then 20 below 2000, then 10.
func DefaultKTable() KTable {
	return KTable{
		{MaxGames: 30, K: 40},
		{MaxRating: 2000, K: 20},
		{K: 10},
	}
}

// Config holds the tunables of the rating system
type Config struct {
	DefaultRating int
	Floor         int
	KFactors      KTable
}

// DefaultConfig returns the canonical table: default 1200, floor 100.
func DefaultConfig() Config {
	return Config{
		DefaultRating: 1200,
		Floor:         100,
		KFactors:      DefaultKTable(),
	}
}

// Calculator applies Elo updates
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator. A zero Config means DefaultConfig.
// Otherwise Floor is taken as given, including 0, and only a missing default
// rating or K table is filled in.
func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.DefaultRating == 0 && cfg.Floor == 0 && len(cfg.KFactors) == 0 {
		return &Calculator{cfg: def}
	}
	if cfg.DefaultRating == 0 {
		cfg.DefaultRating = def.DefaultRating
	}
	if len(cfg.KFactors) == 0 {
		cfg.KFactors = def.KFactors
	}
	return &Calculator{cfg: cfg}
}

// DefaultRating is the rating of a player with no record yet.
func (c *Calculator) DefaultRating() int {
	return c.cfg.DefaultRating
}

// Floor is the lowest rating Update ever returns.
func (c *Calculator) Floor() int {
	return c.cfg.Floor
}

// K returns the K-factor for one player.
func (c *Calculator) K(games, rating int) float64 {
	return c.cfg.KFactors.K(games, rating)
}

// Expected returns the expected score of a player rated self against opp.
func Expected(self, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-self)/400))
}

// Update returns the new ratings of A and B. Each player's K-factor comes from
// their own pre-update game count and rating.
func (c *Calculator) Update(ratingA, gamesA, ratingB, gamesB int, outcome Outcome) (int, int) {
	sA, sB := outcome.scores()
	eA := Expected(ratingA, ratingB)
	eB := 1 - eA

	newA := c.next(ratingA, c.K(gamesA, ratingA), sA, eA)
	newB := c.next(ratingB, c.K(gamesB, ratingB), sB, eB)
	return newA, newB
}

func (c *Calculator) next(old int, k, actual, expected float64) int {
	n := int(math.Round(float64(old) + k*(actual-expected)))
	if n < c.cfg.Floor {
		return c.cfg.Floor
	}
	return n
}

package domain

import "time"

// GameStatus represents the lifecycle state of a game
type GameStatus string

const (
	GameStatusActive    GameStatus = "active"
	GameStatusFinished  GameStatus = "finished"
	GameStatusAbandoned GameStatus = "abandoned"
)

// Valid reports whether s is a known status.
func (s GameStatus) Valid() bool {
	switch s {
	case GameStatusActive, GameStatusFinished, GameStatusAbandoned:
		return true
	}
	return false
}

// Disc markers stored with each move.
const (
	DiscPlayer1 = "R"
	DiscPlayer2 = "Y"
)

// Game is one match between one or two players
type Game struct {
	ID           int64      `json:"id"`
	Status       GameStatus `json:"status"`
	Rows         int        `json:"rows"`
	Cols         int        `json:"cols"`
	Player1ID    int64      `json:"player1_id"`
	Player2ID    *int64     `json:"player2_id,omitempty"`
	PlayerToMove *int64     `json:"player_to_move,omitempty"`
	WinnerID     *int64     `json:"winner_id,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsParticipant reports whether playerID plays in g.
func (g *Game) IsParticipant(playerID int64) bool {
	if playerID == g.Player1ID {
		return true
	}
	return g.Player2ID != nil && *g.Player2ID == playerID
}

// HasOpponent reports whether the game has a second participant.
func (g *Game) HasOpponent() bool {
	return g.Player2ID != nil
}

// IsDraw reports a decided draw. A nil winner only means draw once the game
// is finished; on an active game it means undecided.
func (g *Game) IsDraw() bool {
	return g.Status == GameStatusFinished && g.WinnerID == nil
}

// DiscFor returns the disc marker of playerID.
func (g *Game) DiscFor(playerID int64) string {
	if playerID == g.Player1ID {
		return DiscPlayer1
	}
	return DiscPlayer2
}

// OpponentOf returns the player who moves after playerID. In a solitaire game
// that is playerID itself.
func (g *Game) OpponentOf(playerID int64) int64 {
	if g.Player2ID == nil {
		return g.Player1ID
	}
	if playerID == g.Player1ID {
		return *g.Player2ID
	}
	return g.Player1ID
}

// Move is one immutable disc placement
type Move struct {
	GameID   int64     `json:"game_id"`
	MoveNo   int       `json:"move_no"`
	PlayerID int64     `json:"player_id"`
	Column   int       `json:"column_index"`
	Row      int       `json:"row_index"`
	Disc     string    `json:"disc"`
	PlayedAt time.Time `json:"played_at"`
}

// GameView is a game together with its ordered move history
type GameView struct {
	Game  Game   `json:"game"`
	Moves []Move `json:"moves"`
	// Draw is set only for a finished game without a winner.
	Draw bool `json:"draw"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

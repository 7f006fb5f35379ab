package domain

import "time"

// RatingRecord is a player's Elo rating and finished-game counters
type RatingRecord struct {
	UserID      int64     `json:"user_id"`
	Rating      int       `json:"rating"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RatingChange is one player's rating before and after a settlement
type RatingChange struct {
	PlayerID int64   `json:"id"`
	Old      int     `json:"old"`
	New      int     `json:"new"`
	K        float64 `json:"k"`
}

// Delta returns New - Old.
func (c RatingChange) Delta() int {
	return c.New - c.Old
}

// Settlement is the outcome of closing a game
type Settlement struct {
	GameID        int64         `json:"game_id"`
	Status        GameStatus    `json:"status"`
	WinnerID      *int64        `json:"winner_id,omitempty"`
	FinishedAt    time.Time     `json:"finished_at"`
	RatingUpdated bool          `json:"rating_updated"`
	Player1       *RatingChange `json:"p1,omitempty"`
	Player2       *RatingChange `json:"p2,omitempty"`
	// Records holds the post-update rating records, in player1, player2 order.
	Records []RatingRecord `json:"-"`
}

// SettlementEvent is published once a rated settlement has committed
type SettlementEvent struct {
	EventID    string         `json:"event_id"`
	GameID     int64          `json:"game_id"`
	WinnerID   *int64         `json:"winner_id,omitempty"`
	Records    []RatingRecord `json:"records"`
	Changes    []RatingChange `json:"changes"`
	FinishedAt time.Time      `json:"finished_at"`
	Timestamp  time.Time      `json:"timestamp"`
}

// LeaderboardEntry represents a single entry in the rating leaderboard
type LeaderboardEntry struct {
	Rank        int64 `json:"rank"`
	PlayerID    int64 `json:"player_id"`
	Rating      int   `json:"rating"`
	GamesPlayed int   `json:"games_played,omitempty"`
}

// PlayerStanding is a player's rating record with their leaderboard rank, when
// known
type PlayerStanding struct {
	RatingRecord
	Rank int64 `json:"rank,omitempty"`
}

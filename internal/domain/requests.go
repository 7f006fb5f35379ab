package domain

// FinishIntent closes a game. A nil WinnerID on a finished game is a draw.
type FinishIntent struct {
	Status   GameStatus `json:"status"`
	WinnerID *int64     `json:"winner_id"`
}

// MoveRequest submits a move whose row and successor were computed by the
// caller. Both are claims that the engine verifies under the game lock.
type MoveRequest struct {
	GameID       int64         `json:"game_id"`
	PlayerID     int64         `json:"player_id"`
	Column       int           `json:"column_index"`
	Row          int           `json:"row_index"`
	NextPlayerID *int64        `json:"next_player_id,omitempty"`
	Finish       *FinishIntent `json:"finish,omitempty"`
}

// PlayRequest submits a move by column only; the engine derives the rest.
type PlayRequest struct {
	GameID   int64 `json:"game_id"`
	PlayerID int64 `json:"player_id"`
	Column   int   `json:"column_index"`
}

// FinishRequest closes a game without a move (resignation, abandonment).
type FinishRequest struct {
	GameID int64 `json:"game_id"`
	FinishIntent
}

// CreateGameRequest starts a new game
type CreateGameRequest struct {
	Player1ID int64  `json:"player1_id"`
	Player2ID *int64 `json:"player2_id,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Cols      int    `json:"cols,omitempty"`
}

// MoveResult is returned for an accepted move
type MoveResult struct {
	GameID       int64       `json:"game_id"`
	MoveNo       int         `json:"move_no"`
	Row          int         `json:"row_index"`
	Column       int         `json:"column_index"`
	Disc         string      `json:"disc"`
	NextPlayerID *int64      `json:"next_player_id,omitempty"`
	Finished     bool        `json:"finished"`
	Settlement   *Settlement `json:"settlement,omitempty"`
}

// FinishResult is returned for a direct finish
type FinishResult struct {
	GameID     int64       `json:"game_id"`
	Finished   bool        `json:"finished"`
	Settlement *Settlement `json:"settlement"`
}

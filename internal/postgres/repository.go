package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
	"github.com/power4-engine/internal/engine"
)

// DB is the part of a pgx connection pool the repository uses
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// querier is implemented by both DB and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL-based data access
type Repository struct {
	db          DB
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ engine.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryWithDB(pool, cfg.LockTimeout, logger), nil
}

// NewRepositoryWithDB wraps an existing pool
func NewRepositoryWithDB(db DB, lockTimeout time.Duration, logger *slog.Logger) *Repository {
	return &Repository{
		db:          db,
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.db.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id BIGSERIAL PRIMARY KEY,
			status VARCHAR(16) NOT NULL DEFAULT 'active'
				CHECK (status IN ('active', 'finished', 'abandoned')),
			board_rows INT NOT NULL DEFAULT 6,
			board_cols INT NOT NULL DEFAULT 7,
			player1_id BIGINT NOT NULL,
			player2_id BIGINT,
			player_to_move BIGINT,
			winner_id BIGINT,
			finished_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS moves (
			game_id BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			move_no INT NOT NULL,
			player_id BIGINT NOT NULL,
			column_index INT NOT NULL,
			row_index INT NOT NULL,
			disc CHAR(1) NOT NULL,
			played_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (game_id, move_no),
			UNIQUE (game_id, column_index, row_index)
		)`,
		`CREATE TABLE IF NOT EXISTS user_ratings (
			user_id BIGINT PRIMARY KEY,
			rating INT NOT NULL,
			games_played INT NOT NULL DEFAULT 0,
			wins INT NOT NULL DEFAULT 0,
			losses INT NOT NULL DEFAULT 0,
			draws INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_games_status_updated ON games(status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_moves_column ON moves(game_id, column_index)`,
		`CREATE INDEX IF NOT EXISTS idx_user_ratings_rating ON user_ratings(rating DESC, user_id)`,
	}

	for _, migration := range migrations {
		_, err := r.db.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RunInTx runs fn in a transaction. Row locks wait at most the configured
// lock timeout.
func (r *Repository) RunInTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			r.rollback(ctx, tx)
			return fmt.Errorf("setting lock timeout: %w", err)
		}
	}

	if err := fn(&txStore{tx: tx}); err != nil {
		r.rollback(ctx, tx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (r *Repository) rollback(ctx context.Context, tx pgx.Tx) {
	// the caller's context may already be done
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.Warn("rollback failed", "error", err)
	}
}

// CreateGame inserts g and assigns its ID
func (r *Repository) CreateGame(ctx context.Context, g *domain.Game) error {
	query := `
		INSERT INTO games (status, board_rows, board_cols, player1_id, player2_id, player_to_move, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		string(g.Status),
		g.Rows,
		g.Cols,
		g.Player1ID,
		g.Player2ID,
		g.PlayerToMove,
		g.CreatedAt,
		g.UpdatedAt,
	).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("inserting game: %w", err)
	}
	return nil
}

// GetGame reads a game without locking it
func (r *Repository) GetGame(ctx context.Context, gameID int64) (*domain.Game, error) {
	return getGame(ctx, r.db, selectGame+` WHERE id = $1`, gameID)
}

// ListMoves returns a game's moves ordered by move number
func (r *Repository) ListMoves(ctx context.Context, gameID int64) ([]domain.Move, error) {
	return listMoves(ctx, r.db, gameID)
}

// GetRating returns a player's rating record
func (r *Repository) GetRating(ctx context.Context, userID int64) (*domain.RatingRecord, error) {
	rec, err := scanRating(r.db.QueryRow(ctx, selectRating+` WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: rating of %d", domain.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("getting rating: %w", err)
	}
	return rec, nil
}

// ListRatings returns rating records ordered by rating, highest first
func (r *Repository) ListRatings(ctx context.Context, limit, offset int) ([]domain.RatingRecord, error) {
	query := selectRating + `
		ORDER BY rating DESC, user_id ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing ratings: %w", err)
	}
	defer rows.Close()

	records := []domain.RatingRecord{}
	for rows.Next() {
		rec, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing ratings: %w", err)
	}
	return records, nil
}

// IdleGames returns active games not updated since before, oldest first
func (r *Repository) IdleGames(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	query := `
		SELECT id FROM games
		WHERE status = 'active' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing idle games: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning game id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const selectGame = `
	SELECT id, status, board_rows, board_cols, player1_id, player2_id, player_to_move,
		winner_id, finished_at, created_at, updated_at
	FROM games`

const selectRating = `
	SELECT user_id, rating, games_played, wins, losses, draws, updated_at
	FROM user_ratings`

func getGame(ctx context.Context, q querier, query string, gameID int64) (*domain.Game, error) {
	var g domain.Game
	var status string
	err := q.QueryRow(ctx, query, gameID).Scan(
		&g.ID,
		&status,
		&g.Rows,
		&g.Cols,
		&g.Player1ID,
		&g.Player2ID,
		&g.PlayerToMove,
		&g.WinnerID,
		&g.FinishedAt,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: game %d", domain.ErrNotFound, gameID)
		}
		return nil, fmt.Errorf("getting game: %w", err)
	}
	g.Status = domain.GameStatus(status)
	return &g, nil
}

func listMoves(ctx context.Context, q querier, gameID int64) ([]domain.Move, error) {
	query := `
		SELECT game_id, move_no, player_id, column_index, row_index, disc, played_at
		FROM moves
		WHERE game_id = $1
		ORDER BY move_no ASC
	`
	rows, err := q.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing moves: %w", err)
	}
	defer rows.Close()

	moves := []domain.Move{}
	for rows.Next() {
		var m domain.Move
		if err := rows.Scan(&m.GameID, &m.MoveNo, &m.PlayerID, &m.Column, &m.Row, &m.Disc, &m.PlayedAt); err != nil {
			return nil, fmt.Errorf("scanning move: %w", err)
		}
		moves = append(moves, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing moves: %w", err)
	}
	return moves, nil
}

func scanRating(row pgx.Row) (*domain.RatingRecord, error) {
	var rec domain.RatingRecord
	err := row.Scan(
		&rec.UserID,
		&rec.Rating,
		&rec.GamesPlayed,
		&rec.Wins,
		&rec.Losses,
		&rec.Draws,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
	"github.com/power4-engine/internal/service"
	"github.com/power4-engine/internal/websocket"
)

// APIKeyHeader carries the API key when one is configured
const APIKeyHeader = "X-Api-Key"

// ReadyCheck reports whether a dependency can serve requests
type ReadyCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the game API
type Handler struct {
	games       *service.GameService
	leaderboard *service.LeaderboardService
	hub         *websocket.Hub
	auth        *config.AuthConfig
	checks      map[string]ReadyCheck
	logger      *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	games *service.GameService,
	leaderboard *service.LeaderboardService,
	hub *websocket.Hub,
	auth *config.AuthConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		games:       games,
		leaderboard: leaderboard,
		hub:         hub,
		auth:        auth,
		checks:      make(map[string]ReadyCheck),
		logger:      logger,
	}
}

// AddReadyCheck registers a dependency probed by /ready
func (h *Handler) AddReadyCheck(name string, check ReadyCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.apiKeyMiddleware)

		r.Route("/games", func(r chi.Router) {
			r.Post("/", h.CreateGame)

			r.Route("/{gameID}", func(r chi.Router) {
				r.Get("/", h.GetGame)
				r.Post("/moves", h.SubmitMove)
				r.Post("/play", h.PlayMove)
				r.Post("/auto", h.AutoMove)
				r.Post("/finish", h.FinishGame)
			})
		})

		r.Route("/ratings", func(r chi.Router) {
			r.Get("/top", h.GetTopRatings)
			r.Get("/{playerID}", h.GetPlayerRating)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, "+APIKeyHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware rejects requests without the configured key. It is a no-op
// when no key is configured.
func (h *Handler) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil || h.auth.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.auth.APIKey)) != 1 {
			h.writeJSON(w, http.StatusUnauthorized, APIResponse{
				Success: false,
				Error:   "invalid api key",
				Code:    "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps err to a status and writes it. Errors outside the domain
// are logged and reported as internal.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		err = domain.ErrInternalError
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
		Code:    domain.Kind(err),
	})
}

func statusFor(err error) int {
	switch {
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	case domain.IsConflictError(err):
		return http.StatusConflict
	}
	switch domain.Kind(err) {
	case "invalid_placement", "invalid_outcome", "missing_participant", "invalid_request":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// checkStatus rejects a finish status nobody defined. Known statuses that do
// not close a game are left to the engine.
func checkStatus(intent *domain.FinishIntent) error {
	if intent != nil && !intent.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, intent.Status)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck probes every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   "not ready",
		})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, status)
}

// CreateGame handles game creation
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "create game", domain.ErrInvalidRequest)
		return
	}

	game, err := h.games.CreateGame(r.Context(), req)
	if err != nil {
		h.writeError(w, "create game", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    game,
	})
}

// GetGame returns a game and its moves
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(r, "gameID")
	if !ok {
		h.writeError(w, "get game", domain.ErrInvalidRequest)
		return
	}

	view, err := h.games.GetGame(r.Context(), gameID)
	if err != nil {
		h.writeError(w, "get game", err)
		return
	}

	h.writeSuccess(w, view)
}

// SubmitMove handles a move whose row and successor the client computed
func (h *Handler) SubmitMove(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(r, "gameID")
	if !ok {
		h.writeError(w, "submit move", domain.ErrInvalidRequest)
		return
	}

	var req domain.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "submit move", domain.ErrInvalidRequest)
		return
	}
	if err := checkStatus(req.Finish); err != nil {
		h.writeError(w, "submit move", err)
		return
	}
	req.GameID = gameID

	result, err := h.games.SubmitMove(r.Context(), req)
	if err != nil {
		h.writeError(w, "submit move", err)
		return
	}

	h.writeSuccess(w, result)
}

// PlayMove handles a move given by column only
func (h *Handler) PlayMove(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(r, "gameID")
	if !ok {
		h.writeError(w, "play move", domain.ErrInvalidRequest)
		return
	}

	var req domain.PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "play move", domain.ErrInvalidRequest)
		return
	}
	req.GameID = gameID

	result, err := h.games.PlayMove(r.Context(), req)
	if err != nil {
		h.writeError(w, "play move", err)
		return
	}

	h.writeSuccess(w, result)
}

// AutoMove plays for the player to move, for callers whose turn timer expired
func (h *Handler) AutoMove(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(r, "gameID")
	if !ok {
		h.writeError(w, "auto move", domain.ErrInvalidRequest)
		return
	}

	result, err := h.games.AutoMove(r.Context(), gameID)
	if err != nil {
		h.writeError(w, "auto move", err)
		return
	}

	h.writeSuccess(w, result)
}

// FinishGame closes a game without a move
func (h *Handler) FinishGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(r, "gameID")
	if !ok {
		h.writeError(w, "finish game", domain.ErrInvalidRequest)
		return
	}

	var req domain.FinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "finish game", domain.ErrInvalidRequest)
		return
	}
	if err := checkStatus(&req.FinishIntent); err != nil {
		h.writeError(w, "finish game", err)
		return
	}
	req.GameID = gameID

	result, err := h.games.FinishGame(r.Context(), req)
	if err != nil {
		h.writeError(w, "finish game", err)
		return
	}

	h.writeSuccess(w, result)
}

// GetTopRatings returns the highest rated players
func (h *Handler) GetTopRatings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.leaderboard.GetTopN(r.Context(), limit)
	if err != nil {
		h.writeError(w, "top ratings", err)
		return
	}

	h.writeSuccess(w, entries)
}

// GetPlayerRating returns a player's rating and rank
func (h *Handler) GetPlayerRating(w http.ResponseWriter, r *http.Request) {
	playerID, ok := pathID(r, "playerID")
	if !ok {
		h.writeError(w, "player rating", domain.ErrInvalidRequest)
		return
	}

	standing, err := h.leaderboard.GetPlayer(r.Context(), playerID)
	if err != nil {
		h.writeError(w, "player rating", err)
		return
	}

	h.writeSuccess(w, standing)
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/mcdev12/sonarchy/go/internal/phase"
	"github.com/mcdev12/sonarchy/go/internal/timer"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// StateProvider reads game state for devices that (re)connect.
type StateProvider interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameByCode(ctx context.Context, code string) (*models.Game, error)
	ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error)
}

// GameStateResponse is the snapshot a device hydrates from before it
// starts following the websocket.
type GameStateResponse struct {
	GameID     string                          `json:"game_id"`
	Code       string                          `json:"code"`
	HostID     *string                         `json:"host_id,omitempty"`
	Phase      models.Phase                    `json:"phase"`
	Route      string                          `json:"route"`
	Round      int                             `json:"round"`
	Timers     map[models.TimerKind]TimerState `json:"timers"`
	Players    []models.Player                 `json:"players"`
	ServerTime time.Time                       `json:"server_time"`
}

// TimerState is a stored timer pair with its remaining time derived at
// ServerTime.
type TimerState struct {
	StartTime    *time.Time `json:"start_time,omitempty"`
	DurationSec  *int       `json:"duration_sec,omitempty"`
	RemainingSec int        `json:"remaining_sec"`
	Running      bool       `json:"running"`
}

// StateHandler serves game snapshots and join QR codes.
type StateHandler struct {
	stateProvider StateProvider
	clock         clockwork.Clock
	joinBaseURL   string
}

func NewStateHandler(provider StateProvider, clock clockwork.Clock, joinBaseURL string) *StateHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StateHandler{
		stateProvider: provider,
		clock:         clock,
		joinBaseURL:   joinBaseURL,
	}
}

// BuildState derives a snapshot from a games row at now.
func BuildState(g *models.Game, players []models.Player, now time.Time) *GameStateResponse {
	route, _ := phase.PageForPhase(g.CurrentPhase)
	resp := &GameStateResponse{
		GameID:     g.ID.String(),
		Code:       g.Code,
		Phase:      g.CurrentPhase,
		Route:      route,
		Round:      g.CurrentRound,
		Timers:     make(map[models.TimerKind]TimerState, len(models.TimerKinds)),
		Players:    players,
		ServerTime: now,
	}
	if g.HostID != nil {
		host := g.HostID.String()
		resp.HostID = &host
	}
	if resp.Players == nil {
		resp.Players = []models.Player{}
	}
	for _, kind := range models.TimerKinds {
		t := g.Timer(kind)
		resp.Timers[kind] = TimerState{
			StartTime:    t.StartTime,
			DurationSec:  t.DurationSec,
			RemainingSec: timer.Clamp(timer.RemainingFor(t, now)),
			Running:      timer.Running(t, now),
		}
	}
	return resp
}

// Snapshot builds the GameSnapshot frame for gameID at the handler's clock.
func (h *StateHandler) Snapshot(ctx context.Context, gameID uuid.UUID) (*GameEvent, error) {
	g, err := h.stateProvider.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	players, err := h.stateProvider.ListPlayers(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("list players %s: %w", gameID, err)
	}

	now := h.clock.Now()
	data, err := json.Marshal(SnapshotData{Game: *g, State: BuildState(g, players, now)})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return &GameEvent{
		ID:        uuid.NewString(),
		GameID:    gameID.String(),
		Type:      TypeGameSnapshot,
		Timestamp: now,
		Data:      data,
	}, nil
}

// HandleGetGameState handles GET /api/games/:code/state
func (h *StateHandler) HandleGetGameState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	g, ok := h.lookup(w, r, ps.ByName("code"))
	if !ok {
		return
	}

	players, err := h.stateProvider.ListPlayers(r.Context(), g.ID)
	if err != nil {
		log.Error().Err(err).Str("game_id", g.ID.String()).Msg("failed to list players")
		http.Error(w, "Failed to get game state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(BuildState(g, players, h.clock.Now())); err != nil {
		log.Error().Err(err).Msg("failed to encode game state response")
	}
}

// HandleJoinQR handles GET /api/games/:code/qr.png
func (h *StateHandler) HandleJoinQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	g, ok := h.lookup(w, r, ps.ByName("code"))
	if !ok {
		return
	}

	png, err := qrcode.Encode(JoinURL(h.joinBaseURL, g.Code), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("code", g.Code).Msg("qr generation failed")
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// JoinURL is the link a new device opens to join code.
func JoinURL(base, code string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?code=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *StateHandler) lookup(w http.ResponseWriter, r *http.Request, raw string) (*models.Game, bool) {
	code, ok := game.NormalizeCode(raw)
	if !ok {
		http.Error(w, "Invalid game code", http.StatusBadRequest)
		return nil, false
	}

	g, err := h.stateProvider.GetGameByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, game.ErrGameNotFound) {
			http.Error(w, "Game not found", http.StatusNotFound)
			return nil, false
		}
		log.Error().Err(err).Str("code", code).Msg("failed to get game")
		http.Error(w, "Failed to get game", http.StatusInternalServerError)
		return nil, false
	}
	return g, true
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(router *httprouter.Router) {
	router.GET("/api/games/:code/state", h.HandleGetGameState)
	router.GET("/api/games/:code/qr.png", h.HandleJoinQR)
}

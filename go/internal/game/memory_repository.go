package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/game/events"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/mcdev12/sonarchy/go/internal/timer"
)

// MemoryRepository keeps games in process memory. It mirrors Repository's
// semantics, including the conditional timer write and outbox events, and
// backs the API server when DB_DRIVER=memory.
type MemoryRepository struct {
	clock clockwork.Clock

	mu      sync.Mutex
	games   map[uuid.UUID]*models.Game
	players map[uuid.UUID]*models.Player
	outbox  []events.Envelope
	writes  int
}

func NewMemoryRepository(clock clockwork.Clock) *MemoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRepository{
		clock:   clock,
		games:   make(map[uuid.UUID]*models.Game),
		players: make(map[uuid.UUID]*models.Player),
	}
}

// Events returns every outbox event written so far.
func (r *MemoryRepository) Events() []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Envelope(nil), r.outbox...)
}

// Writes counts row mutations of the games table.
func (r *MemoryRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *MemoryRepository) CreateGame(ctx context.Context, params CreateGameParams) (*models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.games {
		if g.Code == params.Code {
			return nil, fmt.Errorf("failed to create game: %w", ErrDuplicateCode)
		}
	}

	now := r.clock.Now()
	g := &models.Game{
		ID:           params.ID,
		Code:         params.Code,
		CurrentPhase: models.PhaseLobby,
		CurrentRound: 1,
		Timers:       make(map[models.TimerKind]models.Timer, len(models.TimerKinds)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, kind := range models.TimerKinds {
		g.Timers[kind] = models.Timer{}
	}
	r.games[g.ID] = g
	r.writes++
	r.emit(g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: copyGame(g)})

	out := copyGame(g)
	return &out, nil
}

func (r *MemoryRepository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("failed to get game: %w", ErrGameNotFound)
	}
	out := copyGame(g)
	return &out, nil
}

func (r *MemoryRepository) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.games {
		if g.Code == code {
			out := copyGame(g)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("failed to get game by code: %w", ErrGameNotFound)
}

func (r *MemoryRepository) UpdatePhase(ctx context.Context, id uuid.UUID, phase models.Phase) (*models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("failed to update game phase: %w", ErrGameNotFound)
	}
	from := g.CurrentPhase
	g.CurrentPhase = phase
	g.UpdatedAt = r.clock.Now()
	r.writes++
	if from == phase {
		r.emit(g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: copyGame(g)})
	} else {
		r.emitPhase(from, g)
	}

	out := copyGame(g)
	return &out, nil
}

func (r *MemoryRepository) CompareAndSetPhase(ctx context.Context, id uuid.UUID, from, to models.Phase, newRound bool) (*models.Game, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil, false, fmt.Errorf("failed to advance game phase: %w", ErrGameNotFound)
	}
	if g.CurrentPhase != from {
		out := copyGame(g)
		return &out, false, nil
	}

	g.CurrentPhase = to
	if newRound {
		g.CurrentRound++
		for _, p := range r.players {
			if p.GameID == id {
				p.Selection = nil
				p.LockedIn = false
			}
		}
	}
	g.UpdatedAt = r.clock.Now()
	r.writes++
	r.emitPhase(from, g)

	out := copyGame(g)
	return &out, true, nil
}

func (r *MemoryRepository) StartTimerIfIdle(ctx context.Context, id uuid.UUID, kind models.TimerKind, start time.Time, durationSec int) (*models.Game, bool, error) {
	if _, err := columnsFor(kind); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil, false, fmt.Errorf("failed to start %s timer: %w", kind, ErrGameNotFound)
	}
	if timer.Running(g.Timers[kind], start) {
		out := copyGame(g)
		return &out, false, nil
	}

	startCopy, durCopy := start, durationSec
	g.Timers[kind] = models.Timer{StartTime: &startCopy, DurationSec: &durCopy}
	g.UpdatedAt = start
	r.writes++
	r.emit(g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: copyGame(g)})
	r.emit(g.ID, events.TypeTimerStarted, events.TimerStartedPayload{
		GameID:      g.ID.String(),
		Kind:        kind,
		Phase:       g.CurrentPhase,
		StartTime:   start,
		DurationSec: durationSec,
	})

	out := copyGame(g)
	return &out, true, nil
}

func (r *MemoryRepository) SetHost(ctx context.Context, gameID, playerID uuid.UUID) (*models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[gameID]
	if !ok {
		return nil, fmt.Errorf("failed to set host: %w", ErrGameNotFound)
	}
	host := playerID
	g.HostID = &host
	g.UpdatedAt = r.clock.Now()
	r.writes++
	r.emit(g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: copyGame(g)})

	out := copyGame(g)
	return &out, nil
}

func (r *MemoryRepository) AddPlayer(ctx context.Context, params AddPlayerParams) (*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[params.GameID]; !ok {
		return nil, fmt.Errorf("failed to add player: %w", ErrGameNotFound)
	}
	p := &models.Player{
		ID:          params.ID,
		GameID:      params.GameID,
		DisplayName: params.DisplayName,
		Avatar:      params.Avatar,
		CreatedAt:   r.clock.Now(),
	}
	r.players[p.ID] = p
	r.emit(p.GameID, events.TypePlayerJoined, events.PlayerJoinedPayload{GameID: p.GameID.String(), Player: copyPlayer(p)})

	out := copyPlayer(p)
	return &out, nil
}

func (r *MemoryRepository) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Player
	for _, p := range r.players {
		if p.GameID == gameID {
			out = append(out, copyPlayer(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) UpdateSongSelection(ctx context.Context, params SongSelectionParams) (*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[params.PlayerID]
	if !ok {
		return nil, fmt.Errorf("failed to update song selection: %w", ErrPlayerNotFound)
	}
	if params.Selection != nil {
		sel := *params.Selection
		p.Selection = &sel
	} else {
		p.Selection = nil
	}
	p.LockedIn = params.LockedIn
	out := copyPlayer(p)
	r.emit(p.GameID, events.TypeSongSelectionUpdated, events.SongSelectionUpdatedPayload{
		GameID:    p.GameID.String(),
		PlayerID:  p.ID.String(),
		Selection: out.Selection,
		LockedIn:  p.LockedIn,
	})
	return &out, nil
}

func (r *MemoryRepository) emitPhase(from models.Phase, g *models.Game) {
	r.emit(g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: copyGame(g)})
	r.emit(g.ID, events.TypePhaseChanged, events.PhaseChangedPayload{
		GameID:    g.ID.String(),
		Code:      g.Code,
		From:      from,
		To:        g.CurrentPhase,
		Round:     g.CurrentRound,
		ChangedAt: g.UpdatedAt,
	})
}

// emit must be called with r.mu held.
func (r *MemoryRepository) emit(gameID uuid.UUID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	r.outbox = append(r.outbox, events.Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		GameID:    gameID.String(),
		Timestamp: r.clock.Now().UTC(),
		Payload:   data,
	})
}

func copyGame(g *models.Game) models.Game {
	out := *g
	if g.HostID != nil {
		host := *g.HostID
		out.HostID = &host
	}
	out.Timers = make(map[models.TimerKind]models.Timer, len(g.Timers))
	for k, t := range g.Timers {
		out.Timers[k] = t
	}
	return out
}

func copyPlayer(p *models.Player) models.Player {
	out := *p
	if p.Selection != nil {
		sel := *p.Selection
		out.Selection = &sel
	}
	return out
}

package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/mcdev12/sonarchy/go/internal/phase"
	"github.com/mcdev12/sonarchy/go/internal/timer"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 5

// GameRepository defines what the game app layer needs from storage
type GameRepository interface {
	CreateGame(ctx context.Context, params CreateGameParams) (*models.Game, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameByCode(ctx context.Context, code string) (*models.Game, error)
	UpdatePhase(ctx context.Context, id uuid.UUID, phase models.Phase) (*models.Game, error)
	CompareAndSetPhase(ctx context.Context, id uuid.UUID, from, to models.Phase, newRound bool) (*models.Game, bool, error)
	StartTimerIfIdle(ctx context.Context, id uuid.UUID, kind models.TimerKind, start time.Time, durationSec int) (*models.Game, bool, error)
	SetHost(ctx context.Context, gameID, playerID uuid.UUID) (*models.Game, error)
	AddPlayer(ctx context.Context, params AddPlayerParams) (*models.Player, error)
	ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error)
	UpdateSongSelection(ctx context.Context, params SongSelectionParams) (*models.Player, error)
}

// App handles game business logic: the phase cursor, server timers and the
// player roster.
type App struct {
	repo  GameRepository
	clock clockwork.Clock
	cfg   Config
}

// NewApp creates a new game App
func NewApp(repo GameRepository, clock clockwork.Clock, cfg Config) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		repo:  repo,
		clock: clock,
		cfg:   cfg,
	}
}

// Now is the server clock every timer start is stamped with.
func (a *App) Now() time.Time {
	return a.clock.Now()
}

// CreateGame inserts a game in the lobby with a fresh join code.
func (a *App) CreateGame(ctx context.Context) (*models.Game, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := NewCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate game code: %w", err)
		}

		game, err := a.repo.CreateGame(ctx, CreateGameParams{ID: uuid.New(), Code: code})
		if errors.Is(err, ErrDuplicateCode) {
			log.Debug().Str("code", code).Int("attempt", attempt).Msg("game code collision")
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to create game")
			return nil, err
		}

		log.Info().Str("game_id", game.ID.String()).Str("code", game.Code).Msg("created game")
		return game, nil
	}
	return nil, fmt.Errorf("failed to create game after %d attempts: %w", maxCodeAttempts, ErrDuplicateCode)
}

func (a *App) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	return a.repo.GetGame(ctx, id)
}

func (a *App) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	normalized, ok := NormalizeCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return a.repo.GetGameByCode(ctx, normalized)
}

// GetCurrentPhase is a point read of the phase by join code. Failures are
// logged and returned without retry.
func (a *App) GetCurrentPhase(ctx context.Context, code string) (models.Phase, error) {
	game, err := a.GetGameByCode(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("game_code", code).Msg("failed to fetch current phase")
		return "", err
	}
	return game.CurrentPhase, nil
}

// SetGamePhase writes phase without consulting the transition table. Use
// AdvancePhase for validated, race-safe moves.
func (a *App) SetGamePhase(ctx context.Context, gameID uuid.UUID, p models.Phase) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPhase, p)
	}

	game, err := a.repo.UpdatePhase(ctx, gameID, p)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Str("phase", p.String()).Msg("failed to set game phase")
		return err
	}

	log.Info().Str("game_id", gameID.String()).Str("phase", game.CurrentPhase.String()).Msg("set game phase")
	return nil
}

// AdvancePhase moves the game from one phase to the next if the move is legal
// and the game is still in from. It returns false when another writer got
// there first.
func (a *App) AdvancePhase(ctx context.Context, gameID uuid.UUID, from, to models.Phase) (bool, error) {
	if !from.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidPhase, from)
	}
	if !to.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidPhase, to)
	}
	if !phase.IsValidTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	newRound := from == models.PhaseFinalPlacements && to == models.PhaseCategorySelection
	game, changed, err := a.repo.CompareAndSetPhase(ctx, gameID, from, to, newRound)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to advance phase")
		return false, err
	}
	if !changed {
		log.Debug().
			Str("game_id", gameID.String()).
			Str("expected", from.String()).
			Str("actual", game.CurrentPhase.String()).
			Msg("phase already moved, skipping advance")
		return false, nil
	}

	log.Info().
		Str("game_id", gameID.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Int("round", game.CurrentRound).
		Msg("advanced phase")
	return true, nil
}

// StartTimer starts the kind countdown stamped with the server clock. A
// running timer is left untouched and no write is issued for it.
// durationSec <= 0 selects the configured default.
func (a *App) StartTimer(ctx context.Context, gameID uuid.UUID, kind models.TimerKind, durationSec int) (*StartTimerResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimerKind, kind)
	}
	if durationSec <= 0 {
		d, ok := a.cfg.DefaultDuration(kind)
		if !ok {
			return nil, fmt.Errorf("timer %s: %w", kind, ErrInvalidDuration)
		}
		durationSec = d
	}

	game, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	now := a.clock.Now()
	if current := game.Timer(kind); timer.Running(current, now) {
		log.Debug().
			Str("game_id", gameID.String()).
			Str("kind", string(kind)).
			Int("remaining", timer.RemainingFor(current, now)).
			Msg("timer already running, skipping write")
		return &StartTimerResult{Started: false, Timer: current, Game: game}, nil
	}

	game, started, err := a.repo.StartTimerIfIdle(ctx, gameID, kind, now, durationSec)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Str("kind", string(kind)).Msg("failed to start timer")
		return nil, err
	}
	if started {
		log.Info().
			Str("game_id", gameID.String()).
			Str("kind", string(kind)).
			Int("duration_sec", durationSec).
			Msg("started timer")
	}
	return &StartTimerResult{Started: started, Timer: game.Timer(kind), Game: game}, nil
}

// GetTimer returns the stored pair for kind.
func (a *App) GetTimer(ctx context.Context, gameID uuid.UUID, kind models.TimerKind) (models.Timer, error) {
	if !kind.Valid() {
		return models.Timer{}, fmt.Errorf("%w: %q", ErrUnknownTimerKind, kind)
	}
	game, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return models.Timer{}, err
	}
	return game.Timer(kind), nil
}

// JoinGame adds a player to the game with the given code. The first joiner
// asking to host becomes the host.
func (a *App) JoinGame(ctx context.Context, params JoinParams) (*models.Player, *models.Game, error) {
	name := strings.TrimSpace(params.DisplayName)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: display name is required", ErrInvalidRequest)
	}

	game, err := a.GetGameByCode(ctx, params.Code)
	if err != nil {
		return nil, nil, err
	}
	if game.CurrentPhase == models.PhaseGameComplete {
		return nil, nil, fmt.Errorf("%w: %s", ErrGameComplete, game.Code)
	}

	player, err := a.repo.AddPlayer(ctx, AddPlayerParams{
		ID:          uuid.New(),
		GameID:      game.ID,
		DisplayName: name,
		Avatar:      params.Avatar,
	})
	if err != nil {
		return nil, nil, err
	}

	if params.AsHost && game.HostID == nil {
		game, err = a.repo.SetHost(ctx, game.ID, player.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	log.Info().
		Str("game_id", game.ID.String()).
		Str("player_id", player.ID.String()).
		Bool("host", game.HostID != nil && *game.HostID == player.ID).
		Msg("player joined")
	return player, game, nil
}

func (a *App) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	return a.repo.ListPlayers(ctx, gameID)
}

// UpdateSongSelection records a player's pick for the current round.
func (a *App) UpdateSongSelection(ctx context.Context, params SongSelectionParams) (*models.Player, error) {
	if params.Selection != nil && strings.TrimSpace(params.Selection.SongID) == "" {
		return nil, fmt.Errorf("%w: song id is required", ErrInvalidRequest)
	}
	if params.Selection == nil && params.LockedIn {
		return nil, fmt.Errorf("%w: cannot lock in without a song", ErrInvalidRequest)
	}
	return a.repo.UpdateSongSelection(ctx, params)
}

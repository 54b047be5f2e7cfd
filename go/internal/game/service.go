package game

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/mcdev12/sonarchy/go/internal/phase"
	"github.com/mcdev12/sonarchy/go/internal/rpc"
	"github.com/mcdev12/sonarchy/go/internal/timer"
)

// ServiceName is the fully-qualified name of the game service.
const ServiceName = "sonarchy.game.v1.GameService"

// Procedure paths, one per RPC.
const (
	CreateGameProcedure          = "/" + ServiceName + "/CreateGame"
	GetGameProcedure             = "/" + ServiceName + "/GetGame"
	GetCurrentPhaseProcedure     = "/" + ServiceName + "/GetCurrentPhase"
	SetGamePhaseProcedure        = "/" + ServiceName + "/SetGamePhase"
	AdvancePhaseProcedure        = "/" + ServiceName + "/AdvancePhase"
	StartTimerProcedure          = "/" + ServiceName + "/StartTimer"
	GetTimerProcedure            = "/" + ServiceName + "/GetTimer"
	JoinGameProcedure            = "/" + ServiceName + "/JoinGame"
	ListPlayersProcedure         = "/" + ServiceName + "/ListPlayers"
	UpdateSongSelectionProcedure = "/" + ServiceName + "/UpdateSongSelection"
)

// GameApp defines what the service layer needs from the game application
type GameApp interface {
	Now() time.Time
	CreateGame(ctx context.Context) (*models.Game, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameByCode(ctx context.Context, code string) (*models.Game, error)
	GetCurrentPhase(ctx context.Context, code string) (models.Phase, error)
	SetGamePhase(ctx context.Context, gameID uuid.UUID, p models.Phase) error
	AdvancePhase(ctx context.Context, gameID uuid.UUID, from, to models.Phase) (bool, error)
	StartTimer(ctx context.Context, gameID uuid.UUID, kind models.TimerKind, durationSec int) (*StartTimerResult, error)
	GetTimer(ctx context.Context, gameID uuid.UUID, kind models.TimerKind) (models.Timer, error)
	JoinGame(ctx context.Context, params JoinParams) (*models.Player, *models.Game, error)
	ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error)
	UpdateSongSelection(ctx context.Context, params SongSelectionParams) (*models.Player, error)
}

// Service implements GameService as connect unary handlers
type Service struct {
	app GameApp
}

// NewService creates a new game service
func NewService(app GameApp) *Service {
	return &Service{app: app}
}

// Handler returns the mount path and handler for every GameService procedure.
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = rpc.HandlerOptions(opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateGameProcedure, connect.NewUnaryHandler(CreateGameProcedure, s.CreateGame, opts...))
	mux.Handle(GetGameProcedure, connect.NewUnaryHandler(GetGameProcedure, s.GetGame, opts...))
	mux.Handle(GetCurrentPhaseProcedure, connect.NewUnaryHandler(GetCurrentPhaseProcedure, s.GetCurrentPhase, opts...))
	mux.Handle(SetGamePhaseProcedure, connect.NewUnaryHandler(SetGamePhaseProcedure, s.SetGamePhase, opts...))
	mux.Handle(AdvancePhaseProcedure, connect.NewUnaryHandler(AdvancePhaseProcedure, s.AdvancePhase, opts...))
	mux.Handle(StartTimerProcedure, connect.NewUnaryHandler(StartTimerProcedure, s.StartTimer, opts...))
	mux.Handle(GetTimerProcedure, connect.NewUnaryHandler(GetTimerProcedure, s.GetTimer, opts...))
	mux.Handle(JoinGameProcedure, connect.NewUnaryHandler(JoinGameProcedure, s.JoinGame, opts...))
	mux.Handle(ListPlayersProcedure, connect.NewUnaryHandler(ListPlayersProcedure, s.ListPlayers, opts...))
	mux.Handle(UpdateSongSelectionProcedure, connect.NewUnaryHandler(UpdateSongSelectionProcedure, s.UpdateSongSelection, opts...))
	return "/" + ServiceName + "/", mux
}

// CreateGame creates a new game in the lobby
func (s *Service) CreateGame(ctx context.Context, req *connect.Request[CreateGameRequest]) (*connect.Response[CreateGameResponse], error) {
	game, err := s.app.CreateGame(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CreateGameResponse{Game: game}), nil
}

// GetGame retrieves a game by id or join code
func (s *Service) GetGame(ctx context.Context, req *connect.Request[GetGameRequest]) (*connect.Response[GetGameResponse], error) {
	var (
		game *models.Game
		err  error
	)
	switch {
	case req.Msg.GameID != "":
		id, perr := uuid.Parse(req.Msg.GameID)
		if perr != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, perr)
		}
		game, err = s.app.GetGame(ctx, id)
	case req.Msg.Code != "":
		game, err = s.app.GetGameByCode(ctx, req.Msg.Code)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("game_id or code is required"))
	}
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetGameResponse{Game: game, ServerTime: s.app.Now()}), nil
}

func (s *Service) GetCurrentPhase(ctx context.Context, req *connect.Request[GetCurrentPhaseRequest]) (*connect.Response[GetCurrentPhaseResponse], error) {
	p, err := s.app.GetCurrentPhase(ctx, req.Msg.Code)
	if err != nil {
		return nil, toConnectError(err)
	}
	route, _ := phase.PageForPhase(p)
	return connect.NewResponse(&GetCurrentPhaseResponse{Phase: p, Route: route}), nil
}

func (s *Service) SetGamePhase(ctx context.Context, req *connect.Request[SetGamePhaseRequest]) (*connect.Response[SetGamePhaseResponse], error) {
	id, err := uuid.Parse(req.Msg.GameID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := s.app.SetGamePhase(ctx, id, req.Msg.Phase); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SetGamePhaseResponse{}), nil
}

func (s *Service) AdvancePhase(ctx context.Context, req *connect.Request[AdvancePhaseRequest]) (*connect.Response[AdvancePhaseResponse], error) {
	id, err := uuid.Parse(req.Msg.GameID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	advanced, err := s.app.AdvancePhase(ctx, id, req.Msg.From, req.Msg.To)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AdvancePhaseResponse{Advanced: advanced}), nil
}

// StartTimer conditionally starts a server timer
func (s *Service) StartTimer(ctx context.Context, req *connect.Request[StartTimerRequest]) (*connect.Response[TimerResponse], error) {
	id, err := uuid.Parse(req.Msg.GameID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	res, err := s.app.StartTimer(ctx, id, req.Msg.Kind, req.Msg.DurationSec)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(s.timerResponse(req.Msg.Kind, res.Timer, res.Started)), nil
}

func (s *Service) GetTimer(ctx context.Context, req *connect.Request[GetTimerRequest]) (*connect.Response[TimerResponse], error) {
	id, err := uuid.Parse(req.Msg.GameID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	t, err := s.app.GetTimer(ctx, id, req.Msg.Kind)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(s.timerResponse(req.Msg.Kind, t, false)), nil
}

func (s *Service) JoinGame(ctx context.Context, req *connect.Request[JoinGameRequest]) (*connect.Response[JoinGameResponse], error) {
	player, game, err := s.app.JoinGame(ctx, JoinParams{
		Code:        req.Msg.Code,
		DisplayName: req.Msg.DisplayName,
		Avatar:      req.Msg.Avatar,
		AsHost:      req.Msg.AsHost,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&JoinGameResponse{Player: player, Game: game}), nil
}

func (s *Service) ListPlayers(ctx context.Context, req *connect.Request[ListPlayersRequest]) (*connect.Response[ListPlayersResponse], error) {
	id, err := uuid.Parse(req.Msg.GameID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	players, err := s.app.ListPlayers(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	if players == nil {
		players = []models.Player{}
	}
	return connect.NewResponse(&ListPlayersResponse{Players: players}), nil
}

func (s *Service) UpdateSongSelection(ctx context.Context, req *connect.Request[UpdateSongSelectionRequest]) (*connect.Response[UpdateSongSelectionResponse], error) {
	id, err := uuid.Parse(req.Msg.PlayerID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	player, err := s.app.UpdateSongSelection(ctx, SongSelectionParams{
		PlayerID:  id,
		Selection: req.Msg.Selection,
		LockedIn:  req.Msg.LockedIn,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&UpdateSongSelectionResponse{Player: player}), nil
}

func (s *Service) timerResponse(kind models.TimerKind, t models.Timer, started bool) *TimerResponse {
	now := s.app.Now()
	return &TimerResponse{
		Started:      started,
		Kind:         kind,
		Timer:        t,
		RemainingSec: timer.Clamp(timer.RemainingFor(t, now)),
		ServerTime:   now,
	}
}

// toConnectError maps app errors onto connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrGameNotFound), errors.Is(err, ErrPlayerNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrInvalidPhase),
		errors.Is(err, ErrUnknownTimerKind),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrInvalidRequest):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrGameComplete):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrDuplicateCode):
		return connect.NewError(connect.CodeAlreadyExists, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

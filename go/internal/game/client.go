package game

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/mcdev12/sonarchy/go/internal/rpc"
)

// Client is a typed GameService client.
type Client struct {
	createGame          *connect.Client[CreateGameRequest, CreateGameResponse]
	getGame             *connect.Client[GetGameRequest, GetGameResponse]
	getCurrentPhase     *connect.Client[GetCurrentPhaseRequest, GetCurrentPhaseResponse]
	setGamePhase        *connect.Client[SetGamePhaseRequest, SetGamePhaseResponse]
	advancePhase        *connect.Client[AdvancePhaseRequest, AdvancePhaseResponse]
	startTimer          *connect.Client[StartTimerRequest, TimerResponse]
	getTimer            *connect.Client[GetTimerRequest, TimerResponse]
	joinGame            *connect.Client[JoinGameRequest, JoinGameResponse]
	listPlayers         *connect.Client[ListPlayersRequest, ListPlayersResponse]
	updateSongSelection *connect.Client[UpdateSongSelectionRequest, UpdateSongSelectionResponse]
}

// NewClient creates a GameService client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = rpc.ClientOptions(opts...)
	return &Client{
		createGame:          connect.NewClient[CreateGameRequest, CreateGameResponse](httpClient, baseURL+CreateGameProcedure, opts...),
		getGame:             connect.NewClient[GetGameRequest, GetGameResponse](httpClient, baseURL+GetGameProcedure, opts...),
		getCurrentPhase:     connect.NewClient[GetCurrentPhaseRequest, GetCurrentPhaseResponse](httpClient, baseURL+GetCurrentPhaseProcedure, opts...),
		setGamePhase:        connect.NewClient[SetGamePhaseRequest, SetGamePhaseResponse](httpClient, baseURL+SetGamePhaseProcedure, opts...),
		advancePhase:        connect.NewClient[AdvancePhaseRequest, AdvancePhaseResponse](httpClient, baseURL+AdvancePhaseProcedure, opts...),
		startTimer:          connect.NewClient[StartTimerRequest, TimerResponse](httpClient, baseURL+StartTimerProcedure, opts...),
		getTimer:            connect.NewClient[GetTimerRequest, TimerResponse](httpClient, baseURL+GetTimerProcedure, opts...),
		joinGame:            connect.NewClient[JoinGameRequest, JoinGameResponse](httpClient, baseURL+JoinGameProcedure, opts...),
		listPlayers:         connect.NewClient[ListPlayersRequest, ListPlayersResponse](httpClient, baseURL+ListPlayersProcedure, opts...),
		updateSongSelection: connect.NewClient[UpdateSongSelectionRequest, UpdateSongSelectionResponse](httpClient, baseURL+UpdateSongSelectionProcedure, opts...),
	}
}

func (c *Client) CreateGame(ctx context.Context, req *CreateGameRequest) (*CreateGameResponse, error) {
	return call(ctx, c.createGame, req)
}

func (c *Client) GetGame(ctx context.Context, req *GetGameRequest) (*GetGameResponse, error) {
	return call(ctx, c.getGame, req)
}

func (c *Client) GetCurrentPhase(ctx context.Context, req *GetCurrentPhaseRequest) (*GetCurrentPhaseResponse, error) {
	return call(ctx, c.getCurrentPhase, req)
}

func (c *Client) SetGamePhase(ctx context.Context, req *SetGamePhaseRequest) (*SetGamePhaseResponse, error) {
	return call(ctx, c.setGamePhase, req)
}

func (c *Client) AdvancePhase(ctx context.Context, req *AdvancePhaseRequest) (*AdvancePhaseResponse, error) {
	return call(ctx, c.advancePhase, req)
}

func (c *Client) StartTimer(ctx context.Context, req *StartTimerRequest) (*TimerResponse, error) {
	return call(ctx, c.startTimer, req)
}

func (c *Client) GetTimer(ctx context.Context, req *GetTimerRequest) (*TimerResponse, error) {
	return call(ctx, c.getTimer, req)
}

func (c *Client) JoinGame(ctx context.Context, req *JoinGameRequest) (*JoinGameResponse, error) {
	return call(ctx, c.joinGame, req)
}

func (c *Client) ListPlayers(ctx context.Context, req *ListPlayersRequest) (*ListPlayersResponse, error) {
	return call(ctx, c.listPlayers, req)
}

func (c *Client) UpdateSongSelection(ctx context.Context, req *UpdateSongSelectionRequest) (*UpdateSongSelectionResponse, error) {
	return call(ctx, c.updateSongSelection, req)
}

func call[Req, Res any](ctx context.Context, client *connect.Client[Req, Res], req *Req) (*Res, error) {
	res, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

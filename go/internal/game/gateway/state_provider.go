package gateway

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

// ClientStateProvider implements StateProvider over the Game API.
type ClientStateProvider struct {
	client *game.Client
}

func NewClientStateProvider(client *game.Client) *ClientStateProvider {
	return &ClientStateProvider{client: client}
}

func (p *ClientStateProvider) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	resp, err := p.client.GetGame(ctx, &game.GetGameRequest{GameID: id.String()})
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Game, nil
}

func (p *ClientStateProvider) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	resp, err := p.client.GetGame(ctx, &game.GetGameRequest{Code: code})
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Game, nil
}

func (p *ClientStateProvider) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	resp, err := p.client.ListPlayers(ctx, &game.ListPlayersRequest{GameID: gameID.String()})
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Players, nil
}

func fromConnectError(err error) error {
	if connect.CodeOf(err) == connect.CodeNotFound {
		return fmt.Errorf("%w: %v", game.ErrGameNotFound, err)
	}
	return fmt.Errorf("game api: %w", err)
}

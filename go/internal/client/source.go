package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

// GameAPI is the part of the game service a device talks to.
// *game.Client satisfies it.
type GameAPI interface {
	JoinGame(ctx context.Context, req *game.JoinGameRequest) (*game.JoinGameResponse, error)
	ListPlayers(ctx context.Context, req *game.ListPlayersRequest) (*game.ListPlayersResponse, error)
	GetTimer(ctx context.Context, req *game.GetTimerRequest) (*game.TimerResponse, error)
	StartTimer(ctx context.Context, req *game.StartTimerRequest) (*game.TimerResponse, error)
	AdvancePhase(ctx context.Context, req *game.AdvancePhaseRequest) (*game.AdvancePhaseResponse, error)
}

// timerSource feeds one timer kind of one game to a timer.Watcher. Reads
// and conditional starts go to the game API; pushes come from the gateway
// subscription.
type timerSource struct {
	api    GameAPI
	gameID uuid.UUID
	kind   models.TimerKind

	mu          sync.Mutex
	subscribers map[int]func(models.Timer)
	nextID      int
}

func newTimerSource(api GameAPI, gameID uuid.UUID, kind models.TimerKind) *timerSource {
	return &timerSource{
		api:         api,
		gameID:      gameID,
		kind:        kind,
		subscribers: make(map[int]func(models.Timer)),
	}
}

func (s *timerSource) Snapshot(ctx context.Context) (models.Timer, error) {
	res, err := s.api.GetTimer(ctx, &game.GetTimerRequest{GameID: s.gameID.String(), Kind: s.kind})
	if err != nil {
		return models.Timer{}, err
	}
	return res.Timer, nil
}

func (s *timerSource) Subscribe(onChange func(models.Timer)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subscribers[id] = onChange

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}, nil
}

func (s *timerSource) StartTimer(ctx context.Context, durationSec int) (bool, models.Timer, error) {
	res, err := s.api.StartTimer(ctx, &game.StartTimerRequest{
		GameID:      s.gameID.String(),
		Kind:        s.kind,
		DurationSec: durationSec,
	})
	if err != nil {
		return false, models.Timer{}, err
	}
	return res.Started, res.Timer, nil
}

// publish hands a pushed pair to every subscriber.
func (s *timerSource) publish(t models.Timer) {
	s.mu.Lock()
	subs := make([]func(models.Timer), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
}

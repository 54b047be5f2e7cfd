package game

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

func newTestServer(t *testing.T) (*Client, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC))
	app := NewApp(NewMemoryRepository(clock), clock, DefaultConfig())

	mux := http.NewServeMux()
	mux.Handle(NewService(app).Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewClient(srv.Client(), srv.URL), clock
}

func connectCode(err error) connect.Code {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return connect.CodeUnknown
}

func TestServiceRoundTrip(t *testing.T) {
	client, clock := newTestServer(t)
	ctx := context.Background()

	created, err := client.CreateGame(ctx, &CreateGameRequest{})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	gameID := created.Game.ID.String()

	joined, err := client.JoinGame(ctx, &JoinGameRequest{Code: created.Game.Code, DisplayName: "Host", AsHost: true})
	if err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	if joined.Game.HostID == nil || *joined.Game.HostID != joined.Player.ID {
		t.Fatalf("joined player is not host")
	}

	adv, err := client.AdvancePhase(ctx, &AdvancePhaseRequest{GameID: gameID, From: models.PhaseLobby, To: models.PhaseCategorySelection})
	if err != nil || !adv.Advanced {
		t.Fatalf("AdvancePhase = %+v, %v", adv, err)
	}

	phase, err := client.GetCurrentPhase(ctx, &GetCurrentPhaseRequest{Code: created.Game.Code})
	if err != nil {
		t.Fatalf("GetCurrentPhase: %v", err)
	}
	if phase.Phase != models.PhaseCategorySelection || phase.Route != "/category-selection" {
		t.Fatalf("GetCurrentPhase = %+v", phase)
	}

	started, err := client.StartTimer(ctx, &StartTimerRequest{GameID: gameID, Kind: models.TimerCategorySelection, DurationSec: 20})
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if !started.Started || started.RemainingSec != 20 {
		t.Fatalf("StartTimer = %+v", started)
	}

	clock.Advance(7*time.Second + 400*time.Millisecond)
	got, err := client.GetTimer(ctx, &GetTimerRequest{GameID: gameID, Kind: models.TimerCategorySelection})
	if err != nil {
		t.Fatalf("GetTimer: %v", err)
	}
	if got.RemainingSec != 13 || got.Started {
		t.Fatalf("GetTimer = %+v, want 13s remaining", got)
	}

	players, err := client.ListPlayers(ctx, &ListPlayersRequest{GameID: gameID})
	if err != nil || len(players.Players) != 1 {
		t.Fatalf("ListPlayers = %+v, %v", players, err)
	}
}

func TestServiceErrorCodes(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	created, err := client.CreateGame(ctx, &CreateGameRequest{})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	gameID := created.Game.ID.String()

	tests := []struct {
		name string
		call func() error
		want connect.Code
	}{
		{"unknown game code", func() error {
			_, err := client.GetCurrentPhase(ctx, &GetCurrentPhaseRequest{Code: "ZZZZZZ"})
			return err
		}, connect.CodeNotFound},
		{"malformed game id", func() error {
			_, err := client.GetGame(ctx, &GetGameRequest{GameID: "not-a-uuid"})
			return err
		}, connect.CodeInvalidArgument},
		{"missing lookup key", func() error {
			_, err := client.GetGame(ctx, &GetGameRequest{})
			return err
		}, connect.CodeInvalidArgument},
		{"unknown timer kind", func() error {
			_, err := client.StartTimer(ctx, &StartTimerRequest{GameID: gameID, Kind: "intermission"})
			return err
		}, connect.CodeInvalidArgument},
		{"illegal transition", func() error {
			_, err := client.AdvancePhase(ctx, &AdvancePhaseRequest{GameID: gameID, From: models.PhaseLobby, To: models.PhaseRanking})
			return err
		}, connect.CodeFailedPrecondition},
		{"unknown player", func() error {
			_, err := client.UpdateSongSelection(ctx, &UpdateSongSelectionRequest{
				PlayerID:  uuid.NewString(),
				Selection: &models.SongSelection{SongID: "s1"},
			})
			return err
		}, connect.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if got := connectCode(err); got != tt.want {
				t.Fatalf("code = %v (%v), want %v", got, err, tt.want)
			}
		})
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/game/events"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

var testNow = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type fakeAPI struct {
	clock clockwork.Clock

	mu       sync.Mutex
	games    map[uuid.UUID]models.Game
	getErr   error
	gets     int
	advances []*game.AdvancePhaseRequest
	advCh    chan *game.AdvancePhaseRequest
}

func newFakeAPI(clock clockwork.Clock) *fakeAPI {
	return &fakeAPI{
		clock: clock,
		games: make(map[uuid.UUID]models.Game),
		advCh: make(chan *game.AdvancePhaseRequest, 10),
	}
}

func (f *fakeAPI) put(g models.Game) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games[g.ID] = g
}

func (f *fakeAPI) GetGame(ctx context.Context, req *game.GetGameRequest) (*game.GetGameResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	g, ok := f.games[uuid.MustParse(req.GameID)]
	if !ok {
		return nil, game.ErrGameNotFound
	}
	return &game.GetGameResponse{Game: &g, ServerTime: f.clock.Now()}, nil
}

func (f *fakeAPI) AdvancePhase(ctx context.Context, req *game.AdvancePhaseRequest) (*game.AdvancePhaseResponse, error) {
	f.mu.Lock()
	id := uuid.MustParse(req.GameID)
	g := f.games[id]
	advanced := g.CurrentPhase == req.From
	if advanced {
		g.CurrentPhase = req.To
		f.games[id] = g
	}
	f.advances = append(f.advances, req)
	f.mu.Unlock()

	f.advCh <- req
	return &game.AdvancePhaseResponse{Advanced: advanced}, nil
}

func (f *fakeAPI) advanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.advances)
}

func gameIn(phase models.Phase, kind models.TimerKind, start time.Time, durationSec int) models.Game {
	g := models.Game{
		ID:           uuid.New(),
		Code:         "ABCDEF",
		CurrentPhase: phase,
		CurrentRound: 1,
		Timers:       map[models.TimerKind]models.Timer{},
	}
	if kind != "" {
		s, d := start, durationSec
		g.Timers[kind] = models.Timer{StartTime: &s, DurationSec: &d}
	}
	return g
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func waitAdvance(t *testing.T, api *fakeAPI) *game.AdvancePhaseRequest {
	t.Helper()
	select {
	case req := <-api.advCh:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("no AdvancePhase call")
		return nil
	}
}

func TestExpiryFor(t *testing.T) {
	tests := []struct {
		kind     models.TimerKind
		wantOK   bool
		wantFrom models.Phase
		wantTo   models.Phase
	}{
		{models.TimerCategorySelection, true, models.PhaseCategorySelection, models.PhaseSongSelection},
		{models.TimerSongSelection, true, models.PhaseSongSelection, models.PhasePlayersLockedIn},
		{models.TimerSong, true, models.PhasePlayback, models.PhaseRanking},
		{models.TimerLeaderboard, true, models.PhaseRanking, models.PhaseFinalPlacements},
		{models.TimerWaiting, false, "", ""},
		{models.TimerNameVote, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e, ok := ExpiryFor(tt.kind)
			if ok != tt.wantOK || e.From != tt.wantFrom || e.To != tt.wantTo {
				t.Fatalf("ExpiryFor(%s) = %+v, %v", tt.kind, e, ok)
			}
		})
	}
}

func TestTimerStartedAdvancesOnExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(testNow)
	api := newFakeAPI(clock)
	o := NewOrchestrator(api, clock, 2)
	wg := o.startWorkers(ctx)
	defer wg.Wait()
	defer cancel()

	g := gameIn(models.PhasePlayback, models.TimerSong, testNow, 30)
	api.put(g)

	err := o.HandleDomainEvent(ctx, events.TypeTimerStarted, g.ID, payload(t, events.TimerStartedPayload{
		GameID:      g.ID.String(),
		Kind:        models.TimerSong,
		Phase:       models.PhasePlayback,
		StartTime:   testNow,
		DurationSec: 30,
	}))
	if err != nil {
		t.Fatalf("HandleDomainEvent: %v", err)
	}
	if got := o.ActiveTimers(); got != 1 {
		t.Fatalf("ActiveTimers = %d, want 1", got)
	}

	clock.Advance(31 * time.Second)
	req := waitAdvance(t, api)
	if req.From != models.PhasePlayback || req.To != models.PhaseRanking || req.GameID != g.ID.String() {
		t.Fatalf("advance = %+v", req)
	}
}

func TestDuplicateTimerStartedSchedulesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(testNow)
	api := newFakeAPI(clock)
	o := NewOrchestrator(api, clock, 1)

	g := gameIn(models.PhaseRanking, models.TimerLeaderboard, testNow, 15)
	api.put(g)
	p := payload(t, events.TimerStartedPayload{
		GameID:      g.ID.String(),
		Kind:        models.TimerLeaderboard,
		StartTime:   testNow,
		DurationSec: 15,
	})
	for i := 0; i < 3; i++ {
		if err := o.HandleDomainEvent(ctx, events.TypeTimerStarted, g.ID, p); err != nil {
			t.Fatalf("HandleDomainEvent: %v", err)
		}
	}
	if got := o.ActiveTimers(); got != 1 {
		t.Fatalf("ActiveTimers = %d, want 1", got)
	}
}

func TestDeviceTimersAreNotScheduled(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	o := NewOrchestrator(newFakeAPI(clock), clock, 1)
	gameID := uuid.New()

	err := o.HandleDomainEvent(context.Background(), events.TypeTimerStarted, gameID, payload(t, events.TimerStartedPayload{
		GameID:      gameID.String(),
		Kind:        models.TimerWaiting,
		StartTime:   testNow,
		DurationSec: 10,
	}))
	if err != nil {
		t.Fatalf("HandleDomainEvent: %v", err)
	}
	if got := o.ActiveTimers(); got != 0 {
		t.Fatalf("ActiveTimers = %d, want 0", got)
	}
}

func TestPhaseChangedCancelsLeftTimers(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(testNow)
	o := NewOrchestrator(newFakeAPI(clock), clock, 1)
	gameID := uuid.New()

	o.scheduleExpiry(ctx, gameID, models.TimerSong, testNow, 30)
	o.scheduleExpiry(ctx, gameID, models.TimerLeaderboard, testNow, 30)
	if got := o.ActiveTimers(); got != 2 {
		t.Fatalf("ActiveTimers = %d, want 2", got)
	}

	err := o.HandleDomainEvent(ctx, events.TypePhaseChanged, gameID, payload(t, events.PhaseChangedPayload{
		GameID: gameID.String(),
		From:   models.PhasePlayback,
		To:     models.PhaseRanking,
	}))
	if err != nil {
		t.Fatalf("HandleDomainEvent: %v", err)
	}
	if got := o.ActiveTimers(); got != 1 {
		t.Fatalf("ActiveTimers = %d, want 1 (leaderboard kept)", got)
	}

	o.activeTimersMu.Lock()
	_, keptLeaderboard := o.activeTimers[timerKey{GameID: gameID, Kind: string(models.TimerLeaderboard)}]
	o.activeTimersMu.Unlock()
	if !keptLeaderboard {
		t.Fatalf("leaderboard timer was cancelled")
	}
}

func TestGameUpdatedRearmsRunningTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(testNow)
	api := newFakeAPI(clock)
	o := NewOrchestrator(api, clock, 1)
	wg := o.startWorkers(ctx)
	defer wg.Wait()
	defer cancel()

	// Started 25s ago with 20s on the clock: already over, so it is handled now.
	g := gameIn(models.PhaseCategorySelection, models.TimerCategorySelection, testNow.Add(-25*time.Second), 20)
	api.put(g)

	err := o.HandleDomainEvent(ctx, events.TypeGameUpdated, g.ID, payload(t, events.GameUpdatedPayload{Game: g}))
	if err != nil {
		t.Fatalf("HandleDomainEvent: %v", err)
	}
	req := waitAdvance(t, api)
	if req.From != models.PhaseCategorySelection || req.To != models.PhaseSongSelection {
		t.Fatalf("advance = %+v", req)
	}
}

func TestGameUpdatedIgnoresOtherPhaseTimers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	o := NewOrchestrator(newFakeAPI(clock), clock, 1)

	g := gameIn(models.PhaseLobby, models.TimerSong, testNow, 30)
	if err := o.handleGameUpdated(context.Background(), g); err != nil {
		t.Fatalf("handleGameUpdated: %v", err)
	}
	if got := o.ActiveTimers(); got != 0 {
		t.Fatalf("ActiveTimers = %d, want 0", got)
	}

	if err := o.handleGameUpdated(context.Background(), models.Game{}); err == nil {
		t.Fatalf("expected error for game without id")
	}
}

func TestHandleExpiry(t *testing.T) {
	start := testNow.Add(-30 * time.Second)
	exp, _ := ExpiryFor(models.TimerSong)

	tests := []struct {
		name        string
		game        models.Game
		jobStart    time.Time
		wantAdvance bool
		wantArmed   int
	}{
		{
			name:        "expired and current",
			game:        gameIn(models.PhasePlayback, models.TimerSong, start, 30),
			jobStart:    start,
			wantAdvance: true,
		},
		{
			name:     "phase already moved",
			game:     gameIn(models.PhaseRanking, models.TimerSong, start, 30),
			jobStart: start,
		},
		{
			name:     "timer restarted since",
			game:     gameIn(models.PhasePlayback, models.TimerSong, testNow, 30),
			jobStart: start,
		},
		{
			name:     "timer cleared",
			game:     gameIn(models.PhasePlayback, "", time.Time{}, 0),
			jobStart: start,
		},
		{
			name:      "server clock behind",
			game:      gameIn(models.PhasePlayback, models.TimerSong, start, 40),
			jobStart:  start,
			wantArmed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(testNow)
			api := newFakeAPI(clock)
			api.put(tt.game)
			o := NewOrchestrator(api, clock, 1)

			job := expiryJob{GameID: tt.game.ID, Expiry: exp, StartTime: tt.jobStart}
			if err := o.handleExpiry(context.Background(), job); err != nil {
				t.Fatalf("handleExpiry: %v", err)
			}
			gotAdvance := api.advanceCount() == 1
			if gotAdvance != tt.wantAdvance {
				t.Fatalf("advanced = %v, want %v", gotAdvance, tt.wantAdvance)
			}
			if got := o.ActiveTimers(); got != tt.wantArmed {
				t.Fatalf("ActiveTimers = %d, want %d", got, tt.wantArmed)
			}
		})
	}
}

func TestHandleExpiryGetGameError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	api := newFakeAPI(clock)
	api.getErr = errors.New("unavailable")
	o := NewOrchestrator(api, clock, 1)

	exp, _ := ExpiryFor(models.TimerSong)
	err := o.handleExpiry(context.Background(), expiryJob{GameID: uuid.New(), Expiry: exp, StartTime: testNow})
	if err == nil {
		t.Fatalf("expected error")
	}
	if api.advanceCount() != 0 {
		t.Fatalf("advanced despite GetGame failure")
	}
}

func TestHandleData(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	o := NewOrchestrator(newFakeAPI(clock), clock, 1)
	gameID := uuid.New()

	good := payload(t, events.Envelope{
		EventID:   uuid.NewString(),
		EventType: events.TypeTimerStarted,
		GameID:    gameID.String(),
		Timestamp: testNow,
		Payload: payload(t, events.TimerStartedPayload{
			GameID:      gameID.String(),
			Kind:        models.TimerSongSelection,
			StartTime:   testNow,
			DurationSec: 45,
		}),
	})

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"timer started", good, false},
		{"not json", []byte("nope"), true},
		{"bad game id", payload(t, events.Envelope{EventType: events.TypeGameUpdated, GameID: "x"}), true},
		{"bad payload", payload(t, events.Envelope{EventType: events.TypeTimerStarted, GameID: gameID.String(), Payload: json.RawMessage(`[]`)}), true},
		{"unknown type", payload(t, events.Envelope{EventType: "Mystery", GameID: gameID.String()}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.handleData(context.Background(), tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("handleData err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if got := o.ActiveTimers(); got != 1 {
		t.Fatalf("ActiveTimers = %d, want 1", got)
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/mcdev12/sonarchy/go/internal/game/events"
)

func waitForConnections(t *testing.T, cm *ConnectionManager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cm.GetConnectionStats().TotalConnections == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connections = %d, want %d", cm.GetConnectionStats().TotalConnections, want)
}

func TestBroadcastToGameRoom(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	router := httprouter.New()
	NewWebSocketHandler(cm).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/game"
	gameA, gameB := uuid.New(), uuid.New()

	connA, _, err := websocket.DefaultDialer.Dial(wsURL+"?game_id="+gameA.String()+"&player_id=p1", nil)
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial(wsURL+"?game_id="+gameB.String(), nil)
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()
	waitForConnections(t, cm, 2)

	stats := cm.GetConnectionStats()
	if stats.ActiveGames != 2 || stats.GameConnections[gameA.String()] != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	cm.BroadcastToGame(gameA, &GameEvent{ID: "e1", GameID: gameA.String(), Type: events.TypeTimerStarted, Data: json.RawMessage(`{}`)})

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := connA.ReadMessage()
	if err != nil {
		t.Fatalf("read A: %v", err)
	}
	var got GameEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "e1" || got.Type != events.TypeTimerStarted {
		t.Fatalf("frame = %+v", got)
	}

	// The other room must not see it.
	connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Fatalf("game B received game A's event")
	}
}

func TestHandleGameConnectionValidation(t *testing.T) {
	router := httprouter.New()
	NewWebSocketHandler(NewConnectionManager(DefaultConnectionConfig(), nil)).RegisterRoutes(router)

	tests := []struct {
		name  string
		query string
	}{
		{"missing game", ""},
		{"bad game", "?game_id=nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/game"+tt.query, nil))
			if rec.Code != 400 {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

type countingSnapshotter struct {
	calls atomic.Int32
}

func (s *countingSnapshotter) Snapshot(ctx context.Context, gameID uuid.UUID) (*GameEvent, error) {
	n := s.calls.Add(1)
	data, err := json.Marshal(SnapshotData{State: &GameStateResponse{GameID: gameID.String(), Round: int(n)}})
	if err != nil {
		return nil, err
	}
	return &GameEvent{ID: uuid.NewString(), GameID: gameID.String(), Type: TypeGameSnapshot, Data: data}, nil
}

func readSnapshot(t *testing.T, conn *websocket.Conn) SnapshotData {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame GameEvent
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Type != TypeGameSnapshot {
		t.Fatalf("frame type = %s, want %s", frame.Type, TypeGameSnapshot)
	}
	var data SnapshotData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return data
}

func TestSnapshotOnConnectAndResync(t *testing.T) {
	snapshots := &countingSnapshotter{}
	cm := NewConnectionManager(DefaultConnectionConfig(), snapshots)

	router := httprouter.New()
	NewWebSocketHandler(cm).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	gameID := uuid.New()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/game?game_id=" + gameID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readSnapshot(t, conn)
	if first.State == nil || first.State.GameID != gameID.String() || first.State.Round != 1 {
		t.Fatalf("connect snapshot = %+v", first.State)
	}

	// Unknown messages are ignored; resync gets a fresh snapshot.
	if err := conn.WriteJSON(ClientMessage{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if err := conn.WriteJSON(ClientMessage{Type: ClientResync}); err != nil {
		t.Fatalf("write resync: %v", err)
	}
	second := readSnapshot(t, conn)
	if second.State.Round != 2 {
		t.Fatalf("resync snapshot round = %d, want 2", second.State.Round)
	}
	if got := snapshots.calls.Load(); got != 2 {
		t.Fatalf("snapshot calls = %d, want 2", got)
	}
}

func TestEnqueueAfterUnregister(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), nil)
	conn := &Connection{ID: "c1", GameID: uuid.New(), Send: make(chan []byte, 1), Manager: cm}

	cm.registerConnection(conn)
	if err := cm.enqueue(conn, []byte("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := cm.enqueue(conn, []byte("b")); err != errSendBufferFull {
		t.Fatalf("full buffer err = %v, want errSendBufferFull", err)
	}

	cm.unregisterConnection(conn)
	if err := cm.enqueue(conn, []byte("c")); err != errConnectionClosed {
		t.Fatalf("closed err = %v, want errConnectionClosed", err)
	}
}

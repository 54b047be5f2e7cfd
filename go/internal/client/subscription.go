package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/sonarchy/go/internal/game/events"
	"github.com/mcdev12/sonarchy/go/internal/game/gateway"
	"github.com/mcdev12/sonarchy/go/internal/gamestate"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Connect opens the gateway websocket for the joined game and starts
// applying its frames. Done is closed when the connection ends.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.RLock()
	joined := s.joined
	gameID, playerID := s.game.ID, s.player.ID
	s.mu.RUnlock()
	if !joined {
		return ErrNotJoined
	}

	wsURL, err := subscriptionURL(s.cfg.GatewayURL, gameID.String(), playerID.String())
	if err != nil {
		return err
	}

	conn, _, err := s.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		log.Error().Err(err).Str("url", wsURL).Msg("failed to connect to gateway")
		return fmt.Errorf("dial gateway: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	log.Info().Str("game_id", gameID.String()).Msg("subscribed to game events")
	go s.readLoop(conn, done)
	return nil
}

// Done is closed when the gateway connection ends.
func (s *Session) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

func subscriptionURL(base, gameID, playerID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/ws/game")
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("game_id", gameID)
	q.Set("player_id", playerID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("gateway read error")
			}
			return
		}
		if err := s.handleFrame(context.Background(), message); err != nil {
			log.Warn().Err(err).Msg("failed to apply game event")
		}
	}
}

// handleFrame applies one gateway frame to the session.
func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	var event gateway.GameEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}

	switch event.Type {
	case events.TypeGameUpdated:
		var p events.GameUpdatedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("unmarshal GameUpdated: %w", err)
		}
		s.applyGame(p.Game)

	case events.TypePhaseChanged:
		var p events.PhaseChangedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("unmarshal PhaseChanged: %w", err)
		}
		return s.applyPhase(ctx, p)

	case events.TypeTimerStarted:
		var p events.TimerStartedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("unmarshal TimerStarted: %w", err)
		}
		start, dur := p.StartTime, p.DurationSec
		s.publishTimer(p.Kind, models.Timer{StartTime: &start, DurationSec: &dur})

	case events.TypePlayerJoined:
		var p events.PlayerJoinedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("unmarshal PlayerJoined: %w", err)
		}
		return s.Cache().SetPlayer(ctx, p.Player.ID.String(), playerData(p.Player))

	case events.TypeSongSelectionUpdated:
		var p events.SongSelectionUpdatedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("unmarshal SongSelectionUpdated: %w", err)
		}
		_, err := s.Cache().Update(ctx, func(st *gamestate.State) {
			pd := st.Players[p.PlayerID]
			pd.Song = p.Selection
			st.Players[p.PlayerID] = pd
		})
		return err

	case gateway.TypeGameSnapshot:
		var p gateway.SnapshotData
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("unmarshal GameSnapshot: %w", err)
		}
		return s.applySnapshot(ctx, p)

	default:
		log.Debug().Str("type", event.Type).Msg("ignoring game event")
	}
	return nil
}

// applyGame adopts a full row and pushes each timer pair to its watcher.
func (s *Session) applyGame(g models.Game) {
	s.mu.Lock()
	if g.ID != s.game.ID {
		s.mu.Unlock()
		return
	}
	s.game = g
	s.mu.Unlock()

	for _, kind := range models.TimerKinds {
		s.publishTimer(kind, g.Timer(kind))
	}
}

func (s *Session) applyPhase(ctx context.Context, p events.PhaseChangedPayload) error {
	s.mu.Lock()
	s.game.CurrentPhase = p.To
	s.game.CurrentRound = p.Round
	s.mu.Unlock()

	if p.From == models.PhaseFinalPlacements && p.To == models.PhaseCategorySelection {
		if _, err := s.Cache().StartNewRound(ctx); err != nil {
			log.Error().Err(err).Msg("failed to start new round in cache")
		}
	}

	s.navigate(p.To)
	return nil
}

// applySnapshot adopts a gateway snapshot: the row, the roster and any
// phase or round the device missed while it was away.
func (s *Session) applySnapshot(ctx context.Context, snap gateway.SnapshotData) error {
	prev := s.Game()
	if snap.Game.ID != prev.ID {
		return nil
	}
	s.applyGame(snap.Game)

	if snap.State != nil {
		if err := s.reconcilePlayers(ctx, snap.State.Players); err != nil {
			return fmt.Errorf("reconcile players: %w", err)
		}
	}

	if snap.Game.CurrentRound > prev.CurrentRound {
		if _, err := s.Cache().StartNewRound(ctx); err != nil {
			log.Error().Err(err).Msg("failed to start new round in cache")
		}
	}
	if snap.Game.CurrentPhase != prev.CurrentPhase {
		s.navigate(snap.Game.CurrentPhase)
	}
	return nil
}

// reconcilePlayers makes the cached roster match players. Local-only
// fields such as Color are kept for players that remain.
func (s *Session) reconcilePlayers(ctx context.Context, players []models.Player) error {
	cache := s.Cache()
	cached := cache.State().Players

	seen := make(map[string]bool, len(players))
	for _, p := range players {
		id := p.ID.String()
		seen[id] = true
		data := playerData(p)
		data.Color = cached[id].Color
		if err := cache.SetPlayer(ctx, id, data); err != nil {
			return err
		}
	}
	for id := range cached {
		if seen[id] {
			continue
		}
		if err := cache.RemovePlayer(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// requestSnapshot asks the gateway to resend the game state. It is a no-op
// before Connect.
func (s *Session) requestSnapshot() error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(gateway.ClientMessage{Type: gateway.ClientResync}); err != nil {
		return fmt.Errorf("write resync: %w", err)
	}
	return nil
}

func (s *Session) publishTimer(kind models.TimerKind, t models.Timer) {
	s.mu.RLock()
	src, ok := s.sources[kind]
	s.mu.RUnlock()
	if ok {
		src.publish(t)
	}
}

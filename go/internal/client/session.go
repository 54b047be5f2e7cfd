package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/game/orchestrator"
	"github.com/mcdev12/sonarchy/go/internal/gamestate"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/mcdev12/sonarchy/go/internal/phase"
	"github.com/mcdev12/sonarchy/go/internal/timer"
	"github.com/rs/zerolog/log"
)

const advanceTimeout = 10 * time.Second

// ErrNotJoined is returned by operations that need a joined game.
var ErrNotJoined = errors.New("client: not joined to a game")

// Config configures a Session.
type Config struct {
	// GatewayURL is the websocket base, e.g. ws://localhost:8081.
	GatewayURL string
	Store      gamestate.Store
	Clock      clockwork.Clock
	Dialer     *websocket.Dialer

	// OnNavigate receives the page URL every time the game enters a phase.
	OnNavigate func(url string)
	// OnTimer receives every watcher status change.
	OnTimer func(timer.Status)
	// AutoStartTimers makes the host start the server timers of each phase
	// it enters, with the configured default durations.
	AutoStartTimers bool
}

// JoinParams describes how this device joins.
type JoinParams struct {
	Code        string
	DisplayName string
	Avatar      string
	AsHost      bool
}

// Session is one device taking part in a game: it joins over the game API,
// follows the gateway event stream, keeps the local cache and runs a
// watcher per timer kind.
type Session struct {
	api   GameAPI
	cfg   Config
	clock clockwork.Clock

	mu       sync.RWMutex
	game     models.Game
	player   models.Player
	joined   bool
	cache    *gamestate.Cache
	sources  map[models.TimerKind]*timerSource
	watchers map[models.TimerKind]*timer.Watcher

	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

func NewSession(api GameAPI, cfg Config) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Store == nil {
		cfg.Store = gamestate.NewMemoryStore()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Session{
		api:      api,
		cfg:      cfg,
		clock:    clock,
		sources:  make(map[models.TimerKind]*timerSource),
		watchers: make(map[models.TimerKind]*timer.Watcher),
	}
}

// Join joins the game with the given code, hydrates the cache and starts
// a watcher for every timer kind.
func (s *Session) Join(ctx context.Context, params JoinParams) error {
	res, err := s.api.JoinGame(ctx, &game.JoinGameRequest{
		Code:        params.Code,
		DisplayName: params.DisplayName,
		Avatar:      params.Avatar,
		AsHost:      params.AsHost,
	})
	if err != nil {
		log.Error().Err(err).Str("game_code", params.Code).Msg("failed to join game")
		return fmt.Errorf("join game: %w", err)
	}

	cache := gamestate.NewCache(s.cfg.Store, gamestate.KeyForGame(res.Game.Code))
	if err := cache.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load cached game state")
	}

	s.mu.Lock()
	s.game = *res.Game
	s.player = *res.Player
	s.joined = true
	s.cache = cache
	s.mu.Unlock()

	if err := s.seedPlayers(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to seed players into cache")
	}

	for _, kind := range models.TimerKinds {
		if err := s.startWatcher(ctx, kind); err != nil {
			return err
		}
	}

	log.Info().
		Str("game_id", res.Game.ID.String()).
		Str("player_id", res.Player.ID.String()).
		Bool("host", s.IsHost()).
		Msg("joined game")

	s.navigate(res.Game.CurrentPhase)
	return nil
}

func (s *Session) seedPlayers(ctx context.Context) error {
	g := s.Game()
	res, err := s.api.ListPlayers(ctx, &game.ListPlayersRequest{GameID: g.ID.String()})
	if err != nil {
		return err
	}
	for _, p := range res.Players {
		if err := s.cache.SetPlayer(ctx, p.ID.String(), playerData(p)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) startWatcher(ctx context.Context, kind models.TimerKind) error {
	src := newTimerSource(s.api, s.Game().ID, kind)
	w := timer.NewWatcher(timer.WatcherConfig{
		Kind:     kind,
		Source:   src,
		Starter:  src,
		Clock:    s.clock,
		OnExpire: func() { s.handleExpire(kind) },
		OnChange: s.cfg.OnTimer,
	})

	s.mu.Lock()
	s.sources[kind] = src
	s.watchers[kind] = w
	s.mu.Unlock()

	return w.Start(ctx)
}

// StartTimer starts the kind countdown unless one is already running.
func (s *Session) StartTimer(ctx context.Context, kind models.TimerKind, durationSec int) (bool, error) {
	s.mu.RLock()
	w, ok := s.watchers[kind]
	s.mu.RUnlock()
	if !ok {
		return false, ErrNotJoined
	}
	return w.StartTimer(ctx, durationSec)
}

// TimerStatus returns the watcher view for kind.
func (s *Session) TimerStatus(kind models.TimerKind) (timer.Status, bool) {
	s.mu.RLock()
	w, ok := s.watchers[kind]
	s.mu.RUnlock()
	if !ok {
		return timer.Status{}, false
	}
	return w.Status(), true
}

// Resync recomputes every running countdown and asks the gateway for a
// fresh snapshot. Call it when the device comes back to the foreground.
//
// Watcher callbacks take s.mu, so they must run with it released.
func (s *Session) Resync() {
	s.mu.RLock()
	watchers := make([]*timer.Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.RUnlock()

	for _, w := range watchers {
		w.Resync()
	}
	if err := s.requestSnapshot(); err != nil {
		log.Warn().Err(err).Msg("failed to request game snapshot")
	}
}

func (s *Session) Game() models.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.game
}

func (s *Session) Player() models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player
}

func (s *Session) Cache() *gamestate.Cache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// IsHost reports whether this device's player hosts the game.
func (s *Session) IsHost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joined && s.game.HostID != nil && *s.game.HostID == s.player.ID
}

// handleExpire is the watcher callback. Only the host advances, and only
// for kinds that drive a phase move while the game is still in that phase.
func (s *Session) handleExpire(kind models.TimerKind) {
	exp, ok := orchestrator.ExpiryFor(kind)
	if !ok || !s.IsHost() {
		return
	}
	g := s.Game()
	if g.CurrentPhase != exp.From {
		log.Debug().
			Str("kind", string(kind)).
			Str("phase", g.CurrentPhase.String()).
			Msg("timer expired outside its phase, not advancing")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
	defer cancel()

	res, err := s.api.AdvancePhase(ctx, &game.AdvancePhaseRequest{
		GameID: g.ID.String(),
		From:   exp.From,
		To:     exp.To,
	})
	if err != nil {
		log.Error().Err(err).Str("game_id", g.ID.String()).Str("kind", string(kind)).Msg("failed to advance phase on expiry")
		return
	}
	log.Info().
		Str("game_id", g.ID.String()).
		Str("kind", string(kind)).
		Str("to", exp.To.String()).
		Bool("advanced", res.Advanced).
		Msg("host advanced phase on timer expiry")
}

func (s *Session) navigate(p models.Phase) {
	g := s.Game()
	url, ok := phase.URLFor(p, g.Code, nil, s.clock.Now())
	if !ok {
		log.Warn().Str("phase", p.String()).Msg("no page for phase")
		return
	}
	log.Info().Str("game_code", g.Code).Str("phase", p.String()).Str("url", url).Msg("navigating")
	if s.cfg.OnNavigate != nil {
		s.cfg.OnNavigate(url)
	}
	if s.cfg.AutoStartTimers && s.IsHost() {
		s.startPhaseTimers(p)
	}
}

// startPhaseTimers starts every timer whose expiry moves the game out of p.
func (s *Session) startPhaseTimers(p models.Phase) {
	ctx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
	defer cancel()

	for _, kind := range models.TimerKinds {
		exp, ok := orchestrator.ExpiryFor(kind)
		if !ok || exp.From != p {
			continue
		}
		if _, err := s.StartTimer(ctx, kind, 0); err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("failed to start phase timer")
		}
	}
}

// Close stops every watcher and the gateway subscription.
func (s *Session) Close() {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = make(map[models.TimerKind]*timer.Watcher)
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

func playerData(p models.Player) gamestate.PlayerData {
	return gamestate.PlayerData{
		Name:   p.DisplayName,
		Avatar: p.Avatar,
		Song:   p.Selection,
	}
}

package gamestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// KeyForGame returns the store key for a game's cached state.
func KeyForGame(code string) string {
	return "game." + code
}

// Cache is a device-local view of the game that is flushed to its Store on
// every mutation. The last local write wins.
type Cache struct {
	store Store
	key   string

	mu    sync.RWMutex
	state State
}

func NewCache(store Store, key string) *Cache {
	return &Cache{
		store: store,
		key:   key,
		state: Defaults(),
	}
}

// Load hydrates the cache from the store. A missing or unreadable entry
// leaves the defaults in place.
func (c *Cache) Load(ctx context.Context) error {
	raw, err := c.store.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.mu.Lock()
			c.state = Defaults()
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("load game state %s: %w", c.key, err)
	}

	st := Defaults()
	if err := json.Unmarshal(raw, &st); err != nil {
		log.Warn().Err(err).Str("key", c.key).Msg("Discarding unreadable game state")
		st = Defaults()
	}
	st.normalize()

	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	return nil
}

// State returns a copy of the current state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// Update applies fn to a copy of the state and persists the result.
func (c *Cache) Update(ctx context.Context, fn func(*State)) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state.clone()
	fn(&next)
	next.normalize()

	raw, err := json.Marshal(next)
	if err != nil {
		return c.state.clone(), fmt.Errorf("encode game state: %w", err)
	}
	if err := c.store.Set(ctx, c.key, raw); err != nil {
		return c.state.clone(), fmt.Errorf("save game state %s: %w", c.key, err)
	}

	c.state = next
	return next.clone(), nil
}

func (c *Cache) SetPlayer(ctx context.Context, playerID string, data PlayerData) error {
	_, err := c.Update(ctx, func(s *State) {
		s.Players[playerID] = data
	})
	return err
}

func (c *Cache) RemovePlayer(ctx context.Context, playerID string) error {
	_, err := c.Update(ctx, func(s *State) {
		delete(s.Players, playerID)
	})
	return err
}

// MarkSongPlayed records playerID's song as played and advances the song counter.
func (c *Cache) MarkSongPlayed(ctx context.Context, playerID string) error {
	_, err := c.Update(ctx, func(s *State) {
		if s.HasPlayed(playerID) {
			return
		}
		s.PlayedSongs = append(s.PlayedSongs, playerID)
		s.CurrentSongNumber = len(s.PlayedSongs) + 1
	})
	return err
}

func (c *Cache) SetLeaderboard(ctx context.Context, entries []LeaderboardEntry) error {
	_, err := c.Update(ctx, func(s *State) {
		s.Leaderboard = append([]LeaderboardEntry{}, entries...)
	})
	return err
}

// SetShowNames sets the reveal flag. A nil value returns it to unset.
func (c *Cache) SetShowNames(ctx context.Context, show *bool) error {
	_, err := c.Update(ctx, func(s *State) {
		if show == nil {
			s.ShowNames = nil
			return
		}
		v := *show
		s.ShowNames = &v
	})
	return err
}

// StartNewRound bumps the round and clears everything scoped to the
// previous one. Players and the reveal flag are kept.
func (c *Cache) StartNewRound(ctx context.Context) (State, error) {
	return c.Update(ctx, func(s *State) {
		s.CurrentRound++
		s.PlayedSongs = []string{}
		s.CurrentSongNumber = 1
		s.Leaderboard = []LeaderboardEntry{}
		for id, p := range s.Players {
			p.Song = nil
			s.Players[id] = p
		}
	})
}

// ResetGameState keeps the players and returns every other field to its default.
func (c *Cache) ResetGameState(ctx context.Context) (State, error) {
	return c.Update(ctx, func(s *State) {
		players := s.Players
		*s = Defaults()
		s.Players = players
	})
}

// Clear drops the persisted entry and resets the in-memory state.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Remove(ctx, c.key); err != nil {
		return fmt.Errorf("clear game state %s: %w", c.key, err)
	}
	c.state = Defaults()
	return nil
}

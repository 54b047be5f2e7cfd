package timer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

// ErrNoStarter is returned by Watcher.StartTimer when no Starter was configured.
var ErrNoStarter = errors.New("timer: no starter configured")

// Source supplies the stored (start, duration) pair for a single timer kind
// and pushes a fresh pair whenever the backing row changes.
type Source interface {
	Snapshot(ctx context.Context) (models.Timer, error)
	Subscribe(onChange func(models.Timer)) (cancel func(), err error)
}

// Starter writes a new (start, duration) pair, but only when no unexpired
// timer of the same kind exists. The check and the write are one atomic step.
type Starter interface {
	StartTimer(ctx context.Context, durationSec int) (started bool, current models.Timer, err error)
}

// MemoryStore is an in-process Source and Starter for a single timer kind.
type MemoryStore struct {
	clock clockwork.Clock

	mu          sync.Mutex
	timer       models.Timer
	subscribers map[int]func(models.Timer)
	nextID      int
	writes      int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:       clock,
		subscribers: make(map[int]func(models.Timer)),
	}
}

// Snapshot implements Source.
func (s *MemoryStore) Snapshot(ctx context.Context) (models.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer, nil
}

// Subscribe implements Source.
func (s *MemoryStore) Subscribe(onChange func(models.Timer)) (func(), error) {
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

// StartTimer implements Starter.
func (s *MemoryStore) StartTimer(ctx context.Context, durationSec int) (bool, models.Timer, error) {
	s.mu.Lock()
	now := s.clock.Now()
	if Running(s.timer, now) {
		current := s.timer
		s.mu.Unlock()
		return false, current, nil
	}

	s.timer = models.Timer{StartTime: &now, DurationSec: &durationSec}
	s.writes++
	current := s.timer
	subs := make([]func(models.Timer), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(current)
	}
	return true, current, nil
}

// Set overwrites the stored pair without any guard and notifies subscribers.
func (s *MemoryStore) Set(start time.Time, durationSec int) {
	s.mu.Lock()
	s.timer = models.Timer{StartTime: &start, DurationSec: &durationSec}
	current := s.timer
	subs := make([]func(models.Timer), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(current)
	}
}

// Writes returns how many times StartTimer actually wrote a new pair.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

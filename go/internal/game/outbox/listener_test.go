package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type fakeStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
	order  []uuid.UUID
	sent   []uuid.UUID
}

func newFakeStore(events ...Event) *fakeStore {
	s := &fakeStore{events: make(map[uuid.UUID]*Event)}
	for i := range events {
		e := events[i]
		s.events[e.ID] = &e
		s.order = append(s.order, e.ID)
	}
	return s
}

func (s *fakeStore) FetchByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.SentAt != nil {
		return nil, ErrNotFound
	}
	out := *e
	return &out, nil
}

func (s *fakeStore) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, id := range s.order {
		if e := s.events[id]; e.SentAt == nil && int32(len(out)) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.events[id].SentAt = &now
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) CountUnsent(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.SentAt == nil {
			n++
		}
	}
	return n, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	published []Event
}

func (p *fakePublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failFirst {
		return errors.New("nats unavailable")
	}
	p.published = append(p.published, event)
	return nil
}

func newEvent(eventType string) Event {
	return Event{
		ID:        uuid.New(),
		GameID:    uuid.New(),
		EventType: eventType,
		Payload:   json.RawMessage(`{"ok":true}`),
	}
}

func newTestListener(store Store, pub Publisher) *Listener {
	cfg := DefaultListenerConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 2
	return &Listener{
		store:     store,
		publisher: pub,
		clock:     clockwork.NewRealClock(),
		cfg:       cfg,
	}
}

func TestRelayNotified(t *testing.T) {
	e := newEvent("PhaseChanged")
	store := newFakeStore(e)
	pub := &fakePublisher{}
	l := newTestListener(store, pub)

	if err := l.relayNotified(context.Background(), e.ID.String()); err != nil {
		t.Fatalf("relayNotified: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0].ID != e.ID {
		t.Fatalf("published = %+v", pub.published)
	}
	if len(store.sent) != 1 || store.sent[0] != e.ID {
		t.Fatalf("sent = %v, want [%s]", store.sent, e.ID)
	}
	if processed, last := l.Stats(); processed != 1 || last.IsZero() {
		t.Fatalf("Stats = %d, %v", processed, last)
	}

	t.Run("already sent", func(t *testing.T) {
		err := l.relayNotified(context.Background(), e.ID.String())
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("bad payload", func(t *testing.T) {
		if err := l.relayNotified(context.Background(), "not-a-uuid"); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestDrain(t *testing.T) {
	events := []Event{newEvent("GameUpdated"), newEvent("PhaseChanged"), newEvent("TimerStarted")}
	store := newFakeStore(events...)
	pub := &fakePublisher{}
	l := newTestListener(store, pub)
	l.cfg.BatchSize = 2

	if err := l.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pub.published) != 2 {
		t.Fatalf("published %d events, want batch of 2", len(pub.published))
	}
	for i, e := range pub.published {
		if e.ID != events[i].ID {
			t.Fatalf("published[%d] = %s, want %s in insert order", i, e.ID, events[i].ID)
		}
	}

	if err := l.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n, _ := store.CountUnsent(context.Background()); n != 0 {
		t.Fatalf("unsent = %d, want 0", n)
	}
}

func TestDeliver(t *testing.T) {
	tests := []struct {
		name      string
		failFirst int
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, false, 1},
		{"succeeds after retry", 2, false, 3},
		{"gives up", 5, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEvent("GameUpdated")
			store := newFakeStore(e)
			pub := &fakePublisher{failFirst: tt.failFirst}
			l := newTestListener(store, pub)

			err := l.deliver(context.Background(), e)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if pub.calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", pub.calls, tt.wantCalls)
			}
			wantSent := 1
			if tt.wantErr {
				wantSent = 0
			}
			if len(store.sent) != wantSent {
				t.Fatalf("sent = %d, want %d", len(store.sent), wantSent)
			}
		})
	}
}

func TestDeliverCancelled(t *testing.T) {
	e := newEvent("GameUpdated")
	pub := &fakePublisher{failFirst: 10}
	l := newTestListener(newFakeStore(e), pub)
	l.cfg.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.deliver(ctx, e); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

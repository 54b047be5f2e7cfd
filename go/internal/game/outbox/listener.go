package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL   string
	NotifyChannel string
	// PollInterval is how often the relay sweeps for rows whose NOTIFY
	// was lost.
	PollInterval time.Duration
	PingInterval time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	BatchSize    int32
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "game_outbox_events",
		PollInterval:  30 * time.Second,
		PingInterval:  90 * time.Second,
		MaxRetries:    5,
		RetryDelay:    200 * time.Millisecond,
		BatchSize:     100,
	}
}

// Listener relays game_outbox rows to the bus as they are inserted. It
// holds no game state of its own.
type Listener struct {
	store     Store
	listener  *pq.Listener
	publisher Publisher
	clock     clockwork.Clock
	cfg       ListenerConfig

	mu        sync.Mutex
	processed uint64
	lastEvent time.Time
}

func NewListener(store Store, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	pl := pq.NewListener(cfg.DatabaseURL, 10*time.Second, time.Minute, logListenerEvent)
	if err := pl.Listen(cfg.NotifyChannel); err != nil {
		pl.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}

	return &Listener{
		store:     store,
		listener:  pl,
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		cfg:       cfg,
	}, nil
}

func logListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		log.Info().Msg("outbox listener connected")
	case pq.ListenerEventDisconnected:
		log.Warn().Err(err).Msg("outbox listener disconnected")
	case pq.ListenerEventReconnected:
		log.Info().Msg("outbox listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		log.Error().Err(err).Msg("outbox listener connection attempt failed")
	}
}

// Start blocks relaying rows until ctx is cancelled. Rows written while the
// relay was down are drained first.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("poll_interval", l.cfg.PollInterval).
		Msg("outbox relay started")

	l.drainAndLog(ctx)

	poll := l.clock.NewTicker(l.cfg.PollInterval)
	ping := l.clock.NewTicker(l.cfg.PingInterval)
	defer poll.Stop()
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			// nil after a reconnect: whatever was notified meanwhile is gone
			if note == nil {
				l.drainAndLog(ctx)
				continue
			}
			if err := l.relayNotified(ctx, note.Extra); err != nil {
				log.Error().Err(err).Str("row", note.Extra).Msg("failed to relay notified row")
			}
		case <-poll.Chan():
			l.drainAndLog(ctx)
		case <-ping.Chan():
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("outbox listener ping failed")
			}
		}
	}
}

func (l *Listener) Stop() error {
	if l.listener == nil {
		return nil
	}
	return l.listener.Close()
}

// Stats returns how many rows were relayed and when the last one went out.
func (l *Listener) Stats() (uint64, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed, l.lastEvent
}

// relayNotified relays the row named by a NOTIFY payload.
func (l *Listener) relayNotified(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("notification payload %q: %w", extra, err)
	}

	event, err := l.store.FetchByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch outbox row: %w", err)
	}
	if err := l.deliver(ctx, *event); err != nil {
		return err
	}

	log.Debug().
		Str("event_id", id.String()).
		Str("game_id", event.GameID.String()).
		Str("event_type", event.EventType).
		Msg("relayed game event")
	return nil
}

func (l *Listener) drainAndLog(ctx context.Context) {
	if err := l.drain(ctx); err != nil {
		log.Error().Err(err).Msg("failed to drain outbox")
	}
}

// drain relays one batch of unsent rows, oldest first. A row that cannot be
// delivered stays unsent for the next sweep.
func (l *Listener) drain(ctx context.Context) error {
	pending, err := l.store.FetchUnsent(ctx, l.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch unsent rows: %w", err)
	}

	relayed := 0
	for _, event := range pending {
		if err := l.deliver(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to relay outbox row")
			continue
		}
		relayed++
	}
	if len(pending) > 0 {
		log.Info().Int("pending", len(pending)).Int("relayed", relayed).Msg("drained outbox")
	}
	return nil
}

// deliver publishes event, backing off linearly between attempts, and marks
// the row sent once the bus has it.
func (l *Listener) deliver(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(l.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := l.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish failed")
			continue
		}

		if err := l.store.MarkSent(ctx, event.ID); err != nil {
			return fmt.Errorf("mark %s sent: %w", event.ID, err)
		}

		l.mu.Lock()
		l.processed++
		l.lastEvent = l.clock.Now()
		l.mu.Unlock()
		return nil
	}

	return fmt.Errorf("publish %s: gave up after %d attempts: %w", event.ID, l.cfg.MaxRetries+1, lastErr)
}

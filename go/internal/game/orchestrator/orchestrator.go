package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	defaultNumWorkers      = 10
	eventChannelBufferSize = 100
)

// GameAPI defines what the orchestrator needs from the game service.
// *game.Client satisfies it.
type GameAPI interface {
	GetGame(ctx context.Context, req *game.GetGameRequest) (*game.GetGameResponse, error)
	AdvancePhase(ctx context.Context, req *game.AdvancePhaseRequest) (*game.AdvancePhaseResponse, error)
}

// timerKey identifies one countdown on one game.
type timerKey struct {
	GameID uuid.UUID
	Kind   string
}

// expiryJob is handed to a worker when a scheduled timer fires.
type expiryJob struct {
	GameID    uuid.UUID
	Expiry    Expiry
	StartTime time.Time
}

func (j expiryJob) key() timerKey {
	return timerKey{GameID: j.GameID, Kind: string(j.Expiry.Kind)}
}

// activeTimer is a scheduled one-shot timer plus the channel that releases
// its waiting goroutine when the timer is replaced or cancelled.
type activeTimer struct {
	timer clockwork.Timer
	stop  chan struct{}
}

// Orchestrator watches server timers and advances the phase when one runs
// out. It learns about timers from the game event stream and never writes
// the games table itself: every advance goes through GameAPI.AdvancePhase.
type Orchestrator struct {
	api        GameAPI
	clock      clockwork.Clock
	instanceID string

	numWorkers int
	workCh     chan expiryJob

	activeTimers   map[timerKey]*activeTimer
	activeTimersMu sync.Mutex

	// lastScheduled remembers the start time already scheduled per key so a
	// replayed TimerStarted or GameUpdated does not re-arm the same timer.
	lastScheduled   map[timerKey]time.Time
	lastScheduledMu sync.Mutex

	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   JetStreamConsumerConfig
}

// NewOrchestrator creates an orchestrator with a worker pool of numWorkers.
// A nil clock uses the real clock.
func NewOrchestrator(api GameAPI, clock clockwork.Clock, numWorkers int) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if numWorkers <= 0 {
		numWorkers = defaultNumWorkers
	}
	return &Orchestrator{
		api:           api,
		clock:         clock,
		instanceID:    uuid.New().String()[:8],
		numWorkers:    numWorkers,
		workCh:        make(chan expiryJob, numWorkers*2),
		activeTimers:  make(map[timerKey]*activeTimer),
		lastScheduled: make(map[timerKey]time.Time),
	}
}

// ActiveTimers returns how many timers are currently armed.
func (o *Orchestrator) ActiveTimers() int {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	return len(o.activeTimers)
}

// Run consumes game events until ctx is done. Connect must be called first.
// Recovery after a restart comes from the durable consumer replaying the
// stream with DeliverAllPolicy.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().
		Str("instance", o.instanceID).
		Int("workers", o.numWorkers).
		Msg("orchestrator started as JetStream consumer")

	eventCh := make(chan jetstream.Msg, eventChannelBufferSize)

	consumeCtx, err := o.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case eventCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	wg := o.startWorkers(ctx)
	defer func() {
		log.Info().Str("instance", o.instanceID).Msg("shutting down workers")
		wg.Wait()
		o.cancelAll()
		log.Info().Str("instance", o.instanceID).Msg("all workers shut down")
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", o.instanceID).Msg("orchestrator shutdown requested")
			return nil
		case msg := <-eventCh:
			if err := o.processMessage(ctx, msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process event")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (o *Orchestrator) startWorkers(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < o.numWorkers; i++ {
		wg.Add(1)
		go o.worker(ctx, &wg, i)
	}
	return &wg
}

// worker handles fired timers from the work channel
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case job := <-o.workCh:
			log.Info().
				Str("game_id", job.GameID.String()).
				Str("kind", string(job.Expiry.Kind)).
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker handling timer expiry")

			if err := o.handleExpiry(ctx, job); err != nil {
				log.Error().
					Err(err).
					Str("game_id", job.GameID.String()).
					Str("kind", string(job.Expiry.Kind)).
					Int("worker_id", workerID).
					Msg("timer expiry handling failed")
			}
		}
	}
}

package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/rs/zerolog/log"
)

// scheduleExpiry arms a one-shot timer that enqueues the expiry when the
// countdown started at start runs out. A timer already scheduled for the same
// start is left alone. A countdown that is already over is enqueued now.
func (o *Orchestrator) scheduleExpiry(ctx context.Context, gameID uuid.UUID, kind models.TimerKind, start time.Time, durationSec int) {
	exp, ok := ExpiryFor(kind)
	if !ok {
		log.Debug().
			Str("game_id", gameID.String()).
			Str("kind", string(kind)).
			Msg("timer kind is device driven, not scheduling")
		return
	}

	job := expiryJob{GameID: gameID, Expiry: exp, StartTime: start}
	key := job.key()

	o.lastScheduledMu.Lock()
	if last, exists := o.lastScheduled[key]; exists && last.Equal(start) {
		o.lastScheduledMu.Unlock()
		log.Debug().
			Str("game_id", gameID.String()).
			Str("kind", string(kind)).
			Time("start_time", start).
			Msg("skipping duplicate schedule - already scheduled for this start time")
		return
	}
	o.lastScheduled[key] = start
	o.lastScheduledMu.Unlock()

	deadline := start.Add(time.Duration(durationSec) * time.Second)
	o.arm(ctx, job, deadline.Sub(o.clock.Now()))
}

// arm replaces any timer for the job's key with one that fires after wait.
func (o *Orchestrator) arm(ctx context.Context, job expiryJob, wait time.Duration) {
	key := job.key()
	if wait <= 0 {
		o.cancelTimer(key)
		o.enqueue(ctx, job)
		return
	}

	at := &activeTimer{
		timer: o.clock.NewTimer(wait),
		stop:  make(chan struct{}),
	}
	o.replaceTimer(key, at)

	go func() {
		select {
		case <-at.timer.Chan():
			o.removeTimer(key, at)
			o.enqueue(ctx, job)
		case <-at.stop:
		case <-ctx.Done():
			at.timer.Stop()
			o.removeTimer(key, at)
		}
	}()

	log.Debug().
		Str("game_id", job.GameID.String()).
		Str("kind", string(job.Expiry.Kind)).
		Dur("wait", wait).
		Msg("scheduled one-shot timer")
}

func (o *Orchestrator) enqueue(ctx context.Context, job expiryJob) {
	select {
	case o.workCh <- job:
		log.Debug().
			Str("game_id", job.GameID.String()).
			Str("kind", string(job.Expiry.Kind)).
			Msg("timer fired - enqueued for processing")
	case <-ctx.Done():
	}
}

// replaceTimer swaps in a new timer for key, stopping the one it replaces.
func (o *Orchestrator) replaceTimer(key timerKey, at *activeTimer) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	if existing, ok := o.activeTimers[key]; ok {
		stopAndDrainTimer(existing)
		log.Debug().Str("game_id", key.GameID.String()).Str("kind", key.Kind).Msg("replaced existing timer")
	}
	o.activeTimers[key] = at
}

// stopAndDrainTimer stops the timer, drains a pending tick and releases the
// goroutine waiting on it. Must hold o.activeTimersMu.
func stopAndDrainTimer(at *activeTimer) {
	if !at.timer.Stop() {
		select {
		case <-at.timer.Chan():
		default:
		}
	}
	select {
	case <-at.stop:
	default:
		close(at.stop)
	}
}

// cancelTimer stops and forgets the timer for key.
func (o *Orchestrator) cancelTimer(key timerKey) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	if at, ok := o.activeTimers[key]; ok {
		stopAndDrainTimer(at)
		delete(o.activeTimers, key)
		log.Debug().Str("game_id", key.GameID.String()).Str("kind", key.Kind).Msg("cancelled timer")
	}
}

// cancelGame drops every timer and schedule record for a game. Timers whose
// phase is keep stay armed.
func (o *Orchestrator) cancelGame(gameID uuid.UUID, keep models.Phase) {
	for kind, exp := range expiries {
		if exp.From == keep {
			continue
		}
		key := timerKey{GameID: gameID, Kind: string(kind)}
		o.cancelTimer(key)

		o.lastScheduledMu.Lock()
		delete(o.lastScheduled, key)
		o.lastScheduledMu.Unlock()
	}
}

// removeTimer forgets key once its timer fired, unless it was replaced meanwhile.
func (o *Orchestrator) removeTimer(key timerKey, at *activeTimer) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	if o.activeTimers[key] == at {
		delete(o.activeTimers, key)
	}
}

func (o *Orchestrator) cancelAll() {
	o.activeTimersMu.Lock()
	for key, at := range o.activeTimers {
		stopAndDrainTimer(at)
		log.Debug().Str("game_id", key.GameID.String()).Str("kind", key.Kind).Msg("cancelled timer on shutdown")
	}
	o.activeTimers = make(map[timerKey]*activeTimer)
	o.activeTimersMu.Unlock()
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/game/events"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/mcdev12/sonarchy/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// HandleDomainEvent routes one game event to its handler.
func (o *Orchestrator) HandleDomainEvent(ctx context.Context, eventType string, gameID uuid.UUID, payload []byte) error {
	switch eventType {
	case events.TypeTimerStarted:
		var p events.TimerStartedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal TimerStarted payload: %w", err)
		}
		return o.handleTimerStarted(ctx, gameID, p)

	case events.TypePhaseChanged:
		var p events.PhaseChangedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal PhaseChanged payload: %w", err)
		}
		return o.handlePhaseChanged(gameID, p)

	case events.TypeGameUpdated:
		var p events.GameUpdatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal GameUpdated payload: %w", err)
		}
		return o.handleGameUpdated(ctx, p.Game)

	case events.TypePlayerJoined, events.TypeSongSelectionUpdated:
		return nil

	default:
		log.Warn().
			Str("event_type", eventType).
			Str("game_id", gameID.String()).
			Msg("unknown event type - ignoring")
		return nil
	}
}

func (o *Orchestrator) handleTimerStarted(ctx context.Context, gameID uuid.UUID, p events.TimerStartedPayload) error {
	log.Info().
		Str("game_id", gameID.String()).
		Str("kind", string(p.Kind)).
		Time("start_time", p.StartTime).
		Int("duration_sec", p.DurationSec).
		Msg("handling TimerStarted event")

	if p.DurationSec <= 0 {
		return fmt.Errorf("timer %s has no duration", p.Kind)
	}
	o.scheduleExpiry(ctx, gameID, p.Kind, p.StartTime, p.DurationSec)
	return nil
}

// handlePhaseChanged drops timers that belong to a phase the game has left.
func (o *Orchestrator) handlePhaseChanged(gameID uuid.UUID, p events.PhaseChangedPayload) error {
	log.Info().
		Str("game_id", gameID.String()).
		Str("from", p.From.String()).
		Str("to", p.To.String()).
		Msg("handling PhaseChanged event")

	o.cancelGame(gameID, p.To)
	return nil
}

// handleGameUpdated re-arms timers from a full row, which is what lets the
// orchestrator pick up running timers when it replays the stream.
func (o *Orchestrator) handleGameUpdated(ctx context.Context, g models.Game) error {
	if g.ID == uuid.Nil {
		return fmt.Errorf("GameUpdated payload has no game id")
	}
	if g.CurrentPhase == models.PhaseGameComplete {
		o.cancelGame(g.ID, "")
		return nil
	}

	for kind, exp := range expiries {
		if exp.From != g.CurrentPhase {
			continue
		}
		t := g.Timer(kind)
		if !t.IsSet() {
			continue
		}
		o.scheduleExpiry(ctx, g.ID, kind, *t.StartTime, *t.DurationSec)
	}
	return nil
}

// handleExpiry advances the game if the fired timer is still the stored one
// and the game has not left the timer's phase.
func (o *Orchestrator) handleExpiry(ctx context.Context, job expiryJob) error {
	res, err := o.api.GetGame(ctx, &game.GetGameRequest{GameID: job.GameID.String()})
	if err != nil {
		return fmt.Errorf("failed to get game: %w", err)
	}
	g := res.Game
	if g == nil {
		return fmt.Errorf("game %s missing from response", job.GameID)
	}

	if g.CurrentPhase != job.Expiry.From {
		log.Debug().
			Str("game_id", job.GameID.String()).
			Str("kind", string(job.Expiry.Kind)).
			Str("phase", g.CurrentPhase.String()).
			Msg("game left the timer phase, skipping advance")
		return nil
	}

	t := g.Timer(job.Expiry.Kind)
	if !t.IsSet() || !t.StartTime.Equal(job.StartTime) {
		log.Debug().
			Str("game_id", job.GameID.String()).
			Str("kind", string(job.Expiry.Kind)).
			Msg("timer superseded, skipping advance")
		return nil
	}

	if remaining := timer.RemainingFor(t, res.ServerTime); remaining > 0 {
		log.Debug().
			Str("game_id", job.GameID.String()).
			Str("kind", string(job.Expiry.Kind)).
			Int("remaining", remaining).
			Msg("timer not yet expired on server clock, re-arming")
		deadline, _ := timer.Deadline(t)
		o.arm(ctx, job, deadline.Sub(res.ServerTime))
		return nil
	}

	adv, err := o.api.AdvancePhase(ctx, &game.AdvancePhaseRequest{
		GameID: job.GameID.String(),
		From:   job.Expiry.From,
		To:     job.Expiry.To,
	})
	if err != nil {
		return fmt.Errorf("failed to advance phase: %w", err)
	}

	log.Info().
		Str("game_id", job.GameID.String()).
		Str("kind", string(job.Expiry.Kind)).
		Str("from", job.Expiry.From.String()).
		Str("to", job.Expiry.To.String()).
		Bool("advanced", adv.Advanced).
		Msg("timer expired")
	return nil
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/sonarchy/go/internal/game/events"
	"github.com/mcdev12/sonarchy/go/internal/game/outbox"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConsumerConfig holds configuration for the orchestrator's durable consumer
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "GAME_EVENTS",
		ConsumerName:  "game-orchestrator",
		SubjectFilter: "game.events.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect dials NATS and creates or reuses the durable consumer.
func (o *Orchestrator) Connect(ctx context.Context, config JetStreamConsumerConfig) error {
	nc, err := outbox.Connect(outbox.JetStreamConfig{
		URL:           config.URL,
		MaxReconnects: config.MaxReconnects,
		ReconnectWait: config.ReconnectWait,
	})
	if err != nil {
		return err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	o.nc, o.js, o.config = nc, js, config
	if err := o.ensureConsumer(ctx); err != nil {
		nc.Close()
		return fmt.Errorf("ensure consumer: %w", err)
	}
	return nil
}

// ensureConsumer creates or gets the JetStream consumer
func (o *Orchestrator) ensureConsumer(ctx context.Context) error {
	stream, err := o.js.Stream(ctx, o.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          o.config.ConsumerName,
		Durable:       o.config.ConsumerName,
		Description:   "Game timer orchestrator consumer with startup replay",
		FilterSubject: o.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    o.config.MaxDeliver,
		AckWait:       o.config.AckWait,
		MaxAckPending: o.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, o.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", o.config.ConsumerName).Msg("created JetStream consumer for orchestrator")
	} else {
		log.Info().Str("consumer", o.config.ConsumerName).Msg("using existing JetStream consumer for orchestrator")
	}

	o.consumer = consumer
	return nil
}

func (o *Orchestrator) processMessage(ctx context.Context, msg jetstream.Msg) error {
	return o.handleData(ctx, msg.Data())
}

// handleData decodes one envelope and feeds it to HandleDomainEvent.
func (o *Orchestrator) handleData(ctx context.Context, data []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	gameID, err := uuid.Parse(env.GameID)
	if err != nil {
		return fmt.Errorf("parse game ID: %w", err)
	}

	log.Debug().
		Str("event_id", env.EventID).
		Str("game_id", env.GameID).
		Str("event_type", env.EventType).
		Msg("processing orchestrator event")

	return o.HandleDomainEvent(ctx, env.EventType, gameID, env.Payload)
}

// Close gracefully closes the NATS connection
func (o *Orchestrator) Close() error {
	if o.nc != nil {
		o.nc.Close()
	}
	return nil
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sonarchy/go/internal/client"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/game/outbox"
	"github.com/mcdev12/sonarchy/go/internal/gamestate"
	"github.com/mcdev12/sonarchy/go/internal/timer"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	apiURL := getEnv("GAME_API_URL", "http://localhost:8080")
	gatewayURL := getEnv("GATEWAY_URL", "ws://localhost:8081")
	code := os.Getenv("GAME_CODE")
	name := getEnv("PLAYER_NAME", "player")
	asHost, _ := strconv.ParseBool(getEnv("AS_HOST", "false"))
	autoTimers, _ := strconv.ParseBool(getEnv("AUTO_START_TIMERS", "false"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiClient := game.NewClient(&http.Client{Timeout: 10 * time.Second}, apiURL)

	if code == "" {
		created, err := apiClient.CreateGame(ctx, &game.CreateGameRequest{})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create game")
		}
		code = created.Game.Code
		asHost = true
		log.Info().Str("game_code", code).Msg("created game")
	}

	store, closeStore := openStore(ctx)
	defer closeStore()

	session := client.NewSession(apiClient, client.Config{
		GatewayURL:      gatewayURL,
		Store:           store,
		AutoStartTimers: autoTimers,
		OnTimer: func(st timer.Status) {
			if st.State == timer.StateRunning {
				log.Debug().Str("kind", string(st.Kind)).Int("remaining", st.Remaining).Msg("tick")
			}
		},
	})
	defer session.Close()

	if err := session.Join(ctx, client.JoinParams{Code: code, DisplayName: name, AsHost: asHost}); err != nil {
		log.Fatal().Err(err).Msg("failed to join game")
	}
	if err := session.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to game events")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-session.Done():
		log.Warn().Msg("gateway connection closed")
	}

	log.Info().Msg("client shutdown complete")
}

// openStore returns the JetStream KV store when STATE_STORE=kv, otherwise
// an in-memory one.
func openStore(ctx context.Context) (gamestate.Store, func()) {
	if getEnv("STATE_STORE", "memory") != "kv" {
		return gamestate.NewMemoryStore(), func() {}
	}

	cfg := outbox.DefaultJetStreamConfig()
	cfg.URL = getEnv("NATS_URL", cfg.URL)
	nc, err := outbox.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create JetStream context")
	}
	store, err := gamestate.NewKVStore(ctx, js, gamestate.DefaultKVConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open game state bucket")
	}
	return store, nc.Close
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

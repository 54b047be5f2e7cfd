package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/game/orchestrator"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	apiURL := getEnv("GAME_API_URL", "http://localhost:8080")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	port := getEnv("ORCHESTRATOR_HEALTH_PORT", "8083")
	numWorkers, err := strconv.Atoi(getEnv("ORCHESTRATOR_WORKERS", "10"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ORCHESTRATOR_WORKERS")
	}

	log.Info().
		Str("api_url", apiURL).
		Str("nats_url", natsURL).
		Int("workers", numWorkers).
		Msg("starting game orchestrator")

	apiClient := game.NewClient(&http.Client{Timeout: 30 * time.Second}, apiURL)
	orch := orchestrator.NewOrchestrator(apiClient, nil, numWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerConfig := orchestrator.DefaultJetStreamConsumerConfig()
	consumerConfig.URL = natsURL
	if err := orch.Connect(ctx, consumerConfig); err != nil {
		log.Fatal().Err(err).Msg("failed to connect orchestrator to JetStream")
	}
	defer orch.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := orch.Run(ctx); err != nil {
			log.Error().Err(err).Msg("orchestrator failed")
		}
	}()

	router := httprouter.New()
	router.GET("/health", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"active_timers": orch.ActiveTimers(),
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health check server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health check server shutdown failed")
	}

	cancel()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("orchestrator did not stop before shutdown timeout")
	}

	log.Info().Msg("game orchestrator shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

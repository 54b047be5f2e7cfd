package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/julienschmidt/httprouter"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sonarchy/go/internal/dbconfig"
	"github.com/mcdev12/sonarchy/go/internal/game/outbox"
)

// Relay process: game_outbox rows -> JetStream GAME_EVENTS.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	dbCfg := dbconfig.NewConfigFromEnv()
	db := openDB(dbCfg)
	defer db.Close()

	jsCfg := outbox.DefaultJetStreamConfig()
	jsCfg.URL = getEnv("NATS_URL", jsCfg.URL)
	publisher, err := outbox.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Str("url", jsCfg.URL).Msg("failed to create JetStream publisher")
	}
	defer publisher.Close()

	relayCfg := outbox.DefaultListenerConfig()
	relayCfg.DatabaseURL = dbCfg.DSN()
	relayCfg.PollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", relayCfg.PollInterval)

	repo := outbox.NewRepository(db)
	relay, err := outbox.NewListener(repo, publisher, relayCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox listener")
	}

	router := httprouter.New()
	router.Handler(http.MethodGet, "/health", outbox.NewHealthChecker(relay, repo, db, publisher.Conn(), 2*time.Minute))
	healthSrv := &http.Server{Addr: ":" + getEnv("OUTBOX_HEALTH_PORT", "8082"), Handler: router}
	go func() {
		log.Info().Str("addr", healthSrv.Addr).Msg("relay health endpoint listening")
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relayErr := make(chan error, 1)
	go func() { relayErr <- relay.Start(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-relayErr:
		log.Error().Err(err).Msg("outbox relay stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}
	log.Info().Msg("relay shutdown complete")
}

// openDB opens the database/sql handle the outbox reads go through; the
// NOTIFY listener keeps its own pq connection.
func openDB(cfg dbconfig.Config) *sql.DB {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Str("host", cfg.Host).Msg("failed to ping database")
	}
	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("connected to database")
	return db
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
	}
	return defaultValue
}

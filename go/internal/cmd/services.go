package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sonarchy/go/internal/dbconfig"
	"github.com/mcdev12/sonarchy/go/internal/game"
	"github.com/mcdev12/sonarchy/go/internal/game/db"
)

type Services struct {
	Game *game.Service

	pool *pgxpool.Pool
}

func (s *Services) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Database layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()
	services := &Services{}

	var repo game.GameRepository
	switch cfg.DBDriver {
	case "memory":
		log.Warn().Msg("using in-memory game repository, events are not published")
		repo = game.NewMemoryRepository(clock)
	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		pool, err := dbCfg.NewPool(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		services.pool = pool
		log.Info().
			Str("host", dbCfg.Host).
			Int("port", dbCfg.Port).
			Str("database", dbCfg.Database).
			Msg("connected to database")

		if cfg.Migrate {
			if err := db.Apply(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("apply schema: %w", err)
			}
			log.Info().Msg("applied game schema")
		}
		repo = game.NewRepository(pool, clock)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}

	gameApp := game.NewApp(repo, clock, cfg.GameConfig)
	services.Game = game.NewService(gameApp)
	return services, nil
}

package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/game/events"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/mcdev12/sonarchy/go/internal/sqlutil"
)

const uniqueViolation = "23505"

// gameColumns is the select list for a games row. Timer pairs follow the
// fixed columns in models.TimerKinds order.
var gameColumns = buildGameColumns()

func buildGameColumns() string {
	cols := []string{"id", "code", "host_id", "current_phase", "current_round", "created_at", "updated_at"}
	for _, kind := range models.TimerKinds {
		tc := timerColumnsByKind[kind]
		cols = append(cols, tc.start, tc.duration)
	}
	for i, c := range cols {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(cols, ", ")
}

const playerColumns = `id, game_id, display_name, avatar, song_id, song_name, song_artist, song_uri, locked_in, created_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository persists games and players in Postgres. Every mutation of a
// games row also writes its outbox events in the same transaction.
type Repository struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// NewRepository stamps created_at, updated_at and event times with clock,
// the same clock the App starts timers with.
func NewRepository(pool *pgxpool.Pool, clock clockwork.Clock) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Repository{
		pool:  pool,
		clock: clock,
	}
}

func (r *Repository) CreateGame(ctx context.Context, params CreateGameParams) (*models.Game, error) {
	var game *models.Game
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO games (id, code, created_at, updated_at) VALUES ($1, $2, $3, $3) RETURNING `+gameColumns,
			params.ID, params.Code, r.clock.Now(),
		)
		g, err := scanGame(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrDuplicateCode
			}
			return err
		}
		game = g
		return insertOutbox(ctx, tx, g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: *g})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return game, nil
}

func (r *Repository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	game, err := getGame(ctx, r.pool, id, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return game, nil
}

func (r *Repository) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE code = $1`, code)
	game, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get game by code: %w", err)
	}
	return game, nil
}

// UpdatePhase writes phase unconditionally. Rewriting the current phase
// only emits GameUpdated.
func (r *Repository) UpdatePhase(ctx context.Context, id uuid.UUID, phase models.Phase) (*models.Game, error) {
	var game *models.Game
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		prev, err := getGame(ctx, tx, id, true)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx,
			`UPDATE games SET current_phase = $2, updated_at = $3 WHERE id = $1 RETURNING `+gameColumns,
			id, string(phase), r.clock.Now(),
		)
		g, err := scanGame(row)
		if err != nil {
			return err
		}
		game = g
		if prev.CurrentPhase == g.CurrentPhase {
			return insertOutbox(ctx, tx, g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: *g})
		}
		return writePhaseEvents(ctx, tx, prev.CurrentPhase, g)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update game phase: %w", err)
	}
	return game, nil
}

// CompareAndSetPhase moves the game from one phase to another only if it is
// still in from. newRound bumps the round and clears every player's selection.
func (r *Repository) CompareAndSetPhase(ctx context.Context, id uuid.UUID, from, to models.Phase, newRound bool) (*models.Game, bool, error) {
	var (
		game    *models.Game
		changed bool
	)
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		bump := 0
		if newRound {
			bump = 1
		}
		row := tx.QueryRow(ctx,
			`UPDATE games
SET current_phase = $3, current_round = current_round + $4, updated_at = $5
WHERE id = $1 AND current_phase = $2
RETURNING `+gameColumns,
			id, string(from), string(to), bump, r.clock.Now(),
		)
		g, err := scanGame(row)
		if errors.Is(err, ErrGameNotFound) {
			// Either missing or another writer moved it first.
			current, err := getGame(ctx, tx, id, false)
			if err != nil {
				return err
			}
			game = current
			return nil
		}
		if err != nil {
			return err
		}
		game, changed = g, true

		if newRound {
			if _, err := tx.Exec(ctx,
				`UPDATE game_players
SET song_id = NULL, song_name = NULL, song_artist = NULL, song_uri = NULL, locked_in = false
WHERE game_id = $1`, id); err != nil {
				return fmt.Errorf("clear song selections: %w", err)
			}
		}
		return writePhaseEvents(ctx, tx, from, g)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to advance game phase: %w", err)
	}
	return game, changed, nil
}

// StartTimerIfIdle performs the conditional timer write. started is false
// when an unexpired timer of the same kind was already stored.
func (r *Repository) StartTimerIfIdle(ctx context.Context, id uuid.UUID, kind models.TimerKind, start time.Time, durationSec int) (*models.Game, bool, error) {
	q, err := startTimerSQL(kind)
	if err != nil {
		return nil, false, err
	}

	var (
		game    *models.Game
		started bool
	)
	err = sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		g, err := scanGame(tx.QueryRow(ctx, q, id, start, durationSec))
		if errors.Is(err, ErrGameNotFound) {
			current, err := getGame(ctx, tx, id, false)
			if err != nil {
				return err
			}
			game = current
			return nil
		}
		if err != nil {
			return err
		}
		game, started = g, true

		if err := insertOutbox(ctx, tx, g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: *g}); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, g.ID, events.TypeTimerStarted, events.TimerStartedPayload{
			GameID:      g.ID.String(),
			Kind:        kind,
			Phase:       g.CurrentPhase,
			StartTime:   start,
			DurationSec: durationSec,
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to start %s timer: %w", kind, err)
	}
	return game, started, nil
}

func (r *Repository) SetHost(ctx context.Context, gameID, playerID uuid.UUID) (*models.Game, error) {
	var game *models.Game
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE games SET host_id = $2, updated_at = $3 WHERE id = $1 RETURNING `+gameColumns,
			gameID, playerID, r.clock.Now(),
		)
		g, err := scanGame(row)
		if err != nil {
			return err
		}
		game = g
		return insertOutbox(ctx, tx, g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: *g})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set host: %w", err)
	}
	return game, nil
}

func (r *Repository) AddPlayer(ctx context.Context, params AddPlayerParams) (*models.Player, error) {
	var player *models.Player
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO game_players (id, game_id, display_name, avatar, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+playerColumns,
			params.ID, params.GameID, params.DisplayName, params.Avatar, r.clock.Now(),
		)
		p, err := scanPlayer(row)
		if err != nil {
			return err
		}
		player = p
		return insertOutbox(ctx, tx, p.GameID, events.TypePlayerJoined, events.PlayerJoinedPayload{
			GameID: p.GameID.String(),
			Player: *p,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add player: %w", err)
	}
	return player, nil
}

func (r *Repository) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+playerColumns+` FROM game_players WHERE game_id = $1 ORDER BY created_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return players, nil
}

func (r *Repository) UpdateSongSelection(ctx context.Context, params SongSelectionParams) (*models.Player, error) {
	var songID, songName, songArtist, songURI *string
	if s := params.Selection; s != nil {
		songID, songName, songArtist, songURI = &s.SongID, &s.SongName, &s.SongArtist, &s.SongURI
	}

	var player *models.Player
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE game_players
SET song_id = $2, song_name = $3, song_artist = $4, song_uri = $5, locked_in = $6
WHERE id = $1
RETURNING `+playerColumns,
			params.PlayerID,
			sqlutil.NullString(songID),
			sqlutil.NullString(songName),
			sqlutil.NullString(songArtist),
			sqlutil.NullString(songURI),
			params.LockedIn,
		)
		p, err := scanPlayer(row)
		if err != nil {
			return err
		}
		player = p
		return insertOutbox(ctx, tx, p.GameID, events.TypeSongSelectionUpdated, events.SongSelectionUpdatedPayload{
			GameID:    p.GameID.String(),
			PlayerID:  p.ID.String(),
			Selection: p.Selection,
			LockedIn:  p.LockedIn,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update song selection: %w", err)
	}
	return player, nil
}

func getGame(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*models.Game, error) {
	stmt := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	if forUpdate {
		stmt += ` FOR UPDATE`
	}
	return scanGame(q.QueryRow(ctx, stmt, id))
}

func scanGame(row pgx.Row) (*models.Game, error) {
	var (
		g      models.Game
		hostID uuid.NullUUID
		phase  string
		starts = make([]sql.NullTime, len(models.TimerKinds))
		durs   = make([]sql.NullInt32, len(models.TimerKinds))
	)
	dest := []any{&g.ID, &g.Code, &hostID, &phase, &g.CurrentRound, &g.CreatedAt, &g.UpdatedAt}
	for i := range models.TimerKinds {
		dest = append(dest, &starts[i], &durs[i])
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}

	g.HostID = sqlutil.UUIDPtr(hostID)
	g.CurrentPhase = models.Phase(phase)
	g.Timers = make(map[models.TimerKind]models.Timer, len(models.TimerKinds))
	for i, kind := range models.TimerKinds {
		g.Timers[kind] = models.Timer{
			StartTime:   sqlutil.TimePtr(starts[i]),
			DurationSec: sqlutil.IntPtr(durs[i]),
		}
	}
	return &g, nil
}

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var (
		p                                     models.Player
		avatar                                sql.NullString
		songID, songName, songArtist, songURI sql.NullString
	)
	err := row.Scan(&p.ID, &p.GameID, &p.DisplayName, &avatar,
		&songID, &songName, &songArtist, &songURI, &p.LockedIn, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}

	p.Avatar = sqlutil.StringOr(avatar, "")
	if songID.Valid {
		p.Selection = &models.SongSelection{
			SongID:     songID.String,
			SongName:   sqlutil.StringOr(songName, ""),
			SongArtist: sqlutil.StringOr(songArtist, ""),
			SongURI:    sqlutil.StringOr(songURI, ""),
		}
	}
	return &p, nil
}

// writePhaseEvents stamps PhaseChanged with the row's updated_at.
func writePhaseEvents(ctx context.Context, tx pgx.Tx, from models.Phase, g *models.Game) error {
	if err := insertOutbox(ctx, tx, g.ID, events.TypeGameUpdated, events.GameUpdatedPayload{Game: *g}); err != nil {
		return err
	}
	return insertOutbox(ctx, tx, g.ID, events.TypePhaseChanged, events.PhaseChangedPayload{
		GameID:    g.ID.String(),
		Code:      g.Code,
		From:      from,
		To:        g.CurrentPhase,
		Round:     g.CurrentRound,
		ChangedAt: g.UpdatedAt,
	})
}

func insertOutbox(ctx context.Context, tx pgx.Tx, gameID uuid.UUID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO game_outbox (id, game_id, event_type, payload) VALUES ($1, $2, $3, $4)`,
		uuid.New(), gameID, eventType, data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

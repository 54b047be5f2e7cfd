package game

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

type timerColumns struct {
	start    string
	duration string
}

// timerColumnsByKind is the explicit kind to column-pair table. Column names
// are never derived from caller input.
var timerColumnsByKind = map[models.TimerKind]timerColumns{
	models.TimerSong:              {start: "song_start_time", duration: "song_duration"},
	models.TimerLeaderboard:       {start: "leaderboard_start_time", duration: "leaderboard_duration"},
	models.TimerCategorySelection: {start: "category_selection_start_time", duration: "category_selection_duration"},
	models.TimerWaiting:           {start: "waiting_start_time", duration: "waiting_duration"},
	models.TimerNameVote:          {start: "name_vote_start_time", duration: "name_vote_duration"},
	models.TimerSongSelection:     {start: "song_selection_start_time", duration: "song_selection_duration"},
}

func columnsFor(kind models.TimerKind) (timerColumns, error) {
	cols, ok := timerColumnsByKind[kind]
	if !ok {
		return timerColumns{}, fmt.Errorf("%w: %q", ErrUnknownTimerKind, kind)
	}
	return timerColumns{
		start:    pgx.Identifier{cols.start}.Sanitize(),
		duration: pgx.Identifier{cols.duration}.Sanitize(),
	}, nil
}

// startTimerSQL builds the single-statement conditional write for kind. The
// row is only touched when the timer is unset or already expired.
func startTimerSQL(kind models.TimerKind) (string, error) {
	cols, err := columnsFor(kind)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`UPDATE games
SET %[1]s = $2, %[2]s = $3, updated_at = $2
WHERE id = $1
  AND (%[1]s IS NULL OR %[2]s IS NULL OR %[1]s + make_interval(secs => %[2]s) <= $2)
RETURNING %[3]s`, cols.start, cols.duration, gameColumns), nil
}

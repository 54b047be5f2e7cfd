package sqlutil

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Nullable column helpers. A NULL always maps to a nil pointer so an unset
// timer or an empty song selection survives the round trip.

func NullString(val *string) sql.NullString {
	if val == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *val, Valid: true}
}

// StringOr returns def when val is NULL.
func StringOr(val sql.NullString, def string) string {
	if !val.Valid {
		return def
	}
	return val.String
}

func IntPtr(val sql.NullInt32) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int32)
	return &i
}

func TimePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

func UUIDPtr(val uuid.NullUUID) *uuid.UUID {
	if !val.Valid {
		return nil
	}
	id := val.UUID
	return &id
}

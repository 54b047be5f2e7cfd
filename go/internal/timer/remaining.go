// Package timer derives countdowns from a stored start timestamp and duration.
//
// Remaining time is never stored. Every reader computes it from wall-clock time,
// so a device that was backgrounded or joined late converges on the same value
// as every other device watching the same game.
package timer

import (
	"math"
	"time"

	"github.com/mcdev12/sonarchy/go/internal/models"
)

// Remaining returns duration − floor((now − start)/1s) in whole seconds.
// The result is negative once the timer has run past its duration.
func Remaining(start time.Time, durationSec int, now time.Time) int {
	elapsed := math.Floor(float64(now.Sub(start).Milliseconds()) / 1000)
	return durationSec - int(elapsed)
}

// RemainingFor is Remaining for a stored pair. An unset pair has 0 remaining.
func RemainingFor(t models.Timer, now time.Time) int {
	if !t.IsSet() {
		return 0
	}
	return Remaining(*t.StartTime, *t.DurationSec, now)
}

// Running reports whether t has been started and has time left.
func Running(t models.Timer, now time.Time) bool {
	return t.IsSet() && RemainingFor(t, now) > 0
}

// Expired reports whether t has been started and has run out.
func Expired(t models.Timer, now time.Time) bool {
	return t.IsSet() && RemainingFor(t, now) <= 0
}

// Deadline returns the instant t reaches zero.
func Deadline(t models.Timer) (time.Time, bool) {
	if !t.IsSet() {
		return time.Time{}, false
	}
	return t.StartTime.Add(time.Duration(*t.DurationSec) * time.Second), true
}

// Clamp returns r, or 0 when r is negative.
func Clamp(r int) int {
	if r < 0 {
		return 0
	}
	return r
}

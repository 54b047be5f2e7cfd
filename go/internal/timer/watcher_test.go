package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestWatcher(t *testing.T, clock *clockwork.FakeClock, store *MemoryStore, expired *atomic.Int32) *Watcher {
	t.Helper()
	w := NewWatcher(WatcherConfig{
		Kind:     models.TimerSong,
		Source:   store,
		Starter:  store,
		Clock:    clock,
		OnExpire: func() { expired.Add(1) },
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func TestWatcherAlreadyExpiredDoesNotTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clock)
	store.Set(clock.Now().Add(-70*time.Second), 60)

	var expired atomic.Int32
	w := newTestWatcher(t, clock, store, &expired)

	status := w.Status()
	if status.State != StateExpired || status.Remaining != 0 {
		t.Fatalf("status = %+v, want expired with 0 remaining", status)
	}
	if w.ticking() {
		t.Fatalf("expired timer should not start a ticker")
	}
	if expired.Load() != 0 {
		t.Fatalf("OnExpire should not run for a timer already expired on start")
	}
}

func TestWatcherFiresExpiryExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clock)
	store.Set(clock.Now().Add(-10*time.Second), 60)

	var expired atomic.Int32
	w := newTestWatcher(t, clock, store, &expired)

	if got := w.Status().Remaining; got < 49 || got > 51 {
		t.Fatalf("remaining = %d, want 50±1", got)
	}
	if !w.ticking() {
		t.Fatalf("running timer should tick")
	}

	for i := 1; i <= 49; i++ {
		clock.Advance(time.Second)
		want := 50 - i
		waitFor(t, "tick", func() bool { return w.Status().Remaining == want })
	}
	if expired.Load() != 0 {
		t.Fatalf("OnExpire ran before remaining reached zero")
	}

	clock.Advance(time.Second)
	waitFor(t, "expiry", func() bool { return expired.Load() == 1 })

	status := w.Status()
	if status.State != StateExpired || status.Remaining != 0 {
		t.Fatalf("status = %+v, want expired", status)
	}

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		w.tick()
		w.Resync()
	}
	time.Sleep(10 * time.Millisecond)
	if got := expired.Load(); got != 1 {
		t.Fatalf("OnExpire ran %d times, want 1", got)
	}
	if w.ticking() {
		t.Fatalf("ticker should stop after expiry")
	}
}

func TestWatcherStartTimerSkipsWhenRunning(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clock)
	store.Set(clock.Now().Add(-5*time.Second), 60)

	var expired atomic.Int32
	w := newTestWatcher(t, clock, store, &expired)

	started, err := w.StartTimer(context.Background(), 30)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if started {
		t.Fatalf("StartTimer should not restart a running timer")
	}
	if store.Writes() != 0 {
		t.Fatalf("writes = %d, want 0", store.Writes())
	}
	if got := w.Status().Remaining; got != 55 {
		t.Fatalf("remaining = %d, want 55", got)
	}
}

func TestWatcherStartTimerWritesWhenExpired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clock)
	store.Set(clock.Now().Add(-60*time.Second), 60)

	var expired atomic.Int32
	w := newTestWatcher(t, clock, store, &expired)

	started, err := w.StartTimer(context.Background(), 30)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if !started {
		t.Fatalf("StartTimer should write over an expired timer")
	}
	if store.Writes() != 1 {
		t.Fatalf("writes = %d, want 1", store.Writes())
	}

	snap, _ := store.Snapshot(context.Background())
	if !snap.StartTime.Equal(clock.Now()) {
		t.Fatalf("start = %v, want fresh start %v", snap.StartTime, clock.Now())
	}

	status := w.Status()
	if status.State != StateRunning || status.Remaining != 30 {
		t.Fatalf("status = %+v, want running with 30 remaining", status)
	}
}

func TestWatcherAdoptsNotificationFromAnotherWriter(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clock)
	store.Set(clock.Now().Add(-90*time.Second), 60)

	var expired atomic.Int32
	w := newTestWatcher(t, clock, store, &expired)
	if !w.Status().Expired() {
		t.Fatalf("expected watcher to start expired")
	}

	store.Set(clock.Now(), 45)

	status := w.Status()
	if status.State != StateRunning || status.Remaining != 45 {
		t.Fatalf("status = %+v, want running with 45 remaining", status)
	}
	if !w.ticking() {
		t.Fatalf("adopted timer should tick")
	}
}

func TestWatcherResyncAfterBackgrounding(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clock)
	store.Set(clock.Now(), 60)

	var expired atomic.Int32
	w := newTestWatcher(t, clock, store, &expired)

	clock.Advance(20 * time.Second)
	w.Resync()
	if got := w.Status().Remaining; got != 40 {
		t.Fatalf("remaining after resync = %d, want 40", got)
	}

	clock.Advance(time.Minute)
	w.Resync()
	waitFor(t, "expiry", func() bool { return expired.Load() == 1 })
	if !w.Status().Expired() {
		t.Fatalf("expected expired after resync past the deadline")
	}
}

func TestWatcherCloseUnsubscribes(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clock)
	store.Set(clock.Now(), 60)

	var expired atomic.Int32
	w := newTestWatcher(t, clock, store, &expired)
	w.Close()

	if w.ticking() {
		t.Fatalf("closed watcher should not tick")
	}
	store.mu.Lock()
	subs := len(store.subscribers)
	store.mu.Unlock()
	if subs != 0 {
		t.Fatalf("subscribers = %d, want 0", subs)
	}

	store.Set(clock.Now(), 10)
	if got := w.Status().Remaining; got != 60 {
		t.Fatalf("closed watcher adopted a change: remaining = %d", got)
	}
}

func TestWatcherIdleWithoutTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)

	var expired atomic.Int32
	w := newTestWatcher(t, clock, store, &expired)

	if w.Status().State != StateIdle {
		t.Fatalf("state = %s, want idle", w.Status().State)
	}
	if _, err := NewWatcher(WatcherConfig{Source: store}).StartTimer(context.Background(), 10); err != ErrNoStarter {
		t.Fatalf("err = %v, want ErrNoStarter", err)
	}
}

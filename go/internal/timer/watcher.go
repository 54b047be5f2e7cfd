package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/sonarchy/go/internal/models"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle of one watched timer.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateExpired State = "expired"
)

// Status is what a Watcher currently reports.
type Status struct {
	Kind        models.TimerKind `json:"kind"`
	State       State            `json:"state"`
	Remaining   int              `json:"remaining_sec"`
	StartTime   *time.Time       `json:"start_time,omitempty"`
	DurationSec *int             `json:"duration_sec,omitempty"`
}

// Expired is a convenience for Status.State == StateExpired.
func (s Status) Expired() bool {
	return s.State == StateExpired
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Kind    models.TimerKind
	Source  Source
	Starter Starter
	Clock   clockwork.Clock

	// OnExpire runs once per started timer, on the tick where remaining first reaches zero.
	// It does not run for a timer that was already expired when first observed.
	OnExpire func()
	// OnChange runs after every tick and every adopted notification.
	OnChange func(Status)
}

// Watcher keeps a local countdown for one timer kind in step with the stored pair.
// It ticks once per second from cached values, re-syncs on change notifications
// and on Resync, and never cancels anything server side.
type Watcher struct {
	cfg   WatcherConfig
	clock clockwork.Clock

	mu        sync.Mutex
	start     *time.Time
	duration  *int
	state     State
	remaining int
	fired     bool
	closed    bool

	ticker clockwork.Ticker
	done   chan struct{}
	cancel func()
}

// NewWatcher creates an idle Watcher. Call Start to fetch and subscribe.
func NewWatcher(cfg WatcherConfig) *Watcher {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		cfg:   cfg,
		clock: clock,
		state: StateIdle,
	}
}

// Start fetches the current pair once and subscribes to change notifications.
func (w *Watcher) Start(ctx context.Context) error {
	snap, err := w.cfg.Source.Snapshot(ctx)
	if err != nil {
		log.Error().Err(err).Str("kind", string(w.cfg.Kind)).Msg("failed to fetch timer")
		return fmt.Errorf("fetch timer %s: %w", w.cfg.Kind, err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.adopt(snap)
	status := w.status()
	w.mu.Unlock()
	w.notify(status, false)

	cancel, err := w.cfg.Source.Subscribe(w.handleChange)
	if err != nil {
		log.Error().Err(err).Str("kind", string(w.cfg.Kind)).Msg("failed to subscribe to timer changes")
		return fmt.Errorf("subscribe timer %s: %w", w.cfg.Kind, err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		cancel()
		return nil
	}
	w.cancel = cancel
	w.mu.Unlock()
	return nil
}

// StartTimer asks the Starter to begin a timer of durationSec. It reports
// false without writing when another device already has one running.
func (w *Watcher) StartTimer(ctx context.Context, durationSec int) (bool, error) {
	if w.cfg.Starter == nil {
		return false, ErrNoStarter
	}

	started, current, err := w.cfg.Starter.StartTimer(ctx, durationSec)
	if err != nil {
		log.Error().Err(err).Str("kind", string(w.cfg.Kind)).Int("duration_sec", durationSec).Msg("failed to start timer")
		return false, err
	}
	if !started {
		log.Debug().Str("kind", string(w.cfg.Kind)).Msg("timer already running, not restarting")
	}

	w.handleChange(current)
	return started, nil
}

// Resync recomputes remaining time from the cached pair immediately.
// Call it when the device comes back to the foreground.
func (w *Watcher) Resync() {
	w.mu.Lock()
	if w.closed || w.state != StateRunning {
		w.mu.Unlock()
		return
	}
	fire := w.recompute()
	status := w.status()
	w.mu.Unlock()
	w.notify(status, fire)
}

// Status returns the current view of the timer.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status()
}

// Close stops ticking and unsubscribes.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.stopTicker()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (w *Watcher) handleChange(t models.Timer) {
	w.mu.Lock()
	if w.closed || sameStart(w.start, t.StartTime) && sameDuration(w.duration, t.DurationSec) {
		w.mu.Unlock()
		return
	}
	w.adopt(t)
	status := w.status()
	w.mu.Unlock()
	w.notify(status, false)
}

func (w *Watcher) tick() {
	w.mu.Lock()
	if w.closed || w.state != StateRunning {
		w.mu.Unlock()
		return
	}
	fire := w.recompute()
	status := w.status()
	w.mu.Unlock()
	w.notify(status, fire)
}

// adopt replaces the cached pair. Must hold w.mu.
func (w *Watcher) adopt(t models.Timer) {
	w.stopTicker()
	w.fired = false

	if !t.IsSet() {
		w.start, w.duration = nil, nil
		w.state = StateIdle
		w.remaining = 0
		return
	}

	start, duration := *t.StartTime, *t.DurationSec
	w.start, w.duration = &start, &duration

	remaining := Remaining(start, duration, w.clock.Now())
	if remaining <= 0 {
		w.state = StateExpired
		w.remaining = 0
		return
	}

	w.state = StateRunning
	w.remaining = remaining
	w.startTicker()
}

// recompute updates remaining from cached values and reports whether the
// expiry callback is due. Must hold w.mu.
func (w *Watcher) recompute() bool {
	remaining := Remaining(*w.start, *w.duration, w.clock.Now())
	if remaining > 0 {
		w.remaining = remaining
		return false
	}

	w.remaining = 0
	w.state = StateExpired
	w.stopTicker()
	if w.fired {
		return false
	}
	w.fired = true
	return true
}

// Must hold w.mu.
func (w *Watcher) startTicker() {
	ticker := w.clock.NewTicker(time.Second)
	done := make(chan struct{})
	w.ticker, w.done = ticker, done

	go func() {
		for {
			select {
			case <-ticker.Chan():
				w.tick()
			case <-done:
				return
			}
		}
	}()
}

// Must hold w.mu.
func (w *Watcher) stopTicker() {
	if w.ticker == nil {
		return
	}
	w.ticker.Stop()
	close(w.done)
	w.ticker, w.done = nil, nil
}

// ticking reports whether a local interval is active.
func (w *Watcher) ticking() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticker != nil
}

// Must hold w.mu.
func (w *Watcher) status() Status {
	s := Status{
		Kind:      w.cfg.Kind,
		State:     w.state,
		Remaining: w.remaining,
	}
	if w.start != nil {
		start := *w.start
		s.StartTime = &start
	}
	if w.duration != nil {
		d := *w.duration
		s.DurationSec = &d
	}
	return s
}

func (w *Watcher) notify(status Status, fire bool) {
	if w.cfg.OnChange != nil {
		w.cfg.OnChange(status)
	}
	if fire {
		log.Debug().Str("kind", string(w.cfg.Kind)).Msg("timer expired")
		if w.cfg.OnExpire != nil {
			w.cfg.OnExpire()
		}
	}
}

func sameStart(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameDuration(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

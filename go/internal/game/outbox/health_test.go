package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeStats struct {
	processed uint64
	last      time.Time
}

func (f fakeStats) Stats() (uint64, time.Time) { return f.processed, f.last }

type fakePinger struct{ err error }

func (f fakePinger) PingContext(ctx context.Context) error { return f.err }

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

func TestHealthChecker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pending := newFakeStore(newEvent("GameUpdated"))

	tests := []struct {
		name        string
		stats       fakeStats
		store       Store
		db          pinger
		nats        connChecker
		wantHealthy bool
		wantCode    int
	}{
		{"healthy", fakeStats{processed: 3, last: clock.Now()}, newFakeStore(), fakePinger{}, fakeConn(true), true, http.StatusOK},
		{"database down", fakeStats{}, newFakeStore(), fakePinger{err: errors.New("refused")}, fakeConn(true), false, http.StatusServiceUnavailable},
		{"nats down", fakeStats{}, newFakeStore(), fakePinger{}, fakeConn(false), false, http.StatusServiceUnavailable},
		{"stalled backlog", fakeStats{processed: 1, last: clock.Now().Add(-time.Hour)}, pending, fakePinger{}, fakeConn(true), false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(tt.stats, tt.store, tt.db, tt.nats, time.Minute)
			h.clock = clock

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}

			var status HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if status.Healthy != tt.wantHealthy {
				t.Fatalf("healthy = %v, want %v (errors %v)", status.Healthy, tt.wantHealthy, status.Errors)
			}
		})
	}
}

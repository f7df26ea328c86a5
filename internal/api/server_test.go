package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-relay/internal/api/handler"
	"github.com/albapepper/scoracle-relay/internal/cache"
	"github.com/albapepper/scoracle-relay/internal/config"
	"github.com/albapepper/scoracle-relay/internal/dedup"
	"github.com/albapepper/scoracle-relay/internal/notifications"
	"github.com/albapepper/scoracle-relay/internal/provider"
	"github.com/albapepper/scoracle-relay/internal/subscription"
)

type stubEngine struct {
	last     *notifications.CycleResult
	cycles   int
	inFlight time.Time
}

func (s *stubEngine) LastResult() (notifications.CycleResult, bool) {
	if s.last == nil {
		return notifications.CycleResult{}, false
	}
	return *s.last, true
}
func (s *stubEngine) InFlightSince() (time.Time, bool) {
	return s.inFlight, !s.inFlight.IsZero()
}
func (s *stubEngine) Cycles() int             { return s.cycles }
func (s *stubEngine) Interval() time.Duration { return time.Minute }

var now = time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		CORSAllowOrigins:  []string{"https://status.example"},
		RateLimitEnabled:  true,
		RateLimitRequests: 4,
		RateLimitWindow:   time.Minute,
	}
}

func newRouter(eng *stubEngine, nowFn func() time.Time) http.Handler {
	subs := subscription.New()
	subs.AddSubscriber(1)
	subs.AddFollow(1, "Chelsea")
	return NewRouter(handler.Deps{
		Engine:   eng,
		Subs:     subs,
		Dedup:    dedup.New(),
		Watch:    cache.New[*provider.StreamInfo](time.Minute),
		Breakers: []*provider.Breaker{provider.NewBreaker(provider.DefaultBreakerSettings("youtube"), nil)},
		Now:      nowFn,
	}, testConfig(), nil)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	rec := get(t, newRouter(&stubEngine{}, func() time.Time { return now }), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))
}

func TestHealthEngine(t *testing.T) {
	clock := now
	nowFn := func() time.Time { return clock }

	t.Run("starting", func(t *testing.T) {
		rec := get(t, newRouter(&stubEngine{}, nowFn), "/health/engine")
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "starting", body["status"])
		assert.Equal(t, map[string]any{"youtube": "closed"}, body["breakers"])
		recipients := body["recipients"].(map[string]any)
		assert.Equal(t, float64(1), recipients["subscribers"])
	})

	t.Run("healthy", func(t *testing.T) {
		eng := &stubEngine{cycles: 3, last: &notifications.CycleResult{StartedAt: now.Add(-time.Minute), Duration: time.Second}}
		rec := get(t, newRouter(eng, nowFn), "/health/engine")
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, float64(3), body["cycles"])
	})

	t.Run("degraded", func(t *testing.T) {
		eng := &stubEngine{last: &notifications.CycleResult{StartedAt: now, Errors: []string{"fixtures: 502"}}}
		rec := get(t, newRouter(eng, nowFn), "/health/engine")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "degraded", decode(t, rec)["status"])
	})

	t.Run("stale", func(t *testing.T) {
		eng := &stubEngine{last: &notifications.CycleResult{StartedAt: now.Add(-time.Hour)}}
		rec := get(t, newRouter(eng, nowFn), "/health/engine")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "last poll cycle is stale", decode(t, rec)["error"])
	})

	t.Run("slow cycle in flight", func(t *testing.T) {
		eng := &stubEngine{
			cycles:   1,
			last:     &notifications.CycleResult{StartedAt: now.Add(-time.Hour)},
			inFlight: now.Add(-30 * time.Second),
		}
		rec := get(t, newRouter(eng, nowFn), "/health/engine")
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "2025-03-02T11:59:30Z", body["in_flight_since"])
	})

	t.Run("first cycle still running", func(t *testing.T) {
		eng := &stubEngine{}
		router := newRouter(eng, nowFn)
		clock = now.Add(10 * time.Minute)
		defer func() { clock = now }()
		eng.inFlight = clock.Add(-time.Minute)
		rec := get(t, router, "/health/engine")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "starting", decode(t, rec)["status"])
	})

	t.Run("stuck cycle", func(t *testing.T) {
		eng := &stubEngine{
			last:     &notifications.CycleResult{StartedAt: now.Add(-time.Hour)},
			inFlight: now.Add(-10 * time.Minute),
		}
		rec := get(t, newRouter(eng, nowFn), "/health/engine")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "last poll cycle is stale", decode(t, rec)["error"])
	})

	t.Run("never ran", func(t *testing.T) {
		router := newRouter(&stubEngine{}, nowFn)
		clock = now.Add(10 * time.Minute)
		defer func() { clock = now }()
		rec := get(t, router, "/health/engine")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "no poll cycle has completed", decode(t, rec)["error"])
	})
}

// blockingFootball serves one fixture and parks the second Events call until
// released.
type blockingFootball struct {
	mu      sync.Mutex
	calls   int
	blocked chan struct{}
	release chan struct{}
}

func (f *blockingFootball) Fixtures(ctx context.Context, date time.Time) ([]provider.Fixture, error) {
	return []provider.Fixture{{ID: 1, HomeTeam: provider.Team{Name: "Chelsea"}, AwayTeam: provider.Team{Name: "Fulham"}}}, nil
}

func (f *blockingFootball) Lineups(ctx context.Context, id int) ([]provider.TeamLineup, error) {
	return nil, nil
}

func (f *blockingFootball) Events(ctx context.Context, id int) ([]provider.MatchEvent, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == 2 {
		close(f.blocked)
		<-f.release
	}
	return nil, nil
}

func TestHealthEngineDuringLongCycle(t *testing.T) {
	var clockMu sync.Mutex
	clock := now
	nowFn := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		clock = clock.Add(d)
		clockMu.Unlock()
	}

	football := &blockingFootball{blocked: make(chan struct{}), release: make(chan struct{})}
	engine := notifications.New(nil, football, notifications.NewLogNotifier(discardLogger()),
		subscription.New(), dedup.New(), notifications.Config{
			Interval: time.Minute,
			Location: time.UTC,
			Now:      nowFn,
		}, discardLogger())
	router := NewRouter(handler.Deps{Engine: engine, Now: nowFn}, testConfig(), discardLogger())

	engine.RunCycle(context.Background())
	require.Equal(t, 1, engine.Cycles())

	// The next cycle starts well after the first one and then takes long.
	advance(10 * time.Minute)
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.RunCycle(context.Background())
	}()
	select {
	case <-football.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("second cycle never reached events")
	}
	advance(time.Minute)

	rec := get(t, router, "/health/engine")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	close(football.release)
	<-done
	_, running := engine.InFlightSince()
	assert.False(t, running)
	assert.Equal(t, 2, engine.Cycles())
}

func TestHealthCache(t *testing.T) {
	rec := get(t, newRouter(&stubEngine{}, nil), "/health/cache")
	assert.Equal(t, http.StatusOK, rec.Code)
	cacheStats := decode(t, rec)["cache"].(map[string]any)
	assert.Equal(t, true, cacheStats["enabled"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newRouter(&stubEngine{}, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://status.example")
	rec := httptest.NewRecorder()
	newRouter(&stubEngine{}, nil).ServeHTTP(rec, req)

	assert.Equal(t, "https://status.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	router := newRouter(&stubEngine{}, nil)
	// Burst is half the window allowance.
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(t, router, "/health").Code)
	}
	rec := get(t, router, "/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestServeShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), discardLogger()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

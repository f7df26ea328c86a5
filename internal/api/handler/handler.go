// Package handler provides HTTP handlers for the status endpoints. Handlers
// read in-memory state directly; there is no service layer.
package handler

import (
	"net/http"
	"time"

	"github.com/albapepper/scoracle-relay/internal/api/respond"
	"github.com/albapepper/scoracle-relay/internal/cache"
	"github.com/albapepper/scoracle-relay/internal/dedup"
	"github.com/albapepper/scoracle-relay/internal/notifications"
	"github.com/albapepper/scoracle-relay/internal/provider"
	"github.com/albapepper/scoracle-relay/internal/subscription"
)

// staleAfter is how many intervals may pass without a cycle finishing or
// starting before the engine is reported unhealthy.
const staleAfter = 3

// Engine is the read side of the poll engine.
type Engine interface {
	LastResult() (notifications.CycleResult, bool)
	InFlightSince() (time.Time, bool)
	Cycles() int
	Interval() time.Duration
}

// Deps are the handler dependencies. Any field except Engine may be nil.
type Deps struct {
	Engine   Engine
	Subs     *subscription.Store
	Dedup    *dedup.Store
	Watch    *cache.Cache[*provider.StreamInfo]
	Breakers []*provider.Breaker
	Version  string
	Now      func() time.Time
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	d       Deps
	started time.Time
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	return &Handler{d: d, started: d.Now()}
}

func (h *Handler) timestamp() string {
	return h.d.Now().UTC().Format(time.RFC3339)
}

// Root serves service info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "Scoracle Relay",
		"version": h.d.Version,
		"status":  "running",
		"uptime":  h.d.Now().Sub(h.started).Round(time.Second).String(),
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.timestamp(),
	})
}

// HealthCheckEngine reports the last poll cycle, recipient and dedup counts,
// and circuit breaker states. It answers 503 when the engine has made no
// progress, neither finishing nor starting a cycle, within a few intervals.
func (h *Handler) HealthCheckEngine(w http.ResponseWriter, r *http.Request) {
	now := h.d.Now()
	body := map[string]any{
		"timestamp": h.timestamp(),
		"cycles":    h.d.Engine.Cycles(),
		"interval":  h.d.Engine.Interval().String(),
	}
	if h.d.Subs != nil {
		body["recipients"] = h.d.Subs.Stats()
	}
	if h.d.Dedup != nil {
		body["dedup"] = h.d.Dedup.Stats()
	}
	if len(h.d.Breakers) > 0 {
		states := make(map[string]string, len(h.d.Breakers))
		for _, b := range h.d.Breakers {
			states[b.Name()] = b.State()
		}
		body["breakers"] = states
	}

	limit := time.Duration(staleAfter) * h.d.Engine.Interval()
	last, ok := h.d.Engine.LastResult()
	since, running := h.d.Engine.InFlightSince()

	// Progress is the later of the last finished cycle and the start of the
	// running one, so a slow cycle does not read as a stalled engine.
	var progress time.Time
	if ok {
		progress = last.StartedAt.Add(last.Duration)
	}
	if running && since.After(progress) {
		progress = since
		body["in_flight_since"] = since.UTC().Format(time.RFC3339)
	}
	if progress.IsZero() {
		progress = h.started
	}
	if ok {
		body["last_cycle"] = last
	}

	switch {
	case now.Sub(progress) > limit:
		body["status"] = "unhealthy"
		body["error"] = "last poll cycle is stale"
		if !ok {
			body["error"] = "no poll cycle has completed"
		}
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, body)
	case !ok:
		body["status"] = "starting"
		respond.WriteJSONObject(w, http.StatusOK, body)
	default:
		body["status"] = "healthy"
		if last.Outcome() == "partial" {
			body["status"] = "degraded"
		}
		respond.WriteJSONObject(w, http.StatusOK, body)
	}
}

// HealthCheckCache returns /watch cache statistics.
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	if h.d.Watch == nil {
		respond.WriteError(w, http.StatusNotFound, "CACHE_DISABLED", "No watch cache configured")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.d.Watch.Stats(),
		"timestamp": h.timestamp(),
	})
}

// Package maintenance runs periodic housekeeping on cron schedules: pruning
// dedup records of fixtures that have left the poll window, and evicting
// expired cache entries.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/albapepper/scoracle-relay/internal/dedup"
	"github.com/albapepper/scoracle-relay/internal/metrics"
)

// Evicter is a cache that can drop its expired entries.
type Evicter interface {
	Evict() int
}

// Config controls maintenance schedules. A zero Retention disables dedup
// pruning; an empty schedule disables its task.
type Config struct {
	PruneSchedule string        // standard cron spec or descriptor
	Retention     time.Duration // how long a fixture's records outlive its last poll
	EvictSchedule string
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		PruneSchedule: "@hourly",
		Retention:     48 * time.Hour,
		EvictSchedule: "@every 5m",
	}
}

// Runner owns the cron scheduler.
type Runner struct {
	cron   *cron.Cron
	store  *dedup.Store
	cache  Evicter
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New registers the configured tasks. store or cache may be nil to skip the
// corresponding task.
func New(store *dedup.Store, cache Evicter, cfg Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cron:   cron.New(),
		store:  store,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}

	if store != nil && cfg.Retention > 0 && cfg.PruneSchedule != "" {
		if _, err := r.cron.AddFunc(cfg.PruneSchedule, func() { r.PruneDedup() }); err != nil {
			return nil, fmt.Errorf("prune schedule %q: %w", cfg.PruneSchedule, err)
		}
	}
	if cache != nil && cfg.EvictSchedule != "" {
		if _, err := r.cron.AddFunc(cfg.EvictSchedule, func() { r.EvictCache() }); err != nil {
			return nil, fmt.Errorf("evict schedule %q: %w", cfg.EvictSchedule, err)
		}
	}
	return r, nil
}

// Tasks returns the number of scheduled tasks.
func (r *Runner) Tasks() int { return len(r.cron.Entries()) }

// Start runs the scheduler until ctx is cancelled, then waits for running
// tasks to finish. Intended to be called with `go`.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Maintenance scheduler started",
		"prune", r.cfg.PruneSchedule,
		"retention", r.cfg.Retention,
		"evict", r.cfg.EvictSchedule,
		"tasks", r.Tasks())

	r.cron.Start()
	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.logger.Info("Maintenance scheduler stopped")
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// PruneDedup drops lineup and event records of fixtures not seen in any poll
// for the retention period. The live stream record is kept.
func (r *Runner) PruneDedup() int {
	if r.store == nil || r.cfg.Retention <= 0 {
		return 0
	}
	start := time.Now()
	n := r.store.Prune(r.now().Add(-r.cfg.Retention))
	metrics.DedupEvictionsTotal.Add(float64(n))
	if n > 0 {
		r.logger.Info("Pruned dedup records",
			"fixtures", n, "duration", time.Since(start).Round(time.Millisecond))
	}
	return n
}

// EvictCache removes expired cache entries.
func (r *Runner) EvictCache() int {
	if r.cache == nil {
		return 0
	}
	n := r.cache.Evict()
	if n > 0 {
		r.logger.Debug("Evicted cache entries", "count", n)
	}
	return n
}

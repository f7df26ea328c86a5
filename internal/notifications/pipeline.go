package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/scoracle-relay/internal/dedup"
	"github.com/albapepper/scoracle-relay/internal/metrics"
	"github.com/albapepper/scoracle-relay/internal/provider"
	"github.com/albapepper/scoracle-relay/internal/subscription"
)

// Config controls the engine. Zero values fall back to defaults.
type Config struct {
	// Interval between the end of a cycle and the start of the next.
	Interval time.Duration
	// Location decides which calendar day "today" is. Defaults to time.Local.
	Location *time.Location
	// ChannelName is shown in live stream alerts.
	ChannelName string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine owns one poll loop and the state it diffs against. Multiple engines
// with their own stores can run side by side.
type Engine struct {
	streams  StreamSource
	football FootballSource
	notifier Notifier
	subs     *subscription.Store
	dedup    *dedup.Store

	interval time.Duration
	loc      *time.Location
	channel  string
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	last     *CycleResult
	cycles   int
	inFlight time.Time // zero when no cycle is running
}

// New creates an engine. streams or football may be nil, in which case the
// corresponding steps are skipped.
func New(
	streams StreamSource,
	football FootballSource,
	notifier Notifier,
	subs *subscription.Store,
	store *dedup.Store,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = defaultChannelName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		streams:  streams,
		football: football,
		notifier: notifier,
		subs:     subs,
		dedup:    store,
		interval: cfg.Interval,
		loc:      cfg.Location,
		channel:  cfg.ChannelName,
		now:      cfg.Now,
		logger:   logger,
	}
}

// RunCycle performs one full pass: live stream, fixtures, lineups, events.
// Fetch failures skip the remainder of the affected step and are reported in
// the result; the cycle itself never fails.
func (e *Engine) RunCycle(ctx context.Context) (res CycleResult) {
	start := e.now()
	res = CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: start,
		Date:      start.In(e.loc).Format(time.DateOnly),
	}
	log := e.logger.With("cycle_id", res.CycleID)

	e.mu.Lock()
	e.inFlight = start
	e.mu.Unlock()

	defer func() {
		res.Duration = e.now().Sub(start)
		e.finish(&res, log)
	}()

	// 1. Live stream
	if !e.alive(ctx, &res) {
		return res
	}
	e.checkLiveStream(ctx, &res, log)

	// 2. Fixtures for today
	if !e.alive(ctx, &res) {
		return res
	}
	fixtures, ok := e.enumerateFixtures(ctx, start, &res, log)
	if !ok {
		return res
	}

	// 3. Lineups
	for _, f := range fixtures {
		if !e.alive(ctx, &res) {
			return res
		}
		e.dispatchLineups(ctx, f, &res, log)
	}

	// 4. Events
	for _, f := range fixtures {
		if !e.alive(ctx, &res) {
			return res
		}
		e.dispatchEvents(ctx, f, &res, log)
	}
	return res
}

// alive reports whether the cycle may continue, flagging it cancelled if not.
func (e *Engine) alive(ctx context.Context, res *CycleResult) bool {
	if ctx.Err() != nil {
		res.Cancelled = true
		return false
	}
	return true
}

// --------------------------------------------------------------------------
// Steps
// --------------------------------------------------------------------------

func (e *Engine) checkLiveStream(ctx context.Context, res *CycleResult, log *slog.Logger) {
	if e.streams == nil {
		return
	}
	stream, err := e.streams.LiveStream(ctx)
	if err != nil {
		e.fetchFailed(res, log, "stream", err)
		return
	}
	// An empty result never clears the stored ID; identity alone drives
	// novelty, so the next broadcast is still detected.
	if stream == nil || !e.dedup.IsNewStream(stream.ID) {
		return
	}
	e.dedup.RecordStream(stream.ID)
	res.StreamAnnounced = true

	subscribers := e.subs.Subscribers()
	log.Info("Live stream detected", "video_id", stream.ID, "title", stream.Title, "subscribers", len(subscribers))

	msg := streamMessage(e.channel, stream)
	e.fanOut(ctx, subscribers, msg, res, log)
}

func (e *Engine) enumerateFixtures(ctx context.Context, now time.Time, res *CycleResult, log *slog.Logger) ([]provider.Fixture, bool) {
	if e.football == nil {
		return nil, false
	}
	fixtures, err := e.football.Fixtures(ctx, now.In(e.loc))
	if err != nil {
		e.fetchFailed(res, log, "fixtures", err)
		return nil, false
	}
	for _, f := range fixtures {
		e.dedup.Touch(f.ID, now)
	}
	res.FixturesSeen = len(fixtures)
	return fixtures, true
}

// dispatchLineups pushes a fixture's lineups once to everyone following
// either team. Fixtures without followers are not fetched and not marked, so
// a later follow still gets the lineup.
func (e *Engine) dispatchLineups(ctx context.Context, f provider.Fixture, res *CycleResult, log *slog.Logger) {
	if e.dedup.IsLineupSent(f.ID) {
		return
	}
	recipients := e.subs.FollowersOfAny(f.HomeTeam.Name, f.AwayTeam.Name)
	if len(recipients) == 0 {
		return
	}

	lineups, err := e.football.Lineups(ctx, f.ID)
	if err != nil {
		e.fetchFailed(res, log, "lineups", fmt.Errorf("fixture %d: %w", f.ID, err))
		return
	}
	if len(lineups) == 0 {
		log.Debug("Lineups not published yet", "fixture_id", f.ID)
		return
	}

	e.dedup.MarkLineupSent(f.ID)
	res.LineupsDispatched++
	log.Info("Dispatching lineups",
		"fixture_id", f.ID,
		"home", f.HomeTeam.Name,
		"away", f.AwayTeam.Name,
		"recipients", len(recipients))

	for _, to := range recipients {
		for _, l := range lineups {
			if ctx.Err() != nil {
				return
			}
			e.deliver(ctx, to, LineupMessage(l), res, log)
		}
	}
}

// dispatchEvents announces goals and red cards not seen before. Every new
// event is recorded, announced or not.
func (e *Engine) dispatchEvents(ctx context.Context, f provider.Fixture, res *CycleResult, log *slog.Logger) {
	events, err := e.football.Events(ctx, f.ID)
	if err != nil {
		e.fetchFailed(res, log, "events", fmt.Errorf("fixture %d: %w", f.ID, err))
		return
	}
	res.EventsSeen += len(events)

	for _, ev := range events {
		key := EventKeyOf(f.ID, ev)
		if e.dedup.IsEventSent(f.ID, key) {
			continue
		}
		e.dedup.MarkEventSent(f.ID, key)
		res.EventsNew++

		kind, ok := classify(ev)
		if !ok {
			continue
		}
		recipients := e.subs.FollowersOf(ev.Team.Name)
		log.Info("Match event",
			"fixture_id", f.ID,
			"key", key.String(),
			"kind", kind,
			"recipients", len(recipients))
		e.fanOut(ctx, recipients, eventMessage(kind, ev), res, log)
	}
}

func (e *Engine) fetchFailed(res *CycleResult, log *slog.Logger, source string, err error) {
	metrics.FetchErrorsTotal.WithLabelValues(source).Inc()
	res.AddErrorf("%s: %v", source, err)
	log.Warn("Fetch failed, skipping step", "source", source, "error", err)
}

// --------------------------------------------------------------------------
// Bookkeeping
// --------------------------------------------------------------------------

func (e *Engine) finish(res *CycleResult, log *slog.Logger) {
	metrics.CyclesTotal.WithLabelValues(res.Outcome()).Inc()
	metrics.CycleDuration.Observe(res.Duration.Seconds())

	ds := e.dedup.Stats()
	metrics.DedupRecords.WithLabelValues("lineups").Set(float64(ds.LineupsSent))
	metrics.DedupRecords.WithLabelValues("events").Set(float64(ds.EventsSent))
	metrics.DedupRecords.WithLabelValues("fixtures").Set(float64(ds.TrackedFixtures))

	ss := e.subs.Stats()
	metrics.Recipients.WithLabelValues("subscribers").Set(float64(ss.Subscribers))
	metrics.Recipients.WithLabelValues("followers").Set(float64(ss.Followers))
	metrics.Recipients.WithLabelValues("follow_entries").Set(float64(ss.FollowEntries))

	e.mu.Lock()
	last := *res
	e.last = &last
	e.cycles++
	e.inFlight = time.Time{}
	e.mu.Unlock()

	if len(res.Errors) > 0 || res.Sent+res.Failed > 0 {
		log.Info("Poll cycle complete", "summary", res.Summary())
	} else {
		log.Debug("Poll cycle complete", "summary", res.Summary())
	}
}

// LastResult returns the most recent cycle result, if any cycle has run.
func (e *Engine) LastResult() (CycleResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return CycleResult{}, false
	}
	return *e.last, true
}

// InFlightSince returns the start time of the cycle currently running, if
// any.
func (e *Engine) InFlightSince() (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inFlight, !e.inFlight.IsZero()
}

// Cycles returns how many cycles have completed.
func (e *Engine) Cycles() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cycles
}

// Interval returns the pause between cycles.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

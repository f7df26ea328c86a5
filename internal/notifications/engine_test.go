package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/scoracle-relay/internal/dedup"
	"github.com/albapepper/scoracle-relay/internal/provider"
	"github.com/albapepper/scoracle-relay/internal/subscription"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeStreams struct {
	stream *provider.StreamInfo
	err    error
	calls  int
}

func (f *fakeStreams) LiveStream(ctx context.Context) (*provider.StreamInfo, error) {
	f.calls++
	return f.stream, f.err
}

type fakeFootball struct {
	fixtures    []provider.Fixture
	fixturesErr error
	lineups     map[int][]provider.TeamLineup
	lineupsErr  map[int]error
	events      map[int][]provider.MatchEvent
	eventsErr   map[int]error

	fixtureDates []time.Time
	lineupCalls  map[int]int
	eventCalls   map[int]int
}

func newFakeFootball(fixtures ...provider.Fixture) *fakeFootball {
	return &fakeFootball{
		fixtures:    fixtures,
		lineups:     make(map[int][]provider.TeamLineup),
		lineupsErr:  make(map[int]error),
		events:      make(map[int][]provider.MatchEvent),
		eventsErr:   make(map[int]error),
		lineupCalls: make(map[int]int),
		eventCalls:  make(map[int]int),
	}
}

func (f *fakeFootball) Fixtures(ctx context.Context, date time.Time) ([]provider.Fixture, error) {
	f.fixtureDates = append(f.fixtureDates, date)
	return f.fixtures, f.fixturesErr
}

func (f *fakeFootball) Lineups(ctx context.Context, id int) ([]provider.TeamLineup, error) {
	f.lineupCalls[id]++
	return f.lineups[id], f.lineupsErr[id]
}

func (f *fakeFootball) Events(ctx context.Context, id int) ([]provider.MatchEvent, error) {
	f.eventCalls[id]++
	return f.events[id], f.eventsErr[id]
}

type delivery struct {
	to  int64
	msg Message
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []delivery
	failTo map[int64]bool
}

func (n *recordingNotifier) Send(ctx context.Context, to int64, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failTo[to] {
		return errors.New("chat not found")
	}
	n.sent = append(n.sent, delivery{to: to, msg: msg})
	return nil
}

func (n *recordingNotifier) ofKind(k Kind) []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []delivery
	for _, d := range n.sent {
		if d.msg.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

type harness struct {
	streams  *fakeStreams
	football *fakeFootball
	notifier *recordingNotifier
	subs     *subscription.Store
	dedup    *dedup.Store
	engine   *Engine
}

var testNow = time.Date(2025, 3, 2, 14, 30, 0, 0, time.UTC)

func newHarness(fixtures ...provider.Fixture) *harness {
	h := &harness{
		streams:  &fakeStreams{},
		football: newFakeFootball(fixtures...),
		notifier: &recordingNotifier{failTo: make(map[int64]bool)},
		subs:     subscription.New(),
		dedup:    dedup.New(),
	}
	h.engine = New(h.streams, h.football, h.notifier, h.subs, h.dedup, Config{
		Interval: 10 * time.Millisecond,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) cycle(t *testing.T) CycleResult {
	t.Helper()
	return h.engine.RunCycle(context.Background())
}

var chelseaFulham = provider.Fixture{
	ID:       1035,
	HomeTeam: provider.Team{ID: 49, Name: "Chelsea"},
	AwayTeam: provider.Team{ID: 36, Name: "Fulham"},
}

func lineupsFor(f provider.Fixture) []provider.TeamLineup {
	return []provider.TeamLineup{
		{Team: f.HomeTeam, StartXI: []provider.LineupPlayer{{Position: "G", Number: 1, Name: "Sanchez"}}},
		{Team: f.AwayTeam, StartXI: []provider.LineupPlayer{{Position: "G", Number: 17, Name: "Leno"}}},
	}
}

func chelseaGoal() provider.MatchEvent {
	return provider.MatchEvent{
		Elapsed: 10,
		Team:    provider.Team{ID: 49, Name: "Chelsea"},
		Player:  provider.Player{ID: 7, Name: "Palmer"},
		Type:    provider.EventTypeGoal,
		Detail:  "Normal Goal",
	}
}

// --------------------------------------------------------------------------
// Live stream
// --------------------------------------------------------------------------

func TestLiveStreamAnnouncedOncePerID(t *testing.T) {
	h := newHarness()
	h.subs.AddSubscriber(1)
	h.subs.AddSubscriber(2)
	h.streams.stream = &provider.StreamInfo{ID: "v1", Title: "Derby", URL: "https://www.youtube.com/watch?v=v1"}

	res := h.cycle(t)
	assert.True(t, res.StreamAnnounced)
	h.cycle(t)

	got := h.notifier.ofKind(KindStream)
	require.Len(t, got, 2, "one per subscriber, across both cycles")
	assert.ElementsMatch(t, []int64{1, 2}, []int64{got[0].to, got[1].to})
	assert.Equal(t, "https://www.youtube.com/watch?v=v1", got[0].msg.LinkURL)
	assert.Equal(t, FormatMarkdown, got[0].msg.Format)

	h.streams.stream = &provider.StreamInfo{ID: "v2", Title: "Final"}
	h.cycle(t)
	assert.Len(t, h.notifier.ofKind(KindStream), 4)
}

func TestLiveStreamEndingDoesNotReset(t *testing.T) {
	h := newHarness()
	h.subs.AddSubscriber(1)
	h.streams.stream = &provider.StreamInfo{ID: "v1"}
	h.cycle(t)

	h.streams.stream = nil
	h.cycle(t)
	assert.False(t, h.dedup.IsNewStream("v1"), "absence keeps the last id")

	h.streams.stream = &provider.StreamInfo{ID: "v1"}
	h.cycle(t)
	assert.Len(t, h.notifier.ofKind(KindStream), 1)

	h.streams.stream = &provider.StreamInfo{ID: "v2"}
	h.cycle(t)
	assert.Len(t, h.notifier.ofKind(KindStream), 2)
}

// --------------------------------------------------------------------------
// Lineups
// --------------------------------------------------------------------------

func TestLineupsDispatchedOnce(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "chelsea")
	h.subs.AddFollow(2, "FULHAM")
	h.subs.AddFollow(3, "Arsenal")
	h.football.lineups[chelseaFulham.ID] = lineupsFor(chelseaFulham)

	res := h.cycle(t)
	assert.Equal(t, 1, res.LineupsDispatched)
	h.cycle(t)
	h.cycle(t)

	got := h.notifier.ofKind(KindLineup)
	require.Len(t, got, 4, "two team lineups to each of two followers")
	perRecipient := map[int64]int{}
	for _, d := range got {
		perRecipient[d.to]++
	}
	assert.Equal(t, map[int64]int{1: 2, 2: 2}, perRecipient)
	assert.Equal(t, 1, h.football.lineupCalls[chelseaFulham.ID])
	assert.True(t, h.dedup.IsLineupSent(chelseaFulham.ID))
}

func TestLineupsSkippedWithoutFollowers(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "Arsenal")
	h.football.lineups[chelseaFulham.ID] = lineupsFor(chelseaFulham)

	h.cycle(t)
	h.cycle(t)

	assert.Zero(t, h.football.lineupCalls[chelseaFulham.ID], "no follower, no fetch")
	assert.False(t, h.dedup.IsLineupSent(chelseaFulham.ID))

	h.subs.AddFollow(1, "Chelsea")
	h.cycle(t)
	assert.Len(t, h.notifier.ofKind(KindLineup), 2, "a later follower still receives the lineup")
}

func TestLineupsRetriedUntilPublished(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "Chelsea")

	h.cycle(t)
	assert.Equal(t, 1, h.football.lineupCalls[chelseaFulham.ID])
	assert.False(t, h.dedup.IsLineupSent(chelseaFulham.ID))
	assert.Empty(t, h.notifier.ofKind(KindLineup))

	h.football.lineups[chelseaFulham.ID] = lineupsFor(chelseaFulham)
	h.cycle(t)
	assert.Equal(t, 2, h.football.lineupCalls[chelseaFulham.ID])
	assert.Len(t, h.notifier.ofKind(KindLineup), 2)
}

func TestLineupDeliveryFailureDoesNotBlockOthers(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "Chelsea")
	h.subs.AddFollow(2, "Chelsea")
	h.notifier.failTo[1] = true
	h.football.lineups[chelseaFulham.ID] = lineupsFor(chelseaFulham)

	res := h.cycle(t)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Sent)
	for _, d := range h.notifier.ofKind(KindLineup) {
		assert.Equal(t, int64(2), d.to)
	}

	h.notifier.failTo[1] = false
	h.cycle(t)
	assert.Len(t, h.notifier.ofKind(KindLineup), 2, "failed deliveries are not retried")
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

func TestEventDedupAcrossCycles(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "Chelsea")
	h.football.events[chelseaFulham.ID] = []provider.MatchEvent{chelseaGoal()}

	res := h.cycle(t)
	assert.Equal(t, 1, res.EventsNew)
	res = h.cycle(t)
	assert.Equal(t, 0, res.EventsNew)
	assert.Equal(t, 1, res.EventsSeen)

	got := h.notifier.ofKind(KindGoal)
	require.Len(t, got, 1)
	assert.Equal(t, "⚽ GOAL! Chelsea - Palmer (10')", got[0].msg.Text)
}

func TestEventTypeIsPartOfIdentity(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "Chelsea")
	goal := chelseaGoal()
	card := goal
	card.Type = provider.EventTypeCard
	card.Detail = provider.DetailRedCard
	h.football.events[chelseaFulham.ID] = []provider.MatchEvent{goal, card}

	h.cycle(t)

	assert.Len(t, h.notifier.ofKind(KindGoal), 1)
	red := h.notifier.ofKind(KindRedCard)
	require.Len(t, red, 1)
	assert.Equal(t, "🟥 RED CARD! Chelsea - Palmer (10')", red[0].msg.Text)
}

func TestUnannouncedEventsAreStillRecorded(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "Chelsea")
	yellow := chelseaGoal()
	yellow.Type = provider.EventTypeCard
	yellow.Detail = "Yellow Card"
	sub := chelseaGoal()
	sub.Type = "subst"
	h.football.events[chelseaFulham.ID] = []provider.MatchEvent{yellow, sub}

	res := h.cycle(t)
	assert.Equal(t, 2, res.EventsNew)
	assert.Empty(t, h.notifier.sent)
	assert.True(t, h.dedup.IsEventSent(chelseaFulham.ID, EventKeyOf(chelseaFulham.ID, yellow)))
}

func TestEventsGoOnlyToScoringTeamFollowers(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "CHELSEA")
	h.subs.AddFollow(2, "Fulham")
	h.football.events[chelseaFulham.ID] = []provider.MatchEvent{chelseaGoal()}

	h.cycle(t)

	got := h.notifier.ofKind(KindGoal)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].to)
}

func TestEventsFetchedForEveryFixture(t *testing.T) {
	other := provider.Fixture{ID: 2, HomeTeam: provider.Team{Name: "Lyon"}, AwayTeam: provider.Team{Name: "Nice"}}
	h := newHarness(chelseaFulham, other)

	h.cycle(t)

	assert.Equal(t, 1, h.football.eventCalls[chelseaFulham.ID])
	assert.Equal(t, 1, h.football.eventCalls[other.ID])
}

// --------------------------------------------------------------------------
// Fetch failures (skip-step policy)
// --------------------------------------------------------------------------

func TestStreamFetchFailureSkipsOnlyStreamStep(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "Chelsea")
	h.streams.err = errors.New("timeout")
	h.football.events[chelseaFulham.ID] = []provider.MatchEvent{chelseaGoal()}

	res := h.cycle(t)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "stream")
	assert.Equal(t, "partial", res.Outcome())
	assert.Len(t, h.notifier.ofKind(KindGoal), 1)
}

func TestFixtureFetchFailureSkipsLineupsAndEvents(t *testing.T) {
	h := newHarness(chelseaFulham)
	h.subs.AddFollow(1, "Chelsea")
	h.football.fixturesErr = errors.New("502")

	res := h.cycle(t)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "fixtures")
	assert.Zero(t, h.football.lineupCalls[chelseaFulham.ID])
	assert.Zero(t, h.football.eventCalls[chelseaFulham.ID])

	h.football.fixturesErr = nil
	h.football.lineups[chelseaFulham.ID] = lineupsFor(chelseaFulham)
	res = h.cycle(t)
	assert.Empty(t, res.Errors)
	assert.Len(t, h.notifier.ofKind(KindLineup), 2, "next tick picks the work up")
}

func TestLineupFetchFailureLeavesFixtureUnmarked(t *testing.T) {
	other := provider.Fixture{ID: 2, HomeTeam: provider.Team{Name: "Chelsea"}, AwayTeam: provider.Team{Name: "Spurs"}}
	h := newHarness(chelseaFulham, other)
	h.subs.AddFollow(1, "Chelsea")
	h.football.lineupsErr[chelseaFulham.ID] = errors.New("boom")
	h.football.lineups[other.ID] = lineupsFor(other)
	h.football.events[chelseaFulham.ID] = []provider.MatchEvent{chelseaGoal()}

	res := h.cycle(t)

	assert.Len(t, res.Errors, 1)
	assert.False(t, h.dedup.IsLineupSent(chelseaFulham.ID))
	assert.True(t, h.dedup.IsLineupSent(other.ID))
	assert.Len(t, h.notifier.ofKind(KindGoal), 1, "events still run for the failed fixture")
}

func TestEventFetchFailureSkipsFixtureEvents(t *testing.T) {
	other := provider.Fixture{ID: 2, HomeTeam: provider.Team{Name: "Chelsea"}, AwayTeam: provider.Team{Name: "Spurs"}}
	h := newHarness(chelseaFulham, other)
	h.subs.AddFollow(1, "Chelsea")
	h.football.eventsErr[chelseaFulham.ID] = errors.New("boom")
	goal := chelseaGoal()
	h.football.events[other.ID] = []provider.MatchEvent{goal}

	res := h.cycle(t)

	assert.Len(t, res.Errors, 1)
	assert.Len(t, h.notifier.ofKind(KindGoal), 1)
}

// --------------------------------------------------------------------------
// Scenario
// --------------------------------------------------------------------------

func TestChelseaScenario(t *testing.T) {
	h := newHarness(chelseaFulham)
	const r = int64(42)
	h.subs.AddFollow(r, "Chelsea")

	// Lineups not yet published.
	h.cycle(t)
	assert.Empty(t, h.notifier.ofKind(KindLineup))
	assert.False(t, h.dedup.IsLineupSent(chelseaFulham.ID))

	// Provider publishes lineups.
	h.football.lineups[chelseaFulham.ID] = lineupsFor(chelseaFulham)
	h.cycle(t)
	require.Len(t, h.notifier.ofKind(KindLineup), 2)
	assert.True(t, h.dedup.IsLineupSent(chelseaFulham.ID))

	// Goal at minute 10.
	h.football.events[chelseaFulham.ID] = []provider.MatchEvent{chelseaGoal()}
	h.cycle(t)
	require.Len(t, h.notifier.ofKind(KindGoal), 1)

	// Unchanged lineups and a repeated goal: nothing new.
	before := len(h.notifier.sent)
	res := h.cycle(t)
	assert.Equal(t, before, len(h.notifier.sent))
	assert.Zero(t, res.Sent)
	for _, d := range h.notifier.sent {
		assert.Equal(t, r, d.to)
	}
}

// --------------------------------------------------------------------------
// Loop & bookkeeping
// --------------------------------------------------------------------------

func TestFixturesRequestedForLocalDate(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	h := newHarness()
	h.engine.loc = loc
	h.engine.now = func() time.Time { return time.Date(2025, 3, 2, 22, 0, 0, 0, time.UTC) }

	res := h.cycle(t)

	require.Len(t, h.football.fixtureDates, 1)
	assert.Equal(t, "2025-03-03", h.football.fixtureDates[0].Format(time.DateOnly))
	assert.Equal(t, "2025-03-03", res.Date)
}

func TestCancelledContextStopsCycle(t *testing.T) {
	h := newHarness(chelseaFulham)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.engine.RunCycle(ctx)

	assert.True(t, res.Cancelled)
	assert.Equal(t, "cancelled", res.Outcome())
	assert.Zero(t, h.streams.calls)
	assert.Empty(t, h.football.fixtureDates)
}

func TestStartStopsOnCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.engine.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.engine.Cycles() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}

func TestLastResultRecorded(t *testing.T) {
	h := newHarness(chelseaFulham)
	_, ok := h.engine.LastResult()
	assert.False(t, ok)

	h.cycle(t)

	last, ok := h.engine.LastResult()
	require.True(t, ok)
	assert.Equal(t, 1, last.FixturesSeen)
	assert.NotEmpty(t, last.CycleID)
	assert.Equal(t, 1, h.engine.Cycles())

	assert.Zero(t, h.dedup.Prune(testNow), "fixture was touched at cycle start")
	assert.Equal(t, 1, h.dedup.Stats().TrackedFixtures)
}

func TestIndependentEngines(t *testing.T) {
	a := newHarness()
	b := newHarness()
	a.subs.AddSubscriber(1)
	b.subs.AddSubscriber(2)
	stream := &provider.StreamInfo{ID: "same"}
	a.streams.stream = stream
	b.streams.stream = stream

	a.cycle(t)
	b.cycle(t)

	assert.Len(t, a.notifier.ofKind(KindStream), 1)
	assert.Len(t, b.notifier.ofKind(KindStream), 1)
}

type streamFunc func(ctx context.Context) (*provider.StreamInfo, error)

func (f streamFunc) LiveStream(ctx context.Context) (*provider.StreamInfo, error) { return f(ctx) }

func TestInFlightSince(t *testing.T) {
	h := newHarness()
	_, running := h.engine.InFlightSince()
	assert.False(t, running)

	var (
		since  time.Time
		during bool
	)
	h.engine.streams = streamFunc(func(ctx context.Context) (*provider.StreamInfo, error) {
		since, during = h.engine.InFlightSince()
		return nil, nil
	})
	h.cycle(t)

	assert.True(t, during)
	assert.Equal(t, testNow, since)
	_, running = h.engine.InFlightSince()
	assert.False(t, running, "cleared once the cycle finishes")
}

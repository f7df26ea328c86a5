// Package notifications runs the poll cycle that turns upstream snapshots
// into chat alerts.
//
// Cycle: live stream check → fixture enumeration → lineup dispatch → event
// dispatch → sleep. Each step diffs the snapshot against the dedup store,
// records what is new, and fans it out to the matching recipients exactly
// once. Deliveries are best-effort and never retried.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/albapepper/scoracle-relay/internal/provider"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// DefaultInterval is the pause between the end of one cycle and the start
	// of the next.
	DefaultInterval = 180 * time.Second

	defaultChannelName = "SportyTV"
)

// Kind classifies an outbound alert.
type Kind string

const (
	KindStream  Kind = "stream"
	KindLineup  Kind = "lineup"
	KindGoal    Kind = "goal"
	KindRedCard Kind = "red_card"
)

// Format is the formatting hint passed to the transport.
type Format string

const (
	FormatPlain    Format = ""
	FormatMarkdown Format = "Markdown"
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// StreamSource looks up the watched channel's live video. A nil result with
// a nil error means the channel is not live.
type StreamSource interface {
	LiveStream(ctx context.Context) (*provider.StreamInfo, error)
}

// FootballSource fetches fixture snapshots. Empty results are not errors.
type FootballSource interface {
	Fixtures(ctx context.Context, date time.Time) ([]provider.Fixture, error)
	Lineups(ctx context.Context, fixtureID int) ([]provider.TeamLineup, error)
	Events(ctx context.Context, fixtureID int) ([]provider.MatchEvent, error)
}

// Notifier delivers one message to one recipient.
type Notifier interface {
	Send(ctx context.Context, recipient int64, msg Message) error
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Message is one outbound alert. LinkURL, when set, is rendered by the
// transport as a button labelled LinkText.
type Message struct {
	Kind     Kind
	Text     string
	Format   Format
	LinkText string
	LinkURL  string
}

// CycleResult tracks the outcome of one poll cycle.
type CycleResult struct {
	CycleID           string        `json:"cycle_id"`
	StartedAt         time.Time     `json:"started_at"`
	Date              string        `json:"date"`
	StreamAnnounced   bool          `json:"stream_announced"`
	FixturesSeen      int           `json:"fixtures_seen"`
	LineupsDispatched int           `json:"lineups_dispatched"`
	EventsSeen        int           `json:"events_seen"`
	EventsNew         int           `json:"events_new"`
	Sent              int           `json:"sent"`
	Failed            int           `json:"failed"`
	Cancelled         bool          `json:"cancelled"`
	Duration          time.Duration `json:"duration"`
	Errors            []string      `json:"errors,omitempty"`
}

// AddErrorf records a formatted error message.
func (r *CycleResult) AddErrorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Outcome is the metrics label for the cycle.
func (r *CycleResult) Outcome() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case len(r.Errors) > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Summary returns a human-readable summary.
func (r *CycleResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "date=%s stream=%v fixtures=%d lineups=%d events=%d/%d sent=%d failed=%d errors=%d dur=%s",
		r.Date, r.StreamAnnounced, r.FixturesSeen, r.LineupsDispatched,
		r.EventsNew, r.EventsSeen, r.Sent, r.Failed, len(r.Errors),
		r.Duration.Round(time.Millisecond))
	if r.Cancelled {
		b.WriteString(" cancelled")
	}
	return b.String()
}

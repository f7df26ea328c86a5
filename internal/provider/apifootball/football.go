package apifootball

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/albapepper/scoracle-relay/internal/provider"
)

// --------------------------------------------------------------------------
// Wire shapes
// --------------------------------------------------------------------------

type afTeam struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type afFixture struct {
	Fixture struct {
		ID     int    `json:"id"`
		Date   string `json:"date"`
		Status struct {
			Short   string `json:"short"`
			Elapsed *int   `json:"elapsed"`
		} `json:"status"`
	} `json:"fixture"`
	League struct {
		Name string `json:"name"`
	} `json:"league"`
	Teams struct {
		Home afTeam `json:"home"`
		Away afTeam `json:"away"`
	} `json:"teams"`
	Goals struct {
		Home *int `json:"home"`
		Away *int `json:"away"`
	} `json:"goals"`
}

type afLineupEntry struct {
	Player struct {
		ID     *int   `json:"id"`
		Name   string `json:"name"`
		Number *int   `json:"number"`
		Pos    string `json:"pos"`
	} `json:"player"`
}

type afLineup struct {
	Team        afTeam          `json:"team"`
	Formation   string          `json:"formation"`
	StartXI     []afLineupEntry `json:"startXI"`
	Substitutes []afLineupEntry `json:"substitutes"`
}

type afEvent struct {
	Time struct {
		Elapsed *int `json:"elapsed"`
		Extra   *int `json:"extra"`
	} `json:"time"`
	Team   afTeam `json:"team"`
	Player struct {
		ID   *int   `json:"id"`
		Name string `json:"name"`
	} `json:"player"`
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// --------------------------------------------------------------------------
// Fixtures
// --------------------------------------------------------------------------

// Fixtures returns every fixture scheduled on date's calendar day. The day
// is interpreted in date's location, which is forwarded to the API.
func (c *Client) Fixtures(ctx context.Context, date time.Time) ([]provider.Fixture, error) {
	params := url.Values{"date": {date.Format(time.DateOnly)}}
	if loc := date.Location(); loc != time.Local {
		params.Set("timezone", loc.String())
	}

	return c.fixtures(ctx, params)
}

// LiveFixtures returns every match in play right now, with scores and the
// elapsed minute.
func (c *Client) LiveFixtures(ctx context.Context) ([]provider.Fixture, error) {
	return c.fixtures(ctx, url.Values{"live": {"all"}})
}

func (c *Client) fixtures(ctx context.Context, params url.Values) ([]provider.Fixture, error) {
	raw, err := c.get(ctx, "/fixtures", params)
	if err != nil {
		return nil, fmt.Errorf("fetch fixtures: %w", err)
	}

	var items []afFixture
	if err := decodeList(raw, &items); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	fixtures := make([]provider.Fixture, 0, len(items))
	for _, it := range items {
		f := provider.Fixture{
			ID:        it.Fixture.ID,
			League:    it.League.Name,
			HomeTeam:  provider.Team{ID: it.Teams.Home.ID, Name: it.Teams.Home.Name},
			AwayTeam:  provider.Team{ID: it.Teams.Away.ID, Name: it.Teams.Away.Name},
			Status:    it.Fixture.Status.Short,
			Elapsed:   deref(it.Fixture.Status.Elapsed),
			HomeGoals: deref(it.Goals.Home),
			AwayGoals: deref(it.Goals.Away),
		}
		if t, err := time.Parse(time.RFC3339, it.Fixture.Date); err == nil {
			f.Date = t
		} else {
			c.logger.Debug("Unparseable fixture date", "fixture_id", f.ID, "date", it.Fixture.Date)
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, nil
}

// --------------------------------------------------------------------------
// Lineups
// --------------------------------------------------------------------------

// Lineups returns the published lineups of a fixture. Empty until the
// provider publishes them, typically 20-40 minutes before kick-off.
func (c *Client) Lineups(ctx context.Context, fixtureID int) ([]provider.TeamLineup, error) {
	raw, err := c.get(ctx, "/fixtures/lineups", url.Values{"fixture": {strconv.Itoa(fixtureID)}})
	if err != nil {
		return nil, fmt.Errorf("fetch lineups for fixture %d: %w", fixtureID, err)
	}

	var items []afLineup
	if err := decodeList(raw, &items); err != nil {
		return nil, fmt.Errorf("decode lineups: %w", err)
	}

	lineups := make([]provider.TeamLineup, 0, len(items))
	for _, it := range items {
		lineups = append(lineups, provider.TeamLineup{
			Team:        provider.Team{ID: it.Team.ID, Name: it.Team.Name},
			Formation:   it.Formation,
			StartXI:     toPlayers(it.StartXI),
			Substitutes: toPlayers(it.Substitutes),
		})
	}
	return lineups, nil
}

func toPlayers(entries []afLineupEntry) []provider.LineupPlayer {
	out := make([]provider.LineupPlayer, 0, len(entries))
	for _, e := range entries {
		out = append(out, provider.LineupPlayer{
			Position: e.Player.Pos,
			Number:   deref(e.Player.Number),
			Name:     e.Player.Name,
		})
	}
	return out
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// Events returns every event recorded so far for a fixture.
func (c *Client) Events(ctx context.Context, fixtureID int) ([]provider.MatchEvent, error) {
	raw, err := c.get(ctx, "/fixtures/events", url.Values{"fixture": {strconv.Itoa(fixtureID)}})
	if err != nil {
		return nil, fmt.Errorf("fetch events for fixture %d: %w", fixtureID, err)
	}

	var items []afEvent
	if err := decodeList(raw, &items); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]provider.MatchEvent, 0, len(items))
	for _, it := range items {
		events = append(events, provider.MatchEvent{
			Elapsed: deref(it.Time.Elapsed),
			Extra:   deref(it.Time.Extra),
			Team:    provider.Team{ID: it.Team.ID, Name: it.Team.Name},
			Player:  provider.Player{ID: deref(it.Player.ID), Name: it.Player.Name},
			Type:    it.Type,
			Detail:  it.Detail,
		})
	}
	return events, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// decodeList unmarshals a response array. A null or absent response decodes
// to an empty list.
func decodeList[T any](raw json.RawMessage, out *[]T) error {
	if len(raw) == 0 || string(raw) == "null" {
		*out = nil
		return nil
	}
	return json.Unmarshal(raw, out)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

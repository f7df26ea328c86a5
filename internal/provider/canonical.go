// Package provider defines the canonical snapshot types every upstream client
// normalizes into. These structs are the contract between the provider
// clients and the poll engine: clients output these, the engine diffs them.
//
// Adding a provider means implementing functions that return these types.
// The engine never changes.
package provider

import "time"

// StreamInfo is a live video on the watched channel.
type StreamInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Team is a club as referenced by fixtures, lineups and events.
type Team struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Player is a player as referenced by match events. ID is 0 when the
// provider did not attribute the event to a player.
type Player struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Fixture is a scheduled match. Status, Elapsed and the goal counts are
// only meaningful once the match has kicked off.
type Fixture struct {
	ID        int       `json:"id"`
	Date      time.Time `json:"date"`
	League    string    `json:"league,omitempty"`
	HomeTeam  Team      `json:"home_team"`
	AwayTeam  Team      `json:"away_team"`
	Status    string    `json:"status,omitempty"` // short code: "NS", "1H", "HT", "FT", ...
	Elapsed   int       `json:"elapsed,omitempty"`
	HomeGoals int       `json:"home_goals"`
	AwayGoals int       `json:"away_goals"`
}

// LineupPlayer is one row of a published lineup.
type LineupPlayer struct {
	Position string `json:"position"`
	Number   int    `json:"number"`
	Name     string `json:"name"`
}

// TeamLineup is one team's announced starting eleven and bench.
type TeamLineup struct {
	Team        Team           `json:"team"`
	Formation   string         `json:"formation,omitempty"`
	StartXI     []LineupPlayer `json:"start_xi"`
	Substitutes []LineupPlayer `json:"substitutes"`
}

// MatchEvent is a notable occurrence within a fixture.
type MatchEvent struct {
	Elapsed int    `json:"elapsed"`
	Extra   int    `json:"extra,omitempty"`
	Team    Team   `json:"team"`
	Player  Player `json:"player"`
	Type    string `json:"type"`   // "Goal", "Card", "subst", "Var"
	Detail  string `json:"detail"` // "Normal Goal", "Red Card", ...
}

// Event types and details the engine reacts to.
const (
	EventTypeGoal = "Goal"
	EventTypeCard = "Card"
	DetailRedCard = "Red Card"
)

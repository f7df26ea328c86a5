package notifications

import (
	"github.com/albapepper/scoracle-relay/internal/dedup"
	"github.com/albapepper/scoracle-relay/internal/provider"
)

// EventKeyOf derives the identity of a match event. Two events with the same
// fixture, minute, team, player and type are the same moment; the detail and
// stoppage-time minute are not part of the identity.
func EventKeyOf(fixtureID int, ev provider.MatchEvent) dedup.EventKey {
	return dedup.EventKey{
		FixtureID: fixtureID,
		Elapsed:   ev.Elapsed,
		TeamID:    ev.Team.ID,
		PlayerID:  ev.Player.ID,
		Type:      ev.Type,
	}
}

// classify returns the alert kind for an event, and false for events that
// are recorded but never announced (substitutions, VAR, yellow cards).
func classify(ev provider.MatchEvent) (Kind, bool) {
	switch {
	case ev.Type == provider.EventTypeGoal:
		return KindGoal, true
	case ev.Type == provider.EventTypeCard && ev.Detail == provider.DetailRedCard:
		return KindRedCard, true
	default:
		return "", false
	}
}

// Package dedup tracks which alerts have already gone out during this process
// run: the last announced live stream, fixtures whose lineups were pushed, and
// per-fixture match event keys.
//
// Records live in memory only. Without pruning they grow for the lifetime of
// the process; Prune drops fixtures that stopped appearing in the poll.
package dedup

import (
	"fmt"
	"sync"
	"time"
)

// EventKey identifies a match moment. The upstream API does not guarantee
// stable event IDs, so two events sharing all five fields are the same event.
type EventKey struct {
	FixtureID int
	Elapsed   int
	TeamID    int
	PlayerID  int
	Type      string
}

// String renders the key the way it appears in logs.
func (k EventKey) String() string {
	return fmt.Sprintf("%d-%d-%d-%d-%s", k.FixtureID, k.Elapsed, k.TeamID, k.PlayerID, k.Type)
}

// Stats is a point-in-time count of dedup records.
type Stats struct {
	LastStreamID    string `json:"last_stream_id,omitempty"`
	LineupsSent     int    `json:"lineups_sent"`
	EventFixtures   int    `json:"event_fixtures"`
	EventsSent      int    `json:"events_sent"`
	TrackedFixtures int    `json:"tracked_fixtures"`
}

// Store holds the three dedup facilities. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	lastStreamID string
	hasStream    bool

	lineups  map[int]struct{}
	events   map[int]map[EventKey]struct{}
	lastSeen map[int]time.Time
}

// New creates an empty store. The first stream observed is always new.
func New() *Store {
	return &Store{
		lineups:  make(map[int]struct{}),
		events:   make(map[int]map[EventKey]struct{}),
		lastSeen: make(map[int]time.Time),
	}
}

// --------------------------------------------------------------------------
// Live stream
// --------------------------------------------------------------------------

// IsNewStream reports whether id differs from the last recorded stream.
func (s *Store) IsNewStream(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.hasStream || s.lastStreamID != id
}

// RecordStream overwrites the last announced stream.
func (s *Store) RecordStream(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStreamID = id
	s.hasStream = true
}

// --------------------------------------------------------------------------
// Lineups
// --------------------------------------------------------------------------

// IsLineupSent reports whether lineups for fixtureID were already pushed.
func (s *Store) IsLineupSent(fixtureID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lineups[fixtureID]
	return ok
}

// MarkLineupSent records that lineups for fixtureID were pushed.
func (s *Store) MarkLineupSent(fixtureID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineups[fixtureID] = struct{}{}
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// IsEventSent reports whether key was already dispatched for fixtureID.
func (s *Store) IsEventSent(fixtureID int, key EventKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[fixtureID][key]
	return ok
}

// MarkEventSent records key as dispatched for fixtureID.
func (s *Store) MarkEventSent(fixtureID int, key EventKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.events[fixtureID]
	if !ok {
		set = make(map[EventKey]struct{})
		s.events[fixtureID] = set
	}
	set[key] = struct{}{}
}

// --------------------------------------------------------------------------
// Eviction
// --------------------------------------------------------------------------

// Touch records that fixtureID appeared in a poll at time at.
func (s *Store) Touch(fixtureID int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.lastSeen[fixtureID]; !ok || at.After(prev) {
		s.lastSeen[fixtureID] = at
	}
}

// Prune drops lineup and event records of fixtures last seen before cutoff.
// Fixtures never touched are left alone. Returns the number of fixtures
// evicted. The stream record is never pruned.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, seen := range s.lastSeen {
		if !seen.Before(cutoff) {
			continue
		}
		delete(s.lastSeen, id)
		delete(s.lineups, id)
		delete(s.events, id)
		evicted++
	}
	return evicted
}

// Stats returns current record counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		LastStreamID:    s.lastStreamID,
		LineupsSent:     len(s.lineups),
		EventFixtures:   len(s.events),
		TrackedFixtures: len(s.lastSeen),
	}
	for _, set := range s.events {
		st.EventsSent += len(set)
	}
	return st
}

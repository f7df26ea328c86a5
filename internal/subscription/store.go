// Package subscription holds the in-memory recipient state: the set of global
// live-stream subscribers and each recipient's followed team names.
//
// Command handlers and the poll engine run concurrently, so every operation
// takes the store lock for its own duration only. Nothing is persisted; a
// restart starts empty.
package subscription

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Stats is a point-in-time count of the store contents.
type Stats struct {
	Subscribers   int `json:"subscribers"`
	Followers     int `json:"followers"`
	FollowEntries int `json:"follow_entries"`
}

// Store is a thread-safe subscriber set plus recipient → followed names.
type Store struct {
	mu          sync.RWMutex
	subscribers map[int64]struct{}
	follows     map[int64][]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		subscribers: make(map[int64]struct{}),
		follows:     make(map[int64][]string),
	}
}

// AddSubscriber adds id to the live alert subscribers. Idempotent.
func (s *Store) AddSubscriber(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[id] = struct{}{}
}

// Subscribers returns a snapshot of the subscriber set in no particular order.
func (s *Store) Subscribers() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	return ids
}

// AddFollow appends name to id's follow list. Duplicates are kept and each
// one is removed independently.
func (s *Store) AddFollow(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follows[id] = append(s.follows[id], name)
}

// RemoveFollow removes the first entry of id's follow list matching name
// case-insensitively. It returns false, leaving the store untouched, when id
// is not following name.
func (s *Store) RemoveFollow(id int64, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.follows[id]
	if !ok {
		return false
	}
	key := Normalize(name)
	for i, entry := range list {
		if Normalize(entry) != key {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.follows, id)
		} else {
			s.follows[id] = list
		}
		return true
	}
	return false
}

// Follows returns a copy of id's follow list in insertion order.
func (s *Store) Follows(id int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.follows[id]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// FollowersOf returns every recipient with at least one entry equal to name
// under case folding. Each recipient appears once.
func (s *Store) FollowersOf(name string) []int64 {
	return s.FollowersOfAny(name)
}

// FollowersOfAny returns every recipient following at least one of names.
// Each recipient appears once.
func (s *Store) FollowersOfAny(names ...string) []int64 {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		if k := Normalize(n); k != "" {
			wanted[k] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, list := range s.follows {
		for _, entry := range list {
			if _, ok := wanted[Normalize(entry)]; ok {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// Stats returns current counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Subscribers: len(s.subscribers),
		Followers:   len(s.follows),
	}
	for _, list := range s.follows {
		st.FollowEntries += len(list)
	}
	return st
}

// Normalize folds a team name for case-insensitive comparison. Surrounding
// whitespace is ignored.
func Normalize(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

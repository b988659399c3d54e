package task

import (
	"sort"
	"sync"
)

// SessionSet is the set of remote sessions created for background work.
// Entries are only ever added; removal is left to outside collaborators
// that own foreground/background filtering.
type SessionSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSessionSet creates an empty set.
func NewSessionSet() *SessionSet {
	return &SessionSet{ids: make(map[string]struct{})}
}

// Add inserts id. Adding an existing id is a no-op.
func (s *SessionSet) Add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Has reports whether id was created as a background session.
func (s *SessionSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of tracked sessions.
func (s *SessionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// List returns the tracked session IDs in sorted order.
func (s *SessionSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

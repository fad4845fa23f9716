// Package session tracks which clips a conversation has already
// played so retrieval can avoid repeating them.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// State holds the per-conversation used-clip set. The set only grows
// for the lifetime of the session.
type State struct {
	ID        string
	CreatedAt time.Time

	mu   sync.Mutex
	used map[string]struct{}
}

// MarkUsed records clip ids as played in this session. The zero
// value is usable; the set initializes on first write.
func (s *State) MarkUsed(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used == nil {
		s.used = make(map[string]struct{})
	}
	for _, id := range ids {
		s.used[id] = struct{}{}
	}
}

// Used reports whether a clip id was already played.
func (s *State) Used(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[id]
	return ok
}

// UsedIDs returns a sorted snapshot of the used set, safe to hand to
// a retrieval filter while the session keeps mutating.
func (s *State) UsedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.used))
	for id := range s.used {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of used clips.
func (s *State) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}

// Tracker manages active sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*State)}
}

// Start creates a new session with a fresh id and empty used set.
func (t *Tracker) Start() *State {
	s := &State{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		used:      make(map[string]struct{}),
	}
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
	return s
}

// Get returns the session with the given id.
func (t *Tracker) Get(id string) (*State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// End removes a session from the tracker.
func (t *Tracker) End(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// Len returns the number of active sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

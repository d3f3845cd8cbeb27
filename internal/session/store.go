package session

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/agent-pulse/backend/internal/hook"
)

// Store owns the stableId → State table. It is the single serialization
// point: every mutation runs under one write lock, readers only ever see
// deep copies, and the optional notify hooks fire under the same lock so
// a consumer cannot observe a commit and its notification out of order.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*State

	onUpdate func(*State) // clone of the committed state
	onRemove func(stableID string)
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*State),
	}
}

// SetNotify installs the update/removal hooks. Both are invoked
// synchronously while the store lock is held; they must not call back
// into the store. Either may be nil.
func (s *Store) SetNotify(onUpdate func(*State), onRemove func(stableID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = onUpdate
	s.onRemove = onRemove
}

// Apply resolves the event's identity, runs the state machine, and
// commits. It returns a deep copy of the resulting state, or nil with a
// nil error when the event was rejected (session already ended).
func (s *Store) Apply(ev hook.Event) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, _ := s.resolveLocked(ev)
	if err := apply(st, ev); err != nil {
		log.Printf("Session %s: dropping %s event: %v", st.StableID, ev.Kind, err)
		return nil, nil
	}

	clone := st.Clone()
	if s.onUpdate != nil {
		s.onUpdate(clone)
	}
	return clone, nil
}

// Get returns a deep copy of the session with the given stable id.
func (s *Store) Get(stableID string) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[stableID]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// Snapshot returns deep copies of all sessions, ordered by creation time
// (stable id as tiebreaker) so consumers see a stable ordering.
func (s *Store) Snapshot() []*State {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		result = append(result, st.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].StableID < result[j].StableID
	})
	return result
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EndSession transitions a session to Ended through the normal state
// machine path. Used by the sweeper when the session's process is gone.
// Returns false if the session is unknown or already ended.
func (s *Store) EndSession(stableID, reason string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[stableID]
	if !ok || st.IsEnded() {
		return false
	}

	end := hook.Event{
		Kind:      hook.KindSessionEnd,
		SessionID: st.RawSessionID,
		Timestamp: at,
		End:       &hook.EndPayload{Reason: reason},
	}
	if err := apply(st, end); err != nil {
		return false
	}
	log.Printf("Session %s ended: %s", stableID, reason)
	if s.onUpdate != nil {
		s.onUpdate(st.Clone())
	}
	return true
}

// RemoveIfEnded deletes the session if it has been Ended for at least
// grace. Non-ended sessions are never removed here.
func (s *Store) RemoveIfEnded(stableID string, grace time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[stableID]
	if !ok || !st.IsEnded() || st.EndedAt == nil {
		return false
	}
	if now.Sub(*st.EndedAt) < grace {
		return false
	}

	delete(s.sessions, stableID)
	log.Printf("Session %s removed (ended %s ago)", stableID, now.Sub(*st.EndedAt).Round(time.Second))
	if s.onRemove != nil {
		s.onRemove(stableID)
	}
	return true
}

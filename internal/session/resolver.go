package session

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agent-pulse/backend/internal/hook"
)

// resolveLocked maps an event onto a stable logical identity, creating a
// new State when no retained session can claim it. Must run under the
// store's write lock. The returned bool reports whether the State was
// created by this call.
//
// Merging is deliberately conservative: a wrong merge corrupts two
// sessions, a missed merge only duplicates one until the sweeper prunes
// it. The only merge triggers are the explicit resume marker and raw
// session id equality; pid equality alone never merges.
func (s *Store) resolveLocked(ev hook.Event) (*State, bool) {
	if ev.Kind == hook.KindSessionStart {
		return s.resolveStartLocked(ev)
	}

	if st := s.findByRawID(ev.SessionID); st != nil {
		return st, false
	}

	// No raw id match: fall back to the pid, which identifies at most
	// one non-ended session.
	if ev.PID != 0 {
		for _, st := range s.sessions {
			if !st.IsEnded() && st.PID == ev.PID {
				// Same process reporting a rotated session id (e.g.
				// after /clear). Keep the identity, adopt the new id.
				st.adoptRawID(ev.SessionID)
				return st, false
			}
		}
	}

	// Unresolvable events become a new identity rather than being
	// dropped, so a real session never goes invisible.
	return s.createLocked(ev), true
}

func (s *Store) resolveStartLocked(ev hook.Event) (*State, bool) {
	// Resume marker match wins. It may legitimately hit an Ended session
	// still inside its grace window.
	if ev.Start != nil && ev.Start.ResumedFrom != "" {
		if st := s.findByRawID(ev.Start.ResumedFrom); st != nil {
			s.mergeResume(st, ev)
			return st, false
		}
		log.Printf("SessionStart resume marker %q matched nothing, treating as new", ev.Start.ResumedFrom)
	}

	// The same raw session id on a non-ended session is the same logical
	// conversation restarting (possibly under a new pid). An Ended entry
	// with this raw id is NOT revived without a resume marker.
	if st := s.findByRawID(ev.SessionID); st != nil && !st.IsEnded() {
		s.mergeResume(st, ev)
		return st, false
	}

	st := s.createLocked(ev)

	// A brand-new session claiming a pid held by another non-ended entry
	// means the OS reassigned the pid; the old process is gone. End the
	// stale entry through the normal transition path so at most one
	// session owns a live pid.
	if ev.PID != 0 {
		s.endPidHoldersLocked(ev.PID, st.StableID, ev.Timestamp)
	}
	return st, true
}

// mergeResume folds a SessionStart into an existing logical session:
// the stable id and history survive, the raw id and pid are refreshed.
func (s *Store) mergeResume(st *State, ev hook.Event) {
	st.adoptRawID(ev.SessionID)
	if ev.PID != 0 && ev.PID != st.PID {
		s.endPidHoldersLocked(ev.PID, st.StableID, ev.Timestamp)
	}
	log.Printf("Session %s resumed as raw id %s (pid %d)", st.StableID, st.RawSessionID, ev.PID)
}

func (s *Store) createLocked(ev hook.Event) *State {
	rawID := ev.SessionID
	if rawID == "" {
		// Identity-ambiguous event: track it under a synthetic raw id.
		rawID = "anon-" + uuid.NewString()
	}
	st := &State{
		StableID:     uuid.NewString(),
		RawSessionID: rawID,
		Phase:        Idle,
		CreatedAt:    ev.Timestamp,
		LastSeenAt:   ev.Timestamp,
	}
	s.sessions[st.StableID] = st
	log.Printf("Session %s created (raw id %s, pid %d)", st.StableID, rawID, ev.PID)
	return st
}

// findByRawID returns the retained session known by rawID, preferring a
// non-ended match over an ended one (a resumed conversation and its
// grace-retained predecessor can briefly share history).
func (s *Store) findByRawID(rawID string) *State {
	if rawID == "" {
		return nil
	}
	var ended *State
	for _, st := range s.sessions {
		if !st.knownAs(rawID) {
			continue
		}
		if !st.IsEnded() {
			return st
		}
		if ended == nil {
			ended = st
		}
	}
	return ended
}

// endPidHoldersLocked transitions any other non-ended session holding pid
// to Ended via the normal state machine path.
func (s *Store) endPidHoldersLocked(pid int, exceptStableID string, at time.Time) {
	for _, st := range s.sessions {
		if st.StableID == exceptStableID || st.IsEnded() || st.PID != pid {
			continue
		}
		log.Printf("Session %s: pid %d reassigned, ending stale entry", st.StableID, pid)
		end := hook.Event{
			Kind:      hook.KindSessionEnd,
			SessionID: st.RawSessionID,
			Timestamp: at,
			End:       &hook.EndPayload{Reason: "pid reassigned"},
		}
		if err := apply(st, end); err == nil && s.onUpdate != nil {
			s.onUpdate(st.Clone())
		}
	}
}

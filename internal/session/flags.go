package session

import "time"

// Read-side conveniences computed over a snapshot. These carry no state
// of their own; consumers call them on the result of Store.Snapshot.

// AnyActive reports whether any session is processing or compacting.
func AnyActive(states []*State) bool {
	for _, st := range states {
		if st.Phase == Processing || st.Phase == Compacting {
			return true
		}
	}
	return false
}

// AnyAwaitingApproval reports whether any session has a pending
// permission request.
func AnyAwaitingApproval(states []*State) bool {
	for _, st := range states {
		if st.ActivePermission != nil {
			return true
		}
	}
	return false
}

// AnyReadyForInput reports whether any session became ready for user
// input within the recency window ending at now.
func AnyReadyForInput(states []*State, window time.Duration, now time.Time) bool {
	for _, st := range states {
		if st.Phase != WaitingForInput || st.ReadyAt == nil {
			continue
		}
		if now.Sub(*st.ReadyAt) <= window {
			return true
		}
	}
	return false
}

package session

import (
	"context"
	"log"
	"time"
)

// Liveness answers whether a pid belongs to a running process. Checks
// may block briefly on an OS query; the sweeper never calls them while
// holding the store lock.
type Liveness interface {
	Alive(pid int) bool
}

// Sweeper periodically ends sessions whose process died and removes
// ended sessions once their grace window (kept for resume matching) has
// elapsed. A session with a live pid is never removed, no matter how
// long it has been quiet.
type Sweeper struct {
	store    *Store
	liveness Liveness
	interval time.Duration
	grace    time.Duration
}

func NewSweeper(store *Store, liveness Liveness, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		liveness: liveness,
		interval: interval,
		grace:    grace,
	}
}

// Start runs the sweep loop until ctx is cancelled. Each sweep commits
// only whole transitions, so shutdown can interrupt between sweeps
// without leaving partial state.
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Printf("Sweeper started (interval=%s, grace=%s)", w.interval, w.grace)

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper stopped")
			return
		case <-ticker.C:
			w.Sweep(time.Now())
		}
	}
}

// Sweep performs one pass. Liveness checks run against a read snapshot,
// outside the store's mutation lock; transitions are applied afterwards
// through the store's command interface.
func (w *Sweeper) Sweep(now time.Time) {
	for _, st := range w.store.Snapshot() {
		if st.IsEnded() {
			w.store.RemoveIfEnded(st.StableID, w.grace, now)
			continue
		}
		// No pid means liveness cannot be determined; leave it alone
		// rather than destroy state for a possibly-live session.
		if st.PID == 0 {
			continue
		}
		if w.liveness.Alive(st.PID) {
			continue
		}
		w.store.EndSession(st.StableID, "process exited", now)
	}
}

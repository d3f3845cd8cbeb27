package session

import (
	"testing"
	"time"

	"github.com/agent-pulse/backend/internal/hook"
)

// fakeLiveness reports every pid dead unless listed.
type fakeLiveness struct {
	alive map[int]bool
}

func (f *fakeLiveness) Alive(pid int) bool { return f.alive[pid] }

func TestSweepEndsDeadProcessThenRemoves(t *testing.T) {
	// Scenario: agent process killed without a SessionEnd hook. First
	// sweep after death marks the session ended; a later sweep past the
	// grace window removes it.
	s, st := applyAll(t, startEvent("raw-1", 100, "/a"))
	grace := 30 * time.Second
	w := NewSweeper(s, &fakeLiveness{}, 10*time.Second, grace)

	w.Sweep(testBase.Add(10 * time.Second))
	got, ok := s.Get(st.StableID)
	if !ok {
		t.Fatal("session removed on the sweep that detected death")
	}
	if got.Phase != Ended {
		t.Fatalf("phase = %s after dead-pid sweep, want ended", got.Phase)
	}

	// Still inside grace (ended at +10s, grace 30s).
	w.Sweep(testBase.Add(20 * time.Second))
	if _, ok := s.Get(st.StableID); !ok {
		t.Fatal("removed inside the grace window")
	}

	w.Sweep(testBase.Add(41 * time.Second))
	if _, ok := s.Get(st.StableID); ok {
		t.Error("session still present after grace elapsed")
	}
}

func TestSweepNeverTouchesLivePid(t *testing.T) {
	s, st := applyAll(t, startEvent("raw-1", 100, "/a"))
	w := NewSweeper(s, &fakeLiveness{alive: map[int]bool{100: true}}, 10*time.Second, 30*time.Second)

	// Quiet for a very long time, but the process is alive.
	w.Sweep(testBase.Add(24 * time.Hour))
	got, ok := s.Get(st.StableID)
	if !ok {
		t.Fatal("live session removed")
	}
	if got.Phase != Idle {
		t.Errorf("phase = %s, want idle", got.Phase)
	}
}

func TestSweepSkipsPidlessSessions(t *testing.T) {
	s := NewStore()
	st, err := s.Apply(hook.Event{Kind: hook.KindMessage, Text: "orphan", Timestamp: testBase})
	if err != nil {
		t.Fatal(err)
	}
	w := NewSweeper(s, &fakeLiveness{}, 10*time.Second, 30*time.Second)

	w.Sweep(testBase.Add(time.Hour))
	got, ok := s.Get(st.StableID)
	if !ok {
		t.Fatal("pid-less session removed")
	}
	if got.Phase == Ended {
		t.Error("pid-less session ended by liveness sweep")
	}
}

func TestSweepHandlesMixedStore(t *testing.T) {
	s := NewStore()
	live, _ := s.Apply(startEvent("raw-live", 100, "/a"))
	dead, _ := s.Apply(startEvent("raw-dead", 200, "/b"))
	gone, _ := s.Apply(startEvent("raw-gone", 300, "/c"))
	s.Apply(hook.Event{Kind: hook.KindSessionEnd, SessionID: "raw-gone", Timestamp: testBase})

	w := NewSweeper(s, &fakeLiveness{alive: map[int]bool{100: true}}, 10*time.Second, 30*time.Second)
	w.Sweep(testBase.Add(time.Minute))

	if got, _ := s.Get(live.StableID); got == nil || got.Phase != Idle {
		t.Error("live session disturbed")
	}
	if got, _ := s.Get(dead.StableID); got == nil || got.Phase != Ended {
		t.Error("dead-pid session not ended")
	}
	if _, ok := s.Get(gone.StableID); ok {
		t.Error("long-ended session not removed")
	}
}

func TestSweepEmitsRemovalNotify(t *testing.T) {
	s, st := applyAll(t,
		startEvent("raw-1", 100, "/a"),
		hook.Event{Kind: hook.KindSessionEnd, SessionID: "raw-1", Timestamp: testBase},
	)
	var removed []string
	s.SetNotify(nil, func(id string) { removed = append(removed, id) })

	w := NewSweeper(s, &fakeLiveness{}, 10*time.Second, 30*time.Second)
	w.Sweep(testBase.Add(time.Minute))

	if len(removed) != 1 || removed[0] != st.StableID {
		t.Errorf("removal notifications = %v, want [%s]", removed, st.StableID)
	}
}

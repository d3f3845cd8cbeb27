package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agent-pulse/backend/internal/hook"
)

func TestSnapshotIsDeepCopy(t *testing.T) {
	s, _ := applyAll(t,
		startEvent("raw-1", 100, "/a"),
		toolStart("raw-1", "i1", "Bash", false),
		hook.Event{Kind: hook.KindSubagentStart, SessionID: "raw-1", Timestamp: testBase,
			Subagent: &hook.SubagentPayload{TaskID: "t1", Description: "explore"}},
	)

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d sessions, want 1", len(snap))
	}
	got := snap[0]

	// Mutate everything reachable from the copy.
	got.Phase = Ended
	got.ToolTracker["i1"] = ToolRun{Name: "tampered"}
	got.ActiveTasks["t1"] = Task{Description: "tampered"}
	got.TaskStack[0] = "tampered"

	fresh, _ := s.Get(got.StableID)
	if fresh.Phase != Processing {
		t.Errorf("store phase = %s after mutating a snapshot, want processing", fresh.Phase)
	}
	if fresh.ToolTracker["i1"].Name != "Bash" {
		t.Errorf("tool tracker leaked through snapshot: %+v", fresh.ToolTracker)
	}
	if fresh.ActiveTasks["t1"].Description != "explore" {
		t.Errorf("active tasks leaked through snapshot: %+v", fresh.ActiveTasks)
	}
	if fresh.TaskStack[0] != "t1" {
		t.Errorf("task stack leaked through snapshot: %v", fresh.TaskStack)
	}
}

func TestSnapshotOrdering(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.Apply(hook.Event{
			Kind:      hook.KindSessionStart,
			SessionID: fmt.Sprintf("raw-%d", i),
			Timestamp: testBase.Add(time.Duration(4-i) * time.Minute),
			Start:     &hook.StartPayload{},
		})
	}

	snap := s.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i].CreatedAt.Before(snap[i-1].CreatedAt) {
			t.Fatalf("snapshot not ordered by creation time: %v before %v",
				snap[i-1].CreatedAt, snap[i].CreatedAt)
		}
	}
	if snap[0].RawSessionID != "raw-4" {
		t.Errorf("oldest first: got %s", snap[0].RawSessionID)
	}
}

func TestNotifyFiresPerCommit(t *testing.T) {
	s := NewStore()
	var updates []string
	s.SetNotify(func(st *State) {
		updates = append(updates, st.Phase.String())
	}, nil)

	s.Apply(startEvent("raw-1", 100, "/a"))
	s.Apply(hook.Event{Kind: hook.KindUserPromptSubmit, SessionID: "raw-1", Timestamp: testBase})
	s.Apply(hook.Event{Kind: hook.KindStop, SessionID: "raw-1", Timestamp: testBase})

	want := []string{"idle", "processing", "waiting_for_input"}
	if len(updates) != len(want) {
		t.Fatalf("got %d updates, want %d: %v", len(updates), len(want), updates)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("update %d = %s, want %s", i, updates[i], want[i])
		}
	}
}

func TestRejectedEventDoesNotNotify(t *testing.T) {
	s := NewStore()
	s.Apply(startEvent("raw-1", 100, "/a"))
	s.Apply(hook.Event{Kind: hook.KindSessionEnd, SessionID: "raw-1", Timestamp: testBase})

	notified := false
	s.SetNotify(func(*State) { notified = true }, nil)

	st, err := s.Apply(hook.Event{Kind: hook.KindUserPromptSubmit, SessionID: "raw-1", Timestamp: testBase})
	if err != nil {
		t.Fatal(err)
	}
	if st != nil {
		t.Errorf("rejected event returned a state: %+v", st)
	}
	if notified {
		t.Error("rejected event fired the update hook")
	}
}

func TestEndSession(t *testing.T) {
	s, st := applyAll(t, startEvent("raw-1", 100, "/a"))

	if !s.EndSession(st.StableID, "process exited", testBase.Add(time.Minute)) {
		t.Fatal("EndSession returned false for a live session")
	}
	got, _ := s.Get(st.StableID)
	if got.Phase != Ended {
		t.Errorf("phase = %s, want ended", got.Phase)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(testBase.Add(time.Minute)) {
		t.Errorf("endedAt = %v", got.EndedAt)
	}

	// Already ended and unknown ids are no-ops.
	if s.EndSession(st.StableID, "again", testBase) {
		t.Error("EndSession succeeded on an ended session")
	}
	if s.EndSession("nope", "missing", testBase) {
		t.Error("EndSession succeeded on an unknown id")
	}
}

func TestRemoveIfEndedHonorsGrace(t *testing.T) {
	s, st := applyAll(t,
		startEvent("raw-1", 100, "/a"),
		hook.Event{Kind: hook.KindSessionEnd, SessionID: "raw-1", Timestamp: testBase},
	)

	var removed []string
	s.SetNotify(nil, func(id string) { removed = append(removed, id) })

	grace := 30 * time.Second
	if s.RemoveIfEnded(st.StableID, grace, testBase.Add(10*time.Second)) {
		t.Fatal("removed inside the grace window")
	}
	if !s.RemoveIfEnded(st.StableID, grace, testBase.Add(31*time.Second)) {
		t.Fatal("not removed after the grace window")
	}
	if len(removed) != 1 || removed[0] != st.StableID {
		t.Errorf("removal hook calls = %v", removed)
	}
	if _, ok := s.Get(st.StableID); ok {
		t.Error("session still present after removal")
	}
}

func TestRemoveIfEndedNeverRemovesLive(t *testing.T) {
	s, st := applyAll(t, startEvent("raw-1", 100, "/a"))
	if s.RemoveIfEnded(st.StableID, 0, testBase.Add(time.Hour)) {
		t.Fatal("removed a non-ended session")
	}
}

func TestConcurrentApply(t *testing.T) {
	s := NewStore()
	s.Apply(startEvent("raw-1", 100, "/a"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("i-%d-%d", n, j)
				s.Apply(hook.Event{Kind: hook.KindToolStart, SessionID: "raw-1", Timestamp: testBase,
					Tool: &hook.ToolPayload{InvocationID: id, Name: "Bash"}})
				s.Apply(hook.Event{Kind: hook.KindToolEnd, SessionID: "raw-1", Timestamp: testBase,
					Tool: &hook.ToolPayload{InvocationID: id, Name: "Bash"}})
				s.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	st, _ := s.Get(s.Snapshot()[0].StableID)
	if len(st.ToolTracker) != 0 {
		t.Errorf("tracker has %d entries after paired start/end, want 0", len(st.ToolTracker))
	}
	if s.Len() != 1 {
		t.Errorf("store has %d sessions, want 1", s.Len())
	}
}

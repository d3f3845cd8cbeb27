// Package mock feeds scripted hook events through the store so the
// consumer surface can be exercised without any agent running. Enabled
// with the -mock flag; never active in normal operation.
package mock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agent-pulse/backend/internal/hook"
	"github.com/agent-pulse/backend/internal/session"
)

// step is one scripted event. wait is the number of ticks to hold
// before emitting it, so scripts can linger in interesting phases long
// enough to be seen.
type step struct {
	wait int
	ev   hook.Event
}

type mockSession struct {
	rawID string
	cwd   string
	steps []step
	idx   int
	hold  int
}

type Generator struct {
	store    *session.Store
	sessions []*mockSession
}

func NewGenerator(store *session.Store) *Generator {
	return &Generator{store: store}
}

// Start seeds the scripted sessions and begins advancing them. Mock
// events carry no pid, which keeps them clear of the liveness sweep and
// of pid-based identity resolution.
func (g *Generator) Start(ctx context.Context) {
	g.sessions = []*mockSession{
		steadyWorker("mock-opus-refactor", "/home/user/myproject"),
		approvalLoop("mock-sonnet-deploy", "/home/user/webapp"),
		subagentFanout("mock-opus-research", "/home/user/api-server"),
		endAndResume("mock-sonnet-short", "/home/user/frontend"),
		compactor("mock-opus-longhaul", "/home/user/library"),
	}
	for _, ms := range g.sessions {
		g.emit(ms, step{ev: hook.Event{
			Kind:  hook.KindSessionStart,
			Start: &hook.StartPayload{Source: "startup", Model: "claude-opus-4-5-20251101"},
		}})
	}
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick advances every scripted session by at most one step.
func (g *Generator) Tick() {
	for _, ms := range g.sessions {
		if ms.hold > 0 {
			ms.hold--
			continue
		}
		st := ms.steps[ms.idx]
		ms.idx = (ms.idx + 1) % len(ms.steps)
		ms.hold = st.wait
		g.emit(ms, st)
	}
}

func (g *Generator) emit(ms *mockSession, st step) {
	ev := st.ev
	if ev.SessionID == "" {
		ev.SessionID = ms.rawID
	}
	ev.Cwd = ms.cwd
	ev.Timestamp = time.Now()
	// Scripted tool starts and ends deliberately omit invocation ids
	// unless pairing matters; id-less events pair up by tool name.
	g.store.Apply(ev)
}

func toolPair(name, output string) []step {
	return []step{
		{ev: hook.Event{Kind: hook.KindToolStart, Tool: &hook.ToolPayload{Name: name}}},
		{ev: hook.Event{Kind: hook.KindToolEnd, Tool: &hook.ToolPayload{Name: name, Output: output}}},
	}
}

// steadyWorker cycles prompt → a run of tools → stop, the shape of an
// ordinary coding turn.
func steadyWorker(rawID, cwd string) *mockSession {
	steps := []step{
		{ev: hook.Event{Kind: hook.KindUserPromptSubmit}},
	}
	steps = append(steps, toolPair("Read", "120 lines")...)
	steps = append(steps, toolPair("Grep", "4 matches")...)
	steps = append(steps, toolPair("Edit", "ok")...)
	steps = append(steps,
		step{ev: hook.Event{Kind: hook.KindMessage, Text: "Updated the parser"}},
		step{wait: 6, ev: hook.Event{Kind: hook.KindStop}},
	)
	return &mockSession{rawID: rawID, cwd: cwd, steps: steps}
}

// approvalLoop parks in WaitingForApproval for several ticks and
// alternates between approving and denying.
func approvalLoop(rawID, cwd string) *mockSession {
	input := json.RawMessage(`{"command": "npm run deploy"}`)
	return &mockSession{rawID: rawID, cwd: cwd, steps: []step{
		{ev: hook.Event{Kind: hook.KindUserPromptSubmit}},
		{wait: 4, ev: hook.Event{Kind: hook.KindToolStart,
			Tool: &hook.ToolPayload{InvocationID: "mock-appr-1", Name: "Bash", Input: input, NeedsApproval: true}}},
		{ev: hook.Event{Kind: hook.KindPermissionResponse,
			Response: &hook.ResponsePayload{InvocationID: "mock-appr-1", Approved: true}}},
		{ev: hook.Event{Kind: hook.KindToolEnd,
			Tool: &hook.ToolPayload{InvocationID: "mock-appr-1", Name: "Bash", Output: "deployed"}}},
		{wait: 4, ev: hook.Event{Kind: hook.KindStop}},
		{ev: hook.Event{Kind: hook.KindUserPromptSubmit}},
		{wait: 4, ev: hook.Event{Kind: hook.KindToolStart,
			Tool: &hook.ToolPayload{InvocationID: "mock-appr-2", Name: "Bash", Input: input, NeedsApproval: true}}},
		{ev: hook.Event{Kind: hook.KindPermissionResponse,
			Response: &hook.ResponsePayload{InvocationID: "mock-appr-2", Approved: false}}},
		{wait: 4, ev: hook.Event{Kind: hook.KindStop}},
	}}
}

// subagentFanout runs nested delegated tasks.
func subagentFanout(rawID, cwd string) *mockSession {
	steps := []step{
		{ev: hook.Event{Kind: hook.KindUserPromptSubmit}},
		{ev: hook.Event{Kind: hook.KindSubagentStart,
			Subagent: &hook.SubagentPayload{TaskID: "mock-task-outer", Description: "survey the codebase"}}},
	}
	steps = append(steps, toolPair("Glob", "38 files")...)
	steps = append(steps,
		step{ev: hook.Event{Kind: hook.KindSubagentStart,
			Subagent: &hook.SubagentPayload{TaskID: "mock-task-inner", Description: "read the hot paths"}}},
	)
	steps = append(steps, toolPair("Read", "300 lines")...)
	steps = append(steps,
		step{wait: 2, ev: hook.Event{Kind: hook.KindSubagentEnd,
			Subagent: &hook.SubagentPayload{TaskID: "mock-task-inner"}}},
		step{wait: 2, ev: hook.Event{Kind: hook.KindSubagentEnd,
			Subagent: &hook.SubagentPayload{TaskID: "mock-task-outer"}}},
		step{wait: 5, ev: hook.Event{Kind: hook.KindStop}},
	)
	return &mockSession{rawID: rawID, cwd: cwd, steps: steps}
}

// endAndResume ends the session and later resumes it with a continuity
// marker, exercising the grace window and identity merge.
func endAndResume(rawID, cwd string) *mockSession {
	steps := []step{
		{ev: hook.Event{Kind: hook.KindUserPromptSubmit}},
	}
	steps = append(steps, toolPair("Write", "created")...)
	steps = append(steps,
		step{wait: 3, ev: hook.Event{Kind: hook.KindStop}},
		step{wait: 4, ev: hook.Event{Kind: hook.KindSessionEnd, End: &hook.EndPayload{Reason: "user quit"}}},
		step{wait: 8, ev: hook.Event{
			Kind:      hook.KindSessionStart,
			SessionID: rawID + "-r",
			Start:     &hook.StartPayload{Source: "resume", ResumedFrom: rawID},
		}},
		// Subsequent loop iterations address the session by its
		// resumed raw id.
		step{ev: hook.Event{Kind: hook.KindUserPromptSubmit, SessionID: rawID + "-r"}},
		step{wait: 3, ev: hook.Event{Kind: hook.KindStop, SessionID: rawID + "-r"}},
		step{wait: 4, ev: hook.Event{Kind: hook.KindSessionEnd, SessionID: rawID + "-r"}},
		step{wait: 8, ev: hook.Event{
			Kind:      hook.KindSessionStart,
			SessionID: rawID,
			Start:     &hook.StartPayload{Source: "resume", ResumedFrom: rawID + "-r"},
		}},
	)
	return &mockSession{rawID: rawID, cwd: cwd, steps: steps}
}

// compactor cycles through a compaction mid-turn.
func compactor(rawID, cwd string) *mockSession {
	steps := []step{
		{ev: hook.Event{Kind: hook.KindUserPromptSubmit}},
	}
	steps = append(steps, toolPair("Read", "900 lines")...)
	steps = append(steps,
		step{ev: hook.Event{Kind: hook.KindCompactStart}},
		step{wait: 5, ev: hook.Event{Kind: hook.KindCompactEnd}},
		step{ev: hook.Event{Kind: hook.KindMessage, Text: "Context compacted, continuing"}},
	)
	steps = append(steps, toolPair("Edit", "ok")...)
	steps = append(steps, step{wait: 6, ev: hook.Event{Kind: hook.KindStop}})
	return &mockSession{rawID: rawID, cwd: cwd, steps: steps}
}

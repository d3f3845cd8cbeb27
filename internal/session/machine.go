package session

import (
	"errors"
	"log"
	"path/filepath"
	"time"

	"github.com/agent-pulse/backend/internal/hook"
)

// errSessionEnded is returned for events that arrive after a session
// reached Ended. Such events are logged and not applied; Ended has no
// outgoing transitions (a resume goes through the resolver, which hands
// the SessionStart to the same stable identity before apply runs).
var errSessionEnded = errors.New("session already ended")

// apply mutates st according to the transition table. It must run under
// the store's write lock. For events that are not valid in the current
// phase, derived fields that can safely change still do, the
// phase-changing part is dropped, and nothing is fatal.
func apply(st *State, ev hook.Event) error {
	if st.Phase == Ended && ev.Kind != hook.KindSessionStart {
		return errSessionEnded
	}

	st.LastSeenAt = ev.Timestamp
	if ev.PID != 0 {
		st.PID = ev.PID
	}
	if ev.Cwd != "" {
		setCwd(st, ev.Cwd)
	}

	switch ev.Kind {
	case hook.KindSessionStart:
		applyStart(st, ev)

	case hook.KindUserPromptSubmit:
		switch st.Phase {
		case Idle, WaitingForInput, WaitingForApproval:
			st.Phase = Processing
			st.ReadyAt = nil
		}

	case hook.KindToolStart:
		applyToolStart(st, ev)

	case hook.KindToolEnd:
		applyToolEnd(st, ev)

	case hook.KindPermissionRequest:
		st.Phase = WaitingForApproval
		st.ActivePermission = &Permission{
			InvocationID: ev.Permission.InvocationID,
			ToolName:     ev.Permission.ToolName,
			Input:        ev.Permission.Input,
			Prompt:       ev.Permission.Prompt,
			RequestedAt:  ev.Timestamp,
		}
		st.PendingToolName = ev.Permission.ToolName
		st.PendingToolInput = ev.Permission.Input

	case hook.KindPermissionResponse:
		applyPermissionResponse(st, ev)

	case hook.KindCompactStart:
		st.Phase = Compacting

	case hook.KindCompactEnd:
		if len(st.ToolTracker) > 0 || st.ActivePermission != nil {
			st.Phase = Processing
		} else {
			st.Phase = Idle
		}

	case hook.KindStop:
		if len(st.ToolTracker) > 0 {
			// Soft inconsistency: a Stop means the turn is over, so any
			// invocation still tracked lost its end event.
			log.Printf("Session %s: Stop with %d tracked tool(s) in flight, clearing", st.StableID, len(st.ToolTracker))
			st.ToolTracker = nil
		}
		st.Phase = WaitingForInput
		readyAt := ev.Timestamp
		st.ReadyAt = &readyAt

	case hook.KindSubagentStart:
		applySubagentStart(st, ev)

	case hook.KindSubagentEnd:
		applySubagentEnd(st, ev)

	case hook.KindMessage:
		if ev.Text != "" {
			st.LastMessage = ev.Text
		}

	case hook.KindSessionEnd:
		endedAt := ev.Timestamp
		st.Phase = Ended
		st.EndedAt = &endedAt
		st.ReadyAt = nil
		st.ToolTracker = nil
		st.TaskStack = nil
		st.ActiveTasks = nil
		st.ActivePermission = nil
		st.PendingToolName = ""
		st.PendingToolInput = nil
	}

	return nil
}

// applyStart handles SessionStart for both fresh and resumed sessions.
// History fields (LastToolName, ProjectName, CreatedAt) survive a resume;
// per-process tracking does not.
func applyStart(st *State, ev hook.Event) {
	st.Phase = Idle
	st.EndedAt = nil
	st.ReadyAt = nil
	st.ToolTracker = nil
	st.TaskStack = nil
	st.ActiveTasks = nil
	st.ActivePermission = nil
	st.PendingToolName = ""
	st.PendingToolInput = nil
}

func applyToolStart(st *State, ev hook.Event) {
	if ev.Tool.NeedsApproval {
		st.Phase = WaitingForApproval
		st.ActivePermission = &Permission{
			InvocationID: ev.Tool.InvocationID,
			ToolName:     ev.Tool.Name,
			Input:        ev.Tool.Input,
			RequestedAt:  ev.Timestamp,
		}
		st.PendingToolName = ev.Tool.Name
		st.PendingToolInput = ev.Tool.Input
		return
	}

	st.Phase = Processing
	trackTool(st, invocationKey(ev.Tool), ev.Tool.Name, ev.Timestamp)
}

func applyToolEnd(st *State, ev hook.Event) {
	key := invocationKey(ev.Tool)
	run, tracked := st.ToolTracker[key]
	if tracked {
		delete(st.ToolTracker, key)
	} else {
		log.Printf("Session %s: ToolEnd for untracked invocation %q", st.StableID, key)
	}

	name := ev.Tool.Name
	if name == "" && tracked {
		name = run.Name
	}
	if name != "" {
		st.LastToolName = name
	}
	if ev.Tool.Output != "" {
		st.LastMessage = ev.Tool.Output
	}
	// Phase stays as-is; the turn advances on the subsequent Stop.
}

func applyPermissionResponse(st *State, ev hook.Event) {
	pendingName := st.PendingToolName
	pendingKey := ev.Response.InvocationID
	if pendingKey == "" && st.ActivePermission != nil {
		pendingKey = st.ActivePermission.InvocationID
	}

	st.ActivePermission = nil
	st.PendingToolName = ""
	st.PendingToolInput = nil

	if ev.Response.Approved {
		st.Phase = Processing
		if pendingName != "" {
			if pendingKey == "" {
				pendingKey = pendingName
			}
			trackTool(st, pendingKey, pendingName, ev.Timestamp)
		}
		return
	}

	// Denied: the pending tool never ran.
	if len(st.ToolTracker) > 0 {
		st.Phase = Processing
	} else {
		st.Phase = Idle
	}
}

func applySubagentStart(st *State, ev hook.Event) {
	id := ev.Subagent.TaskID
	if st.ActiveTasks == nil {
		st.ActiveTasks = make(map[string]Task)
	}
	if _, exists := st.ActiveTasks[id]; exists {
		// Duplicate delivery of the same start; keep the original frame.
		return
	}
	st.ActiveTasks[id] = Task{
		Description: ev.Subagent.Description,
		StartedAt:   ev.Timestamp,
	}
	st.TaskStack = append(st.TaskStack, id)
}

// applySubagentEnd tolerates out-of-nesting-order ends: the task is
// always removed from ActiveTasks, but stack frames are only popped from
// the top while the top frame is no longer active.
func applySubagentEnd(st *State, ev hook.Event) {
	id := ev.Subagent.TaskID
	if _, exists := st.ActiveTasks[id]; !exists {
		log.Printf("Session %s: SubagentEnd for unknown task %q", st.StableID, id)
		return
	}
	delete(st.ActiveTasks, id)
	for len(st.TaskStack) > 0 {
		top := st.TaskStack[len(st.TaskStack)-1]
		if _, active := st.ActiveTasks[top]; active {
			break
		}
		st.TaskStack = st.TaskStack[:len(st.TaskStack)-1]
	}
	if len(st.TaskStack) == 0 {
		st.TaskStack = nil
	}
	if len(st.ActiveTasks) == 0 {
		st.ActiveTasks = nil
	}
}

func trackTool(st *State, key, name string, at time.Time) {
	if st.ToolTracker == nil {
		st.ToolTracker = make(map[string]ToolRun)
	}
	st.ToolTracker[key] = ToolRun{Name: name, StartedAt: at}
}

// invocationKey returns the tracker key for a tool payload. Falls back to
// the tool name when the sender omitted the invocation id, so start and
// end events from id-less hooks still pair up.
func invocationKey(tool *hook.ToolPayload) string {
	if tool.InvocationID != "" {
		return tool.InvocationID
	}
	return tool.Name
}

// setCwd applies a working-directory update, last-write-wins by arrival
// order. The project name is derived from the path's final element.
func setCwd(st *State, cwd string) {
	if cwd == st.Cwd {
		return
	}
	st.Cwd = cwd
	st.ProjectName = nameFromPath(cwd)
}

func nameFromPath(path string) string {
	base := filepath.Base(filepath.Clean(path))
	if base == "." || base == string(filepath.Separator) {
		return "unknown"
	}
	return base
}

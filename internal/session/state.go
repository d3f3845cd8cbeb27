package session

import (
	"encoding/json"
	"time"
)

// Phase is the session state-machine state. Idle is the only initial
// phase and Ended the only terminal one.
type Phase int

const (
	Idle Phase = iota
	Processing
	WaitingForApproval
	WaitingForInput
	Compacting
	Ended
)

var phaseNames = map[Phase]string{
	Idle:               "idle",
	Processing:         "processing",
	WaitingForApproval: "waiting_for_approval",
	WaitingForInput:    "waiting_for_input",
	Compacting:         "compacting",
	Ended:              "ended",
}

var phaseFromName = map[string]Phase{
	"idle":                 Idle,
	"processing":           Processing,
	"waiting_for_approval": WaitingForApproval,
	"waiting_for_input":    WaitingForInput,
	"compacting":           Compacting,
	"ended":                Ended,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := phaseFromName[s]; ok {
		*p = v
	}
	return nil
}

// ToolRun is one in-flight tool invocation. An entry exists iff a start
// event was applied and no matching end event has been.
type ToolRun struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
}

// Permission is a pending approval request blocking the session.
type Permission struct {
	InvocationID string          `json:"invocationId,omitempty"`
	ToolName     string          `json:"toolName"`
	Input        json.RawMessage `json:"input,omitempty"`
	Prompt       string          `json:"prompt,omitempty"`
	RequestedAt  time.Time       `json:"requestedAt"`
}

// Task is one delegated subagent work unit.
type Task struct {
	Description string    `json:"description,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
}

// State is the durable aggregate for one logical session. StableID is
// assigned once by the resolver and never reused; it is the only identity
// consumers may rely on. RawSessionID and PID track the most recently
// observed values and change across resumes.
type State struct {
	StableID     string `json:"stableId"`
	RawSessionID string `json:"rawSessionId"`
	PID          int    `json:"pid,omitempty"`
	Phase        Phase  `json:"phase"`

	Cwd         string `json:"cwd,omitempty"`
	ProjectName string `json:"projectName,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	ReadyAt    *time.Time `json:"readyAt,omitempty"` // entered WaitingForInput
	EndedAt    *time.Time `json:"endedAt,omitempty"` // drives grace-window removal

	ActivePermission *Permission     `json:"activePermission,omitempty"`
	PendingToolName  string          `json:"pendingToolName,omitempty"`
	PendingToolInput json.RawMessage `json:"pendingToolInput,omitempty"`

	LastToolName string `json:"lastToolName,omitempty"`
	LastMessage  string `json:"lastMessage,omitempty"`

	// ToolTracker maps invocation id to its in-flight run.
	ToolTracker map[string]ToolRun `json:"toolTracker,omitempty"`

	// TaskStack's last element is the innermost active delegated task;
	// ActiveTasks holds the descriptor for every active task id.
	TaskStack   []string        `json:"taskStack,omitempty"`
	ActiveTasks map[string]Task `json:"activeTasks,omitempty"`

	// priorRawIDs records raw session ids this logical session was known
	// under before resumes, newest last. Resolver-internal.
	priorRawIDs []string
}

// Clone returns a deep copy of the State, duplicating maps, slices, and
// pointer fields so the copy can be mutated independently of the original.
func (s *State) Clone() *State {
	c := *s
	if s.ReadyAt != nil {
		t := *s.ReadyAt
		c.ReadyAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.ActivePermission != nil {
		p := *s.ActivePermission
		p.Input = append(json.RawMessage(nil), s.ActivePermission.Input...)
		c.ActivePermission = &p
	}
	c.PendingToolInput = append(json.RawMessage(nil), s.PendingToolInput...)
	if len(s.ToolTracker) > 0 {
		c.ToolTracker = make(map[string]ToolRun, len(s.ToolTracker))
		for id, run := range s.ToolTracker {
			c.ToolTracker[id] = run
		}
	}
	if len(s.TaskStack) > 0 {
		c.TaskStack = append([]string(nil), s.TaskStack...)
	}
	if len(s.ActiveTasks) > 0 {
		c.ActiveTasks = make(map[string]Task, len(s.ActiveTasks))
		for id, task := range s.ActiveTasks {
			c.ActiveTasks[id] = task
		}
	}
	if len(s.priorRawIDs) > 0 {
		c.priorRawIDs = append([]string(nil), s.priorRawIDs...)
	}
	return &c
}

// adoptRawID switches the session's raw id, remembering the outgoing one
// for future lookups. Ids already remembered are not recorded twice, so
// sessions that resume repeatedly do not accumulate duplicates.
func (s *State) adoptRawID(rawID string) {
	if rawID == "" || rawID == s.RawSessionID {
		return
	}
	old := s.RawSessionID
	remembered := false
	for _, id := range s.priorRawIDs {
		if id == old {
			remembered = true
			break
		}
	}
	if !remembered {
		s.priorRawIDs = append(s.priorRawIDs, old)
	}
	s.RawSessionID = rawID
}

// knownAs reports whether this session is or was identified by rawID.
func (s *State) knownAs(rawID string) bool {
	if rawID == "" {
		return false
	}
	if s.RawSessionID == rawID {
		return true
	}
	for _, id := range s.priorRawIDs {
		if id == rawID {
			return true
		}
	}
	return false
}

func (s *State) IsEnded() bool {
	return s.Phase == Ended
}

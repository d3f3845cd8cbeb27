package hook

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a hook event type. The set is closed: decoding an
// unknown kind is an error, not a passthrough.
type Kind string

const (
	KindSessionStart       Kind = "SessionStart"
	KindSessionEnd         Kind = "SessionEnd"
	KindUserPromptSubmit   Kind = "UserPromptSubmit"
	KindToolStart          Kind = "ToolStart"
	KindToolEnd            Kind = "ToolEnd"
	KindPermissionRequest  Kind = "PermissionRequest"
	KindPermissionResponse Kind = "PermissionResponse"
	KindStop               Kind = "Stop"
	KindCompactStart       Kind = "CompactStart"
	KindCompactEnd         Kind = "CompactEnd"
	KindSubagentStart      Kind = "SubagentStart"
	KindSubagentEnd        Kind = "SubagentEnd"
	KindMessage            Kind = "Message"
)

var validKinds = map[Kind]bool{
	KindSessionStart:       true,
	KindSessionEnd:         true,
	KindUserPromptSubmit:   true,
	KindToolStart:          true,
	KindToolEnd:            true,
	KindPermissionRequest:  true,
	KindPermissionResponse: true,
	KindStop:               true,
	KindCompactStart:       true,
	KindCompactEnd:         true,
	KindSubagentStart:      true,
	KindSubagentEnd:        true,
	KindMessage:            true,
}

// StartPayload carries SessionStart details. ResumedFrom is the explicit
// conversation-continuity marker: the raw session id of the conversation
// this start continues. Empty means a fresh conversation.
type StartPayload struct {
	Source      string `json:"source,omitempty"` // startup, resume, clear, compact
	ResumedFrom string `json:"resumed_from,omitempty"`
	Model       string `json:"model,omitempty"`
}

// EndPayload carries SessionEnd details.
type EndPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ToolPayload describes one tool invocation. InvocationID correlates a
// ToolStart with its ToolEnd and with permission traffic.
type ToolPayload struct {
	InvocationID  string          `json:"invocation_id"`
	Name          string          `json:"name"`
	Input         json.RawMessage `json:"input,omitempty"`
	NeedsApproval bool            `json:"needs_approval,omitempty"`
	Output        string          `json:"output,omitempty"` // ToolEnd: summarized result
}

// PermissionPayload describes a pending approval request.
type PermissionPayload struct {
	InvocationID string          `json:"invocation_id"`
	ToolName     string          `json:"tool_name"`
	Input        json.RawMessage `json:"input,omitempty"`
	Prompt       string          `json:"prompt,omitempty"`
}

// ResponsePayload describes the user's answer to a permission request.
type ResponsePayload struct {
	InvocationID string `json:"invocation_id"`
	Approved     bool   `json:"approved"`
}

// SubagentPayload describes a delegated task (Task tool invocation).
type SubagentPayload struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description,omitempty"`
}

// Event is one decoded hook notification. It is constructed from exactly
// one transport message, consumed once by the store, and discarded. Only
// the payload pointer matching Kind is populated.
type Event struct {
	Kind           Kind      `json:"kind"`
	SessionID      string    `json:"session_id"`
	PID            int       `json:"pid,omitempty"`
	Cwd            string    `json:"cwd,omitempty"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`

	Start      *StartPayload      `json:"start,omitempty"`
	End        *EndPayload        `json:"end,omitempty"`
	Tool       *ToolPayload       `json:"tool,omitempty"`
	Permission *PermissionPayload `json:"permission,omitempty"`
	Response   *ResponsePayload   `json:"response,omitempty"`
	Subagent   *SubagentPayload   `json:"subagent,omitempty"`
	Text       string             `json:"text,omitempty"` // Message: free-form status line
}

// MaxEventSize bounds a single encoded event. Hook payloads are small;
// anything larger is a malformed or hostile message.
const MaxEventSize = 1 << 20

// Decode parses one encoded event and validates that the kind is known
// and that the kind-specific payload it needs is present. The timestamp
// defaults to arrival time when the sender omits it.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if !validKinds[ev.Kind] {
		return Event{}, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if err := ev.validatePayload(); err != nil {
		return Event{}, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev, nil
}

func (ev *Event) validatePayload() error {
	switch ev.Kind {
	case KindToolStart:
		if ev.Tool == nil || ev.Tool.Name == "" {
			return fmt.Errorf("%s event missing tool payload", ev.Kind)
		}
	case KindToolEnd:
		if ev.Tool == nil {
			return fmt.Errorf("%s event missing tool payload", ev.Kind)
		}
	case KindPermissionRequest:
		if ev.Permission == nil || ev.Permission.ToolName == "" {
			return fmt.Errorf("%s event missing permission payload", ev.Kind)
		}
	case KindPermissionResponse:
		if ev.Response == nil {
			return fmt.Errorf("%s event missing response payload", ev.Kind)
		}
	case KindSubagentStart, KindSubagentEnd:
		if ev.Subagent == nil || ev.Subagent.TaskID == "" {
			return fmt.Errorf("%s event missing subagent payload", ev.Kind)
		}
	}
	return nil
}

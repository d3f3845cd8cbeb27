package ws

import (
	"github.com/agent-pulse/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgEnded    MessageType = "ended"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []*session.State `json:"sessions"`
	Status   StatusPayload    `json:"status"`
}

type DeltaPayload struct {
	Updates []*session.State `json:"updates"`
	Removed []string         `json:"removed,omitempty"`
}

type EndedPayload struct {
	StableID    string `json:"stableId"`
	ProjectName string `json:"projectName,omitempty"`
}

// StatusPayload carries the derived read-side flags consumers poll for.
type StatusPayload struct {
	AnyActive           bool `json:"anyActive"`
	AnyAwaitingApproval bool `json:"anyAwaitingApproval"`
	AnyReadyForInput    bool `json:"anyReadyForInput"`
	SessionCount        int  `json:"sessionCount"`
}

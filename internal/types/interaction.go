package types

import (
	"encoding/json"
	"time"
)

type InteractionKind string

const (
	InteractionApproval InteractionKind = "approval"
	InteractionInput    InteractionKind = "input"
)

// Interaction is a single pending request from the agent for human approval
// or input. At most one unresolved interaction exists per run at any time,
// and each is resolved exactly once.
type Interaction struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Kind      InteractionKind `json:"kind"`
	Tool      string          `json:"tool,omitempty"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

func (i *Interaction) Resolved() bool {
	return i != nil && i.ResolvedAt != nil
}

// ApprovalPayload is the kind-specific payload for approval interactions.
type ApprovalPayload struct {
	Message string   `json:"message,omitempty"`
	Command string   `json:"command,omitempty"`
	Diff    string   `json:"diff,omitempty"`
	Files   []string `json:"files,omitempty"`
}

// InputPayload is the kind-specific payload for input interactions.
type InputPayload struct {
	Prompt string `json:"prompt,omitempty"`
}

// Resolution is the committed outcome of an interaction. Approved/Reason are
// meaningful for approvals, Text for input requests.
type Resolution struct {
	Approved bool   `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Text     string `json:"text,omitempty"`
}

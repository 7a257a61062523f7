package types

import (
	"encoding/json"
	"time"
)

type RunEventType string

const (
	RunEventToolCall           RunEventType = "tool-call"
	RunEventToolResult         RunEventType = "tool-result"
	RunEventAgentText          RunEventType = "agent-text"
	RunEventStateChange        RunEventType = "state-change"
	RunEventInteractionTimeout RunEventType = "interaction-timeout"
	// RunEventPing is delivered to live subscribers only; it is never
	// persisted and carries no sequence number.
	RunEventPing RunEventType = "ping"
)

// RunEvent is an immutable, sequence-numbered record of something that
// happened during a run. Seq is strictly increasing per run, starts at 1 and
// has no gaps. Data is the tag-specific payload; unrecognized tags are
// carried through as opaque JSON rather than rejected.
type RunEvent struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Seq       uint64          `json:"seq"`
	Type      RunEventType    `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type StateChangeData struct {
	From   RunState `json:"from"`
	To     RunState `json:"to"`
	Reason string   `json:"reason,omitempty"`
}

type ToolCallData struct {
	Tool      string          `json:"tool"`
	RequestID string          `json:"request_id,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type ToolResultData struct {
	Tool      string          `json:"tool,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type AgentTextData struct {
	Text string `json:"text"`
}

type InteractionTimeoutData struct {
	InteractionID string          `json:"interaction_id"`
	Kind          InteractionKind `json:"kind"`
	Policy        string          `json:"policy"`
}

// StateChange decodes the payload of a state-change event.
func (e *RunEvent) StateChange() (*StateChangeData, bool) {
	if e == nil || e.Type != RunEventStateChange {
		return nil, false
	}
	var data StateChangeData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, false
	}
	return &data, true
}

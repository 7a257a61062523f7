package daemon

import (
	"context"
	"encoding/json"

	"relay/internal/types"
)

type AgentEventType string

const (
	AgentEventToolCall   AgentEventType = "tool_call"
	AgentEventToolResult AgentEventType = "tool_result"
	AgentEventText       AgentEventType = "text"
	AgentEventCompleted  AgentEventType = "completed"
	AgentEventFailed     AgentEventType = "failed"
)

// AgentEvent is one raw observation from an agent session. ToolCall events
// carry a RequestID when the agent expects an answer before proceeding; the
// run machinery routes the eventual resolution back through that id.
type AgentEvent struct {
	Type      AgentEventType
	Tool      string
	RequestID string
	Payload   json.RawMessage
	Text      string
	Reason    string
}

// AgentSession is the contract between the run machinery and the process
// wrapper driving the coding agent. The machinery never inspects the agent
// process; it only consumes typed events and sends answers or a cancel.
type AgentSession interface {
	// Events yields the session's raw event stream. The channel is closed
	// when the underlying process exits.
	Events() <-chan AgentEvent
	// Answer delivers the resolution for a pending request id to the
	// waiting agent call.
	Answer(ctx context.Context, requestID string, resolution types.Resolution) error
	// Cancel asks the session to stop. Cooperative; the session's event
	// channel closes once the process actually exits.
	Cancel(ctx context.Context) error
}

// AgentStarter launches one agent session per run.
type AgentStarter interface {
	Start(ctx context.Context, run *types.Run) (AgentSession, error)
}

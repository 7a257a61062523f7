package types

type StreamFrameType string

const (
	StreamFrameEvent StreamFrameType = "event"
	StreamFrameState StreamFrameType = "state"
	StreamFramePing  StreamFrameType = "ping"
)

// StreamFrame is one message on the push channel. Event frames carry the
// stored event including its seq, which clients use for gap detection and
// de-duplication on reconnect.
type StreamFrame struct {
	Type  StreamFrameType `json:"type"`
	Event *RunEvent       `json:"event,omitempty"`
	State *Run            `json:"state,omitempty"`
}

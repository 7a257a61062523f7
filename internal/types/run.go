package types

import "time"

type RunState string

const (
	RunStateRunning         RunState = "running"
	RunStateWaitingApproval RunState = "waiting_approval"
	RunStateWaitingInput    RunState = "waiting_input"
	RunStateCompleted       RunState = "completed"
	RunStateCancelled       RunState = "cancelled"
	RunStateFailed          RunState = "failed"
)

// Terminal reports whether no further transitions are accepted from s.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateCancelled, RunStateFailed:
		return true
	default:
		return false
	}
}

// Waiting reports whether s blocks on an open interaction.
func (s RunState) Waiting() bool {
	return s == RunStateWaitingApproval || s == RunStateWaitingInput
}

// Run is one execution of the coding agent against a repository, from prompt
// submission to a terminal outcome. Runs are never deleted, only transitioned.
type Run struct {
	ID        string    `json:"id"`
	RepoID    string    `json:"repo_id"`
	Prompt    string    `json:"prompt"`
	State     RunState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

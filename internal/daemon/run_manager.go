package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relay/internal/logging"
	"relay/internal/store"
	"relay/internal/types"
)

// RunManager owns the authoritative state of every run. All transitions,
// interaction hand-offs and event appends for one run go through that run's
// handle lock, so there is exactly one logical writer per run while
// different runs proceed in parallel.
type RunManager struct {
	runs     store.RunStore
	registry *InteractionRegistry
	log      *EventLog
	hub      *RunHub
	starter  AgentStarter
	policy   types.GatingPolicy
	logger   logging.Logger

	mu      sync.Mutex
	handles map[string]*runHandle
}

type runHandle struct {
	mu            sync.Mutex
	run           *types.Run
	session       AgentSession
	timeoutWarned string
}

func NewRunManager(runs store.RunStore, registry *InteractionRegistry, log *EventLog, hub *RunHub, starter AgentStarter, policy types.GatingPolicy, logger logging.Logger) *RunManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RunManager{
		runs:     runs,
		registry: registry,
		log:      log,
		hub:      hub,
		starter:  starter,
		policy:   policy,
		logger:   logger,
		handles:  map[string]*runHandle{},
	}
}

// CreateRun persists a new run in the running state and starts its agent
// session. Creation and start are atomic from the caller's perspective: a
// start failure surfaces as an error and the run is marked failed.
func (m *RunManager) CreateRun(ctx context.Context, repoID, prompt string) (*types.Run, error) {
	repoID = strings.TrimSpace(repoID)
	prompt = strings.TrimSpace(prompt)
	if repoID == "" {
		return nil, invalidInputError("repo_id is required", nil)
	}
	if prompt == "" {
		return nil, invalidInputError("prompt is required", nil)
	}
	if m.starter == nil {
		return nil, unavailableError("no agent adapter configured", nil)
	}

	now := time.Now().UTC()
	run := &types.Run{
		ID:        uuid.NewString(),
		RepoID:    repoID,
		Prompt:    prompt,
		State:     types.RunStateRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.runs.Put(ctx, run); err != nil {
		return nil, unavailableError("persist run failed", err)
	}

	handle := &runHandle{run: run}
	m.mu.Lock()
	m.handles[run.ID] = handle
	m.mu.Unlock()

	handle.mu.Lock()
	defer handle.mu.Unlock()
	session, err := m.starter.Start(ctx, snapshotRun(run))
	if err != nil {
		m.logger.Error("agent_start_failed",
			logging.F("run_id", run.ID),
			logging.F("error", err),
		)
		_ = m.transitionLocked(handle, types.RunStateFailed, "agent session start failed: "+err.Error())
		return nil, unavailableError("agent session start failed", err)
	}
	handle.session = session
	go m.observe(handle)

	m.logger.Info("run_created",
		logging.F("run_id", run.ID),
		logging.F("repo_id", run.RepoID),
	)
	return snapshotRun(run), nil
}

func (m *RunManager) GetRun(ctx context.Context, id string) (*types.Run, error) {
	run, ok, err := m.runs.Get(ctx, id)
	if err != nil {
		return nil, unavailableError("load run failed", err)
	}
	if !ok {
		return nil, notFoundError("run not found", nil)
	}
	return run, nil
}

func (m *RunManager) ListRuns(ctx context.Context) ([]*types.Run, error) {
	runs, err := m.runs.List(ctx)
	if err != nil {
		return nil, unavailableError("list runs failed", err)
	}
	return runs, nil
}

func (m *RunManager) ListEvents(ctx context.Context, runID string, sinceSeq uint64) ([]*types.RunEvent, error) {
	return m.log.ListSince(ctx, runID, sinceSeq)
}

// OpenInteraction returns the run's pending interaction for rendering.
func (m *RunManager) OpenInteraction(ctx context.Context, runID string) (*types.Interaction, error) {
	if _, err := m.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	interaction, ok, err := m.registry.OpenForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("run has no open interaction", nil)
	}
	return interaction, nil
}

// CancelRun transitions a run to cancelled from any non-terminal state. The
// transition is optimistic: state changes immediately and the session is
// signalled cooperatively. Cancelling an already-terminal run is a no-op
// returning the terminal run.
func (m *RunManager) CancelRun(ctx context.Context, id string) (*types.Run, error) {
	handle := m.handle(id)
	if handle == nil {
		run, err := m.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.State.Terminal() {
			return run, nil
		}
		// No live session for a non-terminal run: the daemon restarted
		// under it. Transition store-side.
		return m.transitionDetached(ctx, run, types.RunStateCancelled, "cancel requested")
	}

	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.run.State.Terminal() {
		return snapshotRun(handle.run), nil
	}
	m.resolveOpenDeniedLocked(handle, "run cancelled")
	if err := m.transitionLocked(handle, types.RunStateCancelled, "cancel requested"); err != nil {
		return nil, err
	}
	m.cancelSessionAsync(handle)
	return snapshotRun(handle.run), nil
}

// ResolveInteraction commits the resolution, forwards it to the waiting
// agent call and resumes the run. Exactly one concurrent caller wins; the
// losers receive a conflict.
func (m *RunManager) ResolveInteraction(ctx context.Context, id string, resolution types.Resolution) (*types.Interaction, error) {
	interaction, err := m.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	handle := m.handle(interaction.RunID)
	if handle == nil {
		if interaction.Resolved() {
			return nil, conflictError("interaction already resolved", nil)
		}
		return nil, invalidStateError("run is not active", nil)
	}

	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.run.State.Terminal() {
		if current, err := m.registry.Get(ctx, id); err == nil && current.Resolved() {
			return nil, conflictError("interaction already resolved", nil)
		}
		return nil, invalidStateError("run is in a terminal state", nil)
	}
	resolved, err := m.registry.Resolve(ctx, id, resolution)
	if err != nil {
		return nil, err
	}
	if err := m.answerLocked(handle, resolved.RequestID, resolution); err != nil {
		return resolved, nil
	}
	reason := resolutionReason(resolved.Kind, resolution)
	if err := m.transitionLocked(handle, types.RunStateRunning, reason); err != nil {
		m.logger.Error("resume_transition_failed",
			logging.F("run_id", handle.run.ID),
			logging.F("error", err),
		)
	}
	handle.timeoutWarned = ""
	return resolved, nil
}

// Reconcile marks non-terminal runs without a live session as failed. Called
// once at startup so state left behind by a crash converges.
func (m *RunManager) Reconcile(ctx context.Context) error {
	runs, err := m.runs.List(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if run == nil || run.State.Terminal() {
			continue
		}
		if m.handle(run.ID) != nil {
			continue
		}
		if _, err := m.transitionDetached(ctx, run, types.RunStateFailed, "daemon restarted while run was active"); err != nil {
			m.logger.Warn("reconcile_failed",
				logging.F("run_id", run.ID),
				logging.F("error", err),
			)
		}
	}
	return nil
}

// SweepTimeouts applies the configured timeout policy to interactions that
// have been open longer than the hook timeout.
func (m *RunManager) SweepTimeouts(ctx context.Context, now time.Time) {
	if m.policy.HookTimeout <= 0 {
		return
	}
	for _, handle := range m.liveHandles() {
		m.sweepHandle(ctx, handle, now)
	}
}

func (m *RunManager) sweepHandle(ctx context.Context, handle *runHandle, now time.Time) {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	if !handle.run.State.Waiting() {
		return
	}
	open, ok, err := m.registry.OpenForRun(ctx, handle.run.ID)
	if err != nil || !ok {
		return
	}
	if now.Sub(open.CreatedAt) < m.policy.HookTimeout {
		return
	}

	timeoutData := types.InteractionTimeoutData{
		InteractionID: open.ID,
		Kind:          open.Kind,
		Policy:        string(m.policy.TimeoutPolicy),
	}
	switch m.policy.TimeoutPolicy {
	case types.TimeoutPolicyWarn:
		if handle.timeoutWarned == open.ID {
			return
		}
		handle.timeoutWarned = open.ID
		if _, err := m.log.Append(ctx, handle.run.ID, types.RunEventInteractionTimeout, timeoutData); err != nil {
			m.logger.Warn("timeout_warn_append_failed",
				logging.F("run_id", handle.run.ID),
				logging.F("error", err),
			)
		}
	case types.TimeoutPolicyFail:
		resolution := types.Resolution{Approved: false, Reason: "interaction timed out"}
		if _, err := m.registry.Resolve(ctx, open.ID, resolution); err != nil {
			return
		}
		_, _ = m.log.Append(ctx, handle.run.ID, types.RunEventInteractionTimeout, timeoutData)
		m.failLocked(handle, "interaction timed out")
	default: // deny
		resolution := types.Resolution{Approved: false, Reason: "interaction timed out"}
		if _, err := m.registry.Resolve(ctx, open.ID, resolution); err != nil {
			return
		}
		_, _ = m.log.Append(ctx, handle.run.ID, types.RunEventInteractionTimeout, timeoutData)
		if err := m.answerLocked(handle, open.RequestID, resolution); err != nil {
			return
		}
		_ = m.transitionLocked(handle, types.RunStateRunning, "interaction timed out, denied")
	}
}

func (m *RunManager) observe(handle *runHandle) {
	session := handle.session
	if session == nil {
		return
	}
	for event := range session.Events() {
		m.handleAgentEvent(handle, event)
	}
	m.handleSessionEnd(handle)
}

func (m *RunManager) handleAgentEvent(handle *runHandle, event AgentEvent) {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.run.State.Terminal() {
		// Late events from a stopping session are ignored, not replayed.
		m.logger.Debug("agent_event_after_terminal",
			logging.F("run_id", handle.run.ID),
			logging.F("type", string(event.Type)),
		)
		return
	}

	ctx := context.Background()
	switch event.Type {
	case AgentEventToolCall:
		m.handleToolCallLocked(ctx, handle, event)
	case AgentEventToolResult:
		if _, err := m.log.Append(ctx, handle.run.ID, types.RunEventToolResult, types.ToolResultData{
			Tool:      event.Tool,
			RequestID: event.RequestID,
			Output:    event.Payload,
		}); err != nil {
			m.failLocked(handle, "event append failed: "+err.Error())
		}
	case AgentEventText:
		if _, err := m.log.Append(ctx, handle.run.ID, types.RunEventAgentText, types.AgentTextData{Text: event.Text}); err != nil {
			m.failLocked(handle, "event append failed: "+err.Error())
		}
	case AgentEventCompleted:
		if handle.run.State != types.RunStateRunning {
			m.failLocked(handle, "agent completed with an open interaction")
			return
		}
		_ = m.transitionLocked(handle, types.RunStateCompleted, "agent completed")
	case AgentEventFailed:
		reason := event.Reason
		if reason == "" {
			reason = "agent reported an unrecoverable error"
		}
		m.failLocked(handle, reason)
	default:
		m.logger.Warn("agent_event_unknown",
			logging.F("run_id", handle.run.ID),
			logging.F("type", string(event.Type)),
		)
	}
}

func (m *RunManager) handleToolCallLocked(ctx context.Context, handle *runHandle, event AgentEvent) {
	if _, err := m.log.Append(ctx, handle.run.ID, types.RunEventToolCall, types.ToolCallData{
		Tool:      event.Tool,
		RequestID: event.RequestID,
		Input:     event.Payload,
	}); err != nil {
		m.failLocked(handle, "event append failed: "+err.Error())
		return
	}

	kind, gated := m.policy.Classify(event.Tool)
	if !gated {
		return
	}
	if event.RequestID == "" {
		// Without a correlation id there is no way to route an answer
		// back; the session is expected to proceed on its own.
		m.logger.Warn("gated_tool_without_request_id",
			logging.F("run_id", handle.run.ID),
			logging.F("tool", event.Tool),
		)
		return
	}
	if handle.run.State != types.RunStateRunning {
		m.failLocked(handle, "agent requested an interaction while one was pending")
		return
	}
	if _, err := m.registry.Open(ctx, handle.run.ID, kind, event.Tool, event.RequestID, event.Payload); err != nil {
		// A second open while one is pending signals a gating bug; the
		// run cannot safely continue.
		m.failLocked(handle, "open interaction failed: "+err.Error())
		return
	}
	target := types.RunStateWaitingApproval
	if kind == types.InteractionInput {
		target = types.RunStateWaitingInput
	}
	handle.timeoutWarned = ""
	if err := m.transitionLocked(handle, target, "tool "+event.Tool); err != nil {
		m.failLocked(handle, "gating transition failed: "+err.Error())
	}
}

func (m *RunManager) handleSessionEnd(handle *runHandle) {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.run.State.Terminal() {
		return
	}
	m.failLocked(handle, "agent session ended unexpectedly")
}

// transitionLocked applies one validated state transition: persist the run,
// append the state-change event and publish the new snapshot. Callers hold
// the handle lock.
func (m *RunManager) transitionLocked(handle *runHandle, to types.RunState, reason string) error {
	from := handle.run.State
	if !validTransition(from, to) {
		return conflictError(fmt.Sprintf("cannot transition run from %s to %s", from, to), nil)
	}
	handle.run.State = to
	handle.run.UpdatedAt = time.Now().UTC()
	if err := m.runs.Put(context.Background(), handle.run); err != nil {
		handle.run.State = from
		return unavailableError("persist run failed", err)
	}
	if _, err := m.log.Append(context.Background(), handle.run.ID, types.RunEventStateChange, types.StateChangeData{
		From:   from,
		To:     to,
		Reason: reason,
	}); err != nil {
		m.logger.Error("state_change_append_failed",
			logging.F("run_id", handle.run.ID),
			logging.F("from", string(from)),
			logging.F("to", string(to)),
			logging.F("error", err),
		)
	}
	if m.hub != nil {
		m.hub.PublishState(snapshotRun(handle.run))
	}
	if to.Terminal() {
		m.releaseHandle(handle.run.ID)
	}
	m.logger.Info("run_state_changed",
		logging.F("run_id", handle.run.ID),
		logging.F("from", string(from)),
		logging.F("to", string(to)),
		logging.F("reason", reason),
	)
	return nil
}

// releaseHandle forgets a terminal run's handle. Goroutines holding the
// pointer keep working against it; they observe the terminal state and
// unwind.
func (m *RunManager) releaseHandle(id string) {
	m.mu.Lock()
	delete(m.handles, id)
	m.mu.Unlock()
}

func (m *RunManager) transitionDetached(ctx context.Context, run *types.Run, to types.RunState, reason string) (*types.Run, error) {
	from := run.State
	if !validTransition(from, to) {
		return nil, conflictError(fmt.Sprintf("cannot transition run from %s to %s", from, to), nil)
	}
	if open, ok, err := m.registry.OpenForRun(ctx, run.ID); err == nil && ok {
		_, _ = m.registry.Resolve(ctx, open.ID, types.Resolution{Approved: false, Reason: reason})
	}
	run.State = to
	run.UpdatedAt = time.Now().UTC()
	if err := m.runs.Put(ctx, run); err != nil {
		return nil, unavailableError("persist run failed", err)
	}
	if _, err := m.log.Append(ctx, run.ID, types.RunEventStateChange, types.StateChangeData{
		From:   from,
		To:     to,
		Reason: reason,
	}); err != nil {
		m.logger.Warn("state_change_append_failed",
			logging.F("run_id", run.ID),
			logging.F("error", err),
		)
	}
	if m.hub != nil {
		m.hub.PublishState(snapshotRun(run))
	}
	return snapshotRun(run), nil
}

// failLocked forces the run to failed, releasing any pending interaction as
// denied first and tearing the agent session down.
func (m *RunManager) failLocked(handle *runHandle, reason string) {
	if handle.run.State.Terminal() {
		return
	}
	m.resolveOpenDeniedLocked(handle, reason)
	if err := m.transitionLocked(handle, types.RunStateFailed, reason); err != nil {
		m.logger.Error("fail_transition_failed",
			logging.F("run_id", handle.run.ID),
			logging.F("error", err),
		)
	}
	m.cancelSessionAsync(handle)
}

// cancelSessionAsync signals the agent session to stop. Cooperative and off
// the handle lock; the session's event channel closes once the process
// actually exits.
func (m *RunManager) cancelSessionAsync(handle *runHandle) {
	session := handle.session
	if session == nil {
		return
	}
	runID := handle.run.ID
	go func() {
		if err := session.Cancel(context.Background()); err != nil {
			m.logger.Warn("agent_cancel_failed",
				logging.F("run_id", runID),
				logging.F("error", err),
			)
		}
	}()
}

func (m *RunManager) resolveOpenDeniedLocked(handle *runHandle, reason string) {
	open, ok, err := m.registry.OpenForRun(context.Background(), handle.run.ID)
	if err != nil || !ok {
		return
	}
	if _, err := m.registry.Resolve(context.Background(), open.ID, types.Resolution{Approved: false, Reason: reason}); err != nil {
		m.logger.Warn("auto_deny_failed",
			logging.F("run_id", handle.run.ID),
			logging.F("interaction_id", open.ID),
			logging.F("error", err),
		)
	}
}

func (m *RunManager) answerLocked(handle *runHandle, requestID string, resolution types.Resolution) error {
	if handle.session == nil {
		return nil
	}
	if err := handle.session.Answer(context.Background(), requestID, resolution); err != nil {
		m.logger.Error("agent_answer_failed",
			logging.F("run_id", handle.run.ID),
			logging.F("request_id", requestID),
			logging.F("error", err),
		)
		m.failLocked(handle, "agent answer failed: "+err.Error())
		return err
	}
	return nil
}

func (m *RunManager) handle(id string) *runHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[id]
}

func (m *RunManager) liveHandles() []*runHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*runHandle, 0, len(m.handles))
	for _, handle := range m.handles {
		out = append(out, handle)
	}
	return out
}

func validTransition(from, to types.RunState) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case types.RunStateRunning:
		switch to {
		case types.RunStateWaitingApproval, types.RunStateWaitingInput,
			types.RunStateCompleted, types.RunStateCancelled, types.RunStateFailed:
			return true
		}
	case types.RunStateWaitingApproval, types.RunStateWaitingInput:
		switch to {
		case types.RunStateRunning, types.RunStateCancelled, types.RunStateFailed:
			return true
		}
	}
	return false
}

func resolutionReason(kind types.InteractionKind, resolution types.Resolution) string {
	switch kind {
	case types.InteractionApproval:
		if resolution.Approved {
			return "approval granted"
		}
		return "approval denied"
	case types.InteractionInput:
		return "input provided"
	default:
		return "interaction resolved"
	}
}

func snapshotRun(run *types.Run) *types.Run {
	if run == nil {
		return nil
	}
	out := *run
	return &out
}

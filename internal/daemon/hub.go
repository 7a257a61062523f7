package daemon

import (
	"context"
	"sync"
	"time"

	"relay/internal/logging"
	"relay/internal/store"
	"relay/internal/types"
)

// WaitingNotifier is invoked when a run enters a waiting state with no live
// subscribers attached, so an absent user can still be reached.
type WaitingNotifier interface {
	NotifyWaiting(ctx context.Context, event *types.RunEvent)
}

// RunHub fans out run events and state snapshots to live subscribers. A new
// subscription is seeded with a catch-up read from the event log starting at
// the caller's seq, then receives live events in order. A subscriber that
// cannot keep up is dropped rather than allowed to backpressure the run; the
// client reconnects and catches up by seq.
type RunHub struct {
	runs     store.RunStore
	events   store.EventStore
	notifier WaitingNotifier

	sendBuffer   int
	pingInterval time.Duration
	logger       logging.Logger

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]*runSubscriber
}

type runSubscriber struct {
	id      int
	runID   string
	frames  chan types.StreamFrame
	lastSeq uint64
	closed  bool
}

func NewRunHub(runs store.RunStore, events store.EventStore, notifier WaitingNotifier, sendBuffer int, pingInterval time.Duration, logger logging.Logger) *RunHub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RunHub{
		runs:         runs,
		events:       events,
		notifier:     notifier,
		sendBuffer:   sendBuffer,
		pingInterval: pingInterval,
		logger:       logger,
		subs:         map[string]map[int]*runSubscriber{},
	}
}

// Subscribe registers a subscription for runID at fromSeq. The returned
// channel first yields a state snapshot and all stored events with
// seq > fromSeq, then live events; the cancel func detaches the
// subscription.
func (h *RunHub) Subscribe(ctx context.Context, runID string, fromSeq uint64) (<-chan types.StreamFrame, func(), error) {
	run, ok, err := h.runs.Get(ctx, runID)
	if err != nil {
		return nil, nil, unavailableError("load run failed", err)
	}
	if !ok {
		return nil, nil, notFoundError("run not found", nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// The backlog read happens under the hub lock so no live publish can
	// interleave between catch-up and registration.
	backlog, err := h.events.ListSince(ctx, runID, fromSeq)
	if err != nil {
		return nil, nil, unavailableError("list events failed", err)
	}

	h.nextID++
	sub := &runSubscriber{
		id:      h.nextID,
		runID:   runID,
		frames:  make(chan types.StreamFrame, len(backlog)+h.sendBuffer+1),
		lastSeq: fromSeq,
	}
	sub.frames <- types.StreamFrame{Type: types.StreamFrameState, State: run}
	for _, event := range backlog {
		sub.frames <- types.StreamFrame{Type: types.StreamFrameEvent, Event: event}
		sub.lastSeq = event.Seq
	}

	if h.subs[runID] == nil {
		h.subs[runID] = map[int]*runSubscriber{}
	}
	h.subs[runID][sub.id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dropLocked(sub)
	}
	return sub.frames, cancel, nil
}

// Publish delivers a committed event to all live subscriptions of its run.
// With zero subscriptions attached, a state-change into a waiting state
// triggers the notifier instead.
func (h *RunHub) Publish(event *types.RunEvent) {
	if event == nil {
		return
	}
	h.mu.Lock()
	subs := h.subs[event.RunID]
	if len(subs) == 0 {
		h.mu.Unlock()
		h.notifyIfWaiting(event)
		return
	}
	var saturated []*runSubscriber
	for _, sub := range subs {
		if event.Seq <= sub.lastSeq {
			continue
		}
		select {
		case sub.frames <- types.StreamFrame{Type: types.StreamFrameEvent, Event: event}:
			sub.lastSeq = event.Seq
		default:
			saturated = append(saturated, sub)
		}
	}
	for _, sub := range saturated {
		h.logger.Warn("subscriber_dropped",
			logging.F("run_id", sub.runID),
			logging.F("subscriber_id", sub.id),
			logging.F("last_seq", sub.lastSeq),
		)
		h.dropLocked(sub)
	}
	h.mu.Unlock()
}

// PublishState sends a run snapshot frame to the run's subscriptions.
// Best-effort: a full buffer skips the frame, a newer snapshot follows the
// next transition.
func (h *RunHub) PublishState(run *types.Run) {
	if run == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[run.ID] {
		select {
		case sub.frames <- types.StreamFrame{Type: types.StreamFrameState, State: run}:
		default:
		}
	}
}

// Run emits keepalive ping frames to every live subscription until ctx is
// done. Pings are not persisted and carry no sequence number; a dead
// transport surfaces as a write timeout in the transport handler.
func (h *RunHub) Run(ctx context.Context) error {
	interval := h.pingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.pingAll()
		}
	}
}

func (h *RunHub) pingAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for _, sub := range subs {
			select {
			case sub.frames <- types.StreamFrame{Type: types.StreamFramePing}:
			default:
			}
		}
	}
}

// SubscriberCount reports live subscriptions for a run.
func (h *RunHub) SubscriberCount(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

func (h *RunHub) dropLocked(sub *runSubscriber) {
	if sub == nil || sub.closed {
		return
	}
	sub.closed = true
	if subs, ok := h.subs[sub.runID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.subs, sub.runID)
		}
	}
	close(sub.frames)
}

func (h *RunHub) notifyIfWaiting(event *types.RunEvent) {
	if h.notifier == nil {
		return
	}
	change, ok := event.StateChange()
	if !ok || !change.To.Waiting() {
		return
	}
	go h.notifier.NotifyWaiting(context.Background(), event)
}

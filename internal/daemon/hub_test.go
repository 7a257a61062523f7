package daemon

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"relay/internal/logging"
	"relay/internal/store"
	"relay/internal/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*types.RunEvent
}

func (n *recordingNotifier) NotifyWaiting(ctx context.Context, event *types.RunEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func newHubFixture(t *testing.T, notifier WaitingNotifier, sendBuffer int) (*RunHub, *EventLog, store.Repository) {
	t.Helper()
	repo, err := store.OpenRepository(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	hub := NewRunHub(repo.Runs(), repo.Events(), notifier, sendBuffer, time.Minute, logging.Nop())
	eventLog := NewEventLog(repo.Events(), hub)
	return hub, eventLog, repo
}

func putHubRun(t *testing.T, repo store.Repository, id string) {
	t.Helper()
	now := time.Now().UTC()
	run := &types.Run{
		ID:        id,
		RepoID:    "repo-1",
		Prompt:    "fix bug",
		State:     types.RunStateRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Runs().Put(context.Background(), run); err != nil {
		t.Fatalf("Put run: %v", err)
	}
}

func recvFrame(t *testing.T, frames <-chan types.StreamFrame) types.StreamFrame {
	t.Helper()
	select {
	case frame, ok := <-frames:
		if !ok {
			t.Fatal("frame channel closed")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return types.StreamFrame{}
}

func TestSubscribeCatchUpThenLive(t *testing.T) {
	hub, eventLog, repo := newHubFixture(t, nil, 16)
	putHubRun(t, repo, "run-1")

	for i := 0; i < 5; i++ {
		if _, err := eventLog.Append(context.Background(), "run-1", types.RunEventAgentText, types.AgentTextData{Text: "hello"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	frames, cancel, err := hub.Subscribe(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	first := recvFrame(t, frames)
	if first.Type != types.StreamFrameState || first.State == nil || first.State.ID != "run-1" {
		t.Fatalf("expected leading state frame, got %#v", first)
	}
	for want := uint64(1); want <= 5; want++ {
		frame := recvFrame(t, frames)
		if frame.Type != types.StreamFrameEvent || frame.Event.Seq != want {
			t.Fatalf("expected event seq %d, got %#v", want, frame)
		}
	}

	for i := 6; i <= 7; i++ {
		if _, err := eventLog.Append(context.Background(), "run-1", types.RunEventAgentText, types.AgentTextData{Text: "more"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	for want := uint64(6); want <= 7; want++ {
		frame := recvFrame(t, frames)
		if frame.Type != types.StreamFrameEvent || frame.Event.Seq != want {
			t.Fatalf("expected live event seq %d, got %#v", want, frame)
		}
	}
}

func TestSubscribeFromSeqSkipsOlderEvents(t *testing.T) {
	hub, eventLog, repo := newHubFixture(t, nil, 16)
	putHubRun(t, repo, "run-1")

	for i := 0; i < 4; i++ {
		if _, err := eventLog.Append(context.Background(), "run-1", types.RunEventAgentText, types.AgentTextData{Text: "old"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	frames, cancel, err := hub.Subscribe(context.Background(), "run-1", 3)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if frame := recvFrame(t, frames); frame.Type != types.StreamFrameState {
		t.Fatalf("expected state frame, got %#v", frame)
	}
	frame := recvFrame(t, frames)
	if frame.Type != types.StreamFrameEvent || frame.Event.Seq != 4 {
		t.Fatalf("expected only seq 4, got %#v", frame)
	}
}

func TestSubscribeUnknownRun(t *testing.T) {
	hub, _, _ := newHubFixture(t, nil, 16)
	if _, _, err := hub.Subscribe(context.Background(), "missing", 0); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub, eventLog, repo := newHubFixture(t, nil, 1)
	putHubRun(t, repo, "run-1")

	frames, cancel, err := hub.Subscribe(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	// Never read: the buffer fills and the hub cuts the subscriber loose
	// instead of blocking the run.
	for i := 0; i < 10; i++ {
		if _, err := eventLog.Append(context.Background(), "run-1", types.RunEventAgentText, types.AgentTextData{Text: "spam"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if got := hub.SubscriberCount("run-1"); got != 0 {
		t.Fatalf("expected subscriber to be dropped, still %d attached", got)
	}

	// The channel is closed so the transport handler unwinds.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frame channel never closed")
		}
	}
}

func TestWaitingWithoutSubscribersNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	_, eventLog, repo := newHubFixture(t, notifier, 16)
	putHubRun(t, repo, "run-1")

	if _, err := eventLog.Append(context.Background(), "run-1", types.RunEventStateChange, types.StateChangeData{
		From: types.RunStateRunning,
		To:   types.RunStateWaitingApproval,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notifier never invoked")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWaitingWithSubscriberDoesNotNotify(t *testing.T) {
	notifier := &recordingNotifier{}
	hub, eventLog, repo := newHubFixture(t, notifier, 16)
	putHubRun(t, repo, "run-1")

	frames, cancel, err := hub.Subscribe(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()
	recvFrame(t, frames)

	if _, err := eventLog.Append(context.Background(), "run-1", types.RunEventStateChange, types.StateChangeData{
		From: types.RunStateRunning,
		To:   types.RunStateWaitingInput,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	recvFrame(t, frames)

	time.Sleep(50 * time.Millisecond)
	if notifier.count() != 0 {
		t.Fatalf("notifier invoked despite live subscriber")
	}
}

func TestNonWaitingStateChangeDoesNotNotify(t *testing.T) {
	notifier := &recordingNotifier{}
	_, eventLog, repo := newHubFixture(t, notifier, 16)
	putHubRun(t, repo, "run-1")

	if _, err := eventLog.Append(context.Background(), "run-1", types.RunEventStateChange, types.StateChangeData{
		From: types.RunStateRunning,
		To:   types.RunStateCompleted,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := eventLog.Append(context.Background(), "run-1", types.RunEventAgentText, types.AgentTextData{Text: "done"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if notifier.count() != 0 {
		t.Fatalf("notifier invoked for non-waiting events")
	}
}

func TestPublishDeduplicatesBySeq(t *testing.T) {
	hub, eventLog, repo := newHubFixture(t, nil, 16)
	putHubRun(t, repo, "run-1")

	event, err := eventLog.Append(context.Background(), "run-1", types.RunEventAgentText, json.RawMessage(`{"text":"once"}`))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	frames, cancel, err := hub.Subscribe(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()
	recvFrame(t, frames) // state
	recvFrame(t, frames) // seq 1 from catch-up

	// Replaying the same event must not produce a duplicate frame.
	hub.Publish(event)
	select {
	case frame := <-frames:
		t.Fatalf("unexpected duplicate frame: %#v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

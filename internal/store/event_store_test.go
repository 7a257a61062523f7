package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"relay/internal/types"
)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	repo, err := OpenRepository(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func putTestRun(t *testing.T, repo Repository, id string) *types.Run {
	t.Helper()
	run := &types.Run{
		ID:        id,
		RepoID:    "repo-1",
		Prompt:    "fix bug",
		State:     types.RunStateRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := repo.Runs().Put(context.Background(), run); err != nil {
		t.Fatalf("Put run: %v", err)
	}
	return run
}

func TestEventStoreAppendAssignsSequentialSeq(t *testing.T) {
	repo := newTestRepository(t)
	putTestRun(t, repo, "run-1")

	for i := 1; i <= 5; i++ {
		event, err := repo.Events().Append(context.Background(), "run-1", types.RunEventAgentText, json.RawMessage(`{"text":"hi"}`))
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if event.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, event.Seq)
		}
		if event.ID == "" || event.RunID != "run-1" {
			t.Fatalf("unexpected event: %#v", event)
		}
	}
}

func TestEventStoreAppendUnknownRun(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.Events().Append(context.Background(), "missing", types.RunEventAgentText, nil)
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEventStoreSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.db")

	repo, err := OpenRepository(path)
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	putTestRun(t, repo, "run-1")
	for i := 0; i < 3; i++ {
		if _, err := repo.Events().Append(context.Background(), "run-1", types.RunEventAgentText, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	repo, err = OpenRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()
	event, err := repo.Events().Append(context.Background(), "run-1", types.RunEventAgentText, nil)
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if event.Seq != 4 {
		t.Fatalf("expected seq 4 after reopen, got %d", event.Seq)
	}
}

func TestEventStoreListSinceIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	putTestRun(t, repo, "run-1")
	for i := 0; i < 5; i++ {
		if _, err := repo.Events().Append(context.Background(), "run-1", types.RunEventAgentText, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	first, err := repo.Events().ListSince(context.Background(), "run-1", 2)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	second, err := repo.Events().ListSince(context.Background(), "run-1", 2)
	if err != nil {
		t.Fatalf("ListSince again: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 events both times, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Seq != second[i].Seq || first[i].ID != second[i].ID {
			t.Fatalf("ListSince not idempotent at index %d: %v vs %v", i, first[i], second[i])
		}
		if first[i].Seq != uint64(i+3) {
			t.Fatalf("expected seq %d, got %d", i+3, first[i].Seq)
		}
	}
}

func TestEventStoreListSinceReturnsOnlyNewEvents(t *testing.T) {
	repo := newTestRepository(t)
	putTestRun(t, repo, "run-1")
	var last uint64
	for i := 0; i < 3; i++ {
		event, err := repo.Events().Append(context.Background(), "run-1", types.RunEventAgentText, nil)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		last = event.Seq
	}

	appended, err := repo.Events().Append(context.Background(), "run-1", types.RunEventToolCall, json.RawMessage(`{"tool":"Bash"}`))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	events, err := repo.Events().ListSince(context.Background(), "run-1", last)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(events) != 1 || events[0].Seq != appended.Seq {
		t.Fatalf("expected exactly the new event, got %#v", events)
	}
}

func TestEventStoreListSinceMaxSeqReturnsNothing(t *testing.T) {
	repo := newTestRepository(t)
	putTestRun(t, repo, "run-1")
	for i := 0; i < 3; i++ {
		if _, err := repo.Events().Append(context.Background(), "run-1", types.RunEventAgentText, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// sinceSeq+1 must not wrap around and replay the log from seq 1.
	events, err := repo.Events().ListSince(context.Background(), "run-1", math.MaxUint64)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events past max seq, got %d", len(events))
	}

	if _, err := repo.Events().ListSince(context.Background(), "missing", math.MaxUint64); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEventStoreRunsAreIndependent(t *testing.T) {
	repo := newTestRepository(t)
	putTestRun(t, repo, "run-a")
	putTestRun(t, repo, "run-b")

	for i := 0; i < 3; i++ {
		if _, err := repo.Events().Append(context.Background(), "run-a", types.RunEventAgentText, nil); err != nil {
			t.Fatalf("Append run-a: %v", err)
		}
	}
	event, err := repo.Events().Append(context.Background(), "run-b", types.RunEventAgentText, nil)
	if err != nil {
		t.Fatalf("Append run-b: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected run-b to start at seq 1, got %d", event.Seq)
	}
}

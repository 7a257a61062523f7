package store

import (
	"context"
	"encoding/json"
	"errors"

	"relay/internal/types"
)

var (
	ErrRunNotFound         = errors.New("run not found")
	ErrInteractionNotFound = errors.New("interaction not found")
	// ErrInteractionResolved signals a second resolution attempt on an
	// already-resolved interaction. The stored resolution is untouched.
	ErrInteractionResolved = errors.New("interaction already resolved")
	// ErrInteractionOpen signals that the run already has an unresolved
	// interaction; at most one may be open per run.
	ErrInteractionOpen = errors.New("run already has an open interaction")
)

type RunStore interface {
	Put(ctx context.Context, run *types.Run) error
	Get(ctx context.Context, id string) (*types.Run, bool, error)
	List(ctx context.Context) ([]*types.Run, error)
}

type EventStore interface {
	// Append assigns the next sequence number for the run, persists the
	// event and returns it. Sequence assignment and the write commit in a
	// single transaction, so numbers are gap-free even across restarts.
	Append(ctx context.Context, runID string, typ types.RunEventType, data json.RawMessage) (*types.RunEvent, error)
	// ListSince returns all events with seq > sinceSeq in seq order.
	// Events are immutable, so repeated calls with the same sinceSeq return
	// identical results.
	ListSince(ctx context.Context, runID string, sinceSeq uint64) ([]*types.RunEvent, error)
}

type InteractionStore interface {
	// Open persists the interaction and fails with ErrInteractionOpen when
	// the run already has an unresolved one.
	Open(ctx context.Context, interaction *types.Interaction) (*types.Interaction, error)
	Get(ctx context.Context, id string) (*types.Interaction, bool, error)
	// OpenForRun returns the run's unresolved interaction, if any.
	OpenForRun(ctx context.Context, runID string) (*types.Interaction, bool, error)
	// Resolve commits the resolution exactly once; concurrent attempts see
	// one winner and ErrInteractionResolved for the rest.
	Resolve(ctx context.Context, id string, resolution types.Resolution) (*types.Interaction, error)
}

type DeviceStore interface {
	Put(ctx context.Context, device *types.Device) (*types.Device, error)
	List(ctx context.Context) ([]*types.Device, error)
}

type Repository interface {
	Runs() RunStore
	Events() EventStore
	Interactions() InteractionStore
	Devices() DeviceStore
	Close() error
}

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"relay/internal/store"
	"relay/internal/types"
)

// InteractionRegistry tracks the open approval/input request of each run and
// resolves requests exactly once. Storage enforces the one-open-per-run
// invariant and the single-winner resolve; the registry translates storage
// outcomes into service errors.
type InteractionRegistry struct {
	interactions store.InteractionStore
}

func NewInteractionRegistry(interactions store.InteractionStore) *InteractionRegistry {
	return &InteractionRegistry{interactions: interactions}
}

func (r *InteractionRegistry) Open(ctx context.Context, runID string, kind types.InteractionKind, tool, requestID string, payload json.RawMessage) (*types.Interaction, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, invalidInputError("run id is required", nil)
	}
	if kind != types.InteractionApproval && kind != types.InteractionInput {
		return nil, invalidInputError("unknown interaction kind", nil)
	}
	interaction, err := r.interactions.Open(ctx, &types.Interaction{
		ID:        uuid.NewString(),
		RunID:     runID,
		Kind:      kind,
		Tool:      tool,
		RequestID: requestID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInteractionOpen) {
			return nil, conflictError("run already has an open interaction", err)
		}
		return nil, unavailableError("open interaction failed", err)
	}
	return interaction, nil
}

// Resolve commits the resolution. Exactly one concurrent caller wins; the
// rest get a conflict so their pending requests are answered instead of
// hanging.
func (r *InteractionRegistry) Resolve(ctx context.Context, id string, resolution types.Resolution) (*types.Interaction, error) {
	interaction, err := r.interactions.Resolve(ctx, id, resolution)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInteractionNotFound):
			return nil, notFoundError("interaction not found", err)
		case errors.Is(err, store.ErrInteractionResolved):
			return nil, conflictError("interaction already resolved", err)
		default:
			return nil, unavailableError("resolve interaction failed", err)
		}
	}
	return interaction, nil
}

func (r *InteractionRegistry) Get(ctx context.Context, id string) (*types.Interaction, error) {
	interaction, ok, err := r.interactions.Get(ctx, id)
	if err != nil {
		return nil, unavailableError("load interaction failed", err)
	}
	if !ok {
		return nil, notFoundError("interaction not found", nil)
	}
	return interaction, nil
}

// OpenForRun returns the run's pending interaction, if any.
func (r *InteractionRegistry) OpenForRun(ctx context.Context, runID string) (*types.Interaction, bool, error) {
	interaction, ok, err := r.interactions.OpenForRun(ctx, runID)
	if err != nil {
		return nil, false, unavailableError("load open interaction failed", err)
	}
	return interaction, ok, nil
}

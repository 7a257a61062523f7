package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"relay/internal/store"
	"relay/internal/types"
)

// EventLog is the single source of truth for what happened during a run:
// an append-only, sequence-numbered record per run. Every committed append
// is published to the subscription hub.
type EventLog struct {
	events store.EventStore
	hub    *RunHub
}

func NewEventLog(events store.EventStore, hub *RunHub) *EventLog {
	return &EventLog{events: events, hub: hub}
}

// Append persists an event with the run's next sequence number and fans it
// out to live subscribers. data may be nil, a json.RawMessage, or any
// marshalable payload.
func (l *EventLog) Append(ctx context.Context, runID string, typ types.RunEventType, data any) (*types.RunEvent, error) {
	raw, err := marshalEventData(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event data: %w", typ, err)
	}
	event, err := l.events.Append(ctx, runID, typ, raw)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return nil, notFoundError("run not found", err)
		}
		return nil, unavailableError("append event failed", err)
	}
	if l.hub != nil {
		l.hub.Publish(event)
	}
	return event, nil
}

func (l *EventLog) ListSince(ctx context.Context, runID string, sinceSeq uint64) ([]*types.RunEvent, error) {
	events, err := l.events.ListSince(ctx, runID, sinceSeq)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return nil, notFoundError("run not found", err)
		}
		return nil, unavailableError("list events failed", err)
	}
	return events, nil
}

func marshalEventData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

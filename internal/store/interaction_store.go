package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"relay/internal/types"
)

type bboltInteractionStore struct {
	db *bolt.DB
}

func (s *bboltInteractionStore) Open(ctx context.Context, interaction *types.Interaction) (*types.Interaction, error) {
	if interaction == nil || strings.TrimSpace(interaction.ID) == "" || strings.TrimSpace(interaction.RunID) == "" {
		return nil, errors.New("interaction requires id and run_id")
	}
	normalized := *interaction
	if normalized.CreatedAt.IsZero() {
		normalized.CreatedAt = time.Now().UTC()
	}
	normalized.ResolvedAt = nil
	normalized.Resolution = nil
	raw, err := json.Marshal(&normalized)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		interactions := tx.Bucket(bucketInteractions)
		open := tx.Bucket(bucketInteractionOpen)
		if interactions == nil || open == nil {
			return errors.New("interaction buckets missing")
		}
		if open.Get([]byte(normalized.RunID)) != nil {
			return ErrInteractionOpen
		}
		if interactions.Get([]byte(normalized.ID)) != nil {
			return errors.New("interaction id already exists")
		}
		if err := interactions.Put([]byte(normalized.ID), raw); err != nil {
			return err
		}
		return open.Put([]byte(normalized.RunID), []byte(normalized.ID))
	})
	if err != nil {
		return nil, err
	}
	out := normalized
	return &out, nil
}

func (s *bboltInteractionStore) Get(ctx context.Context, id string) (*types.Interaction, bool, error) {
	var (
		out *types.Interaction
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInteractions)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(id))
		if len(raw) == 0 {
			return nil
		}
		var interaction types.Interaction
		if err := json.Unmarshal(raw, &interaction); err != nil {
			return err
		}
		out = &interaction
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltInteractionStore) OpenForRun(ctx context.Context, runID string) (*types.Interaction, bool, error) {
	var (
		out *types.Interaction
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		open := tx.Bucket(bucketInteractionOpen)
		interactions := tx.Bucket(bucketInteractions)
		if open == nil || interactions == nil {
			return nil
		}
		id := open.Get([]byte(runID))
		if len(id) == 0 {
			return nil
		}
		raw := interactions.Get(id)
		if len(raw) == 0 {
			return errors.New("open interaction index points at missing record")
		}
		var interaction types.Interaction
		if err := json.Unmarshal(raw, &interaction); err != nil {
			return err
		}
		out = &interaction
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltInteractionStore) Resolve(ctx context.Context, id string, resolution types.Resolution) (*types.Interaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInteractionNotFound
	}
	var out *types.Interaction
	err := s.db.Update(func(tx *bolt.Tx) error {
		interactions := tx.Bucket(bucketInteractions)
		open := tx.Bucket(bucketInteractionOpen)
		if interactions == nil || open == nil {
			return errors.New("interaction buckets missing")
		}
		raw := interactions.Get([]byte(id))
		if len(raw) == 0 {
			return ErrInteractionNotFound
		}
		var interaction types.Interaction
		if err := json.Unmarshal(raw, &interaction); err != nil {
			return err
		}
		if interaction.Resolved() {
			return ErrInteractionResolved
		}
		now := time.Now().UTC()
		interaction.ResolvedAt = &now
		resolved := resolution
		interaction.Resolution = &resolved
		updated, err := json.Marshal(&interaction)
		if err != nil {
			return err
		}
		if err := interactions.Put([]byte(id), updated); err != nil {
			return err
		}
		if string(open.Get([]byte(interaction.RunID))) == id {
			if err := open.Delete([]byte(interaction.RunID)); err != nil {
				return err
			}
		}
		out = &interaction
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"relay/internal/types"
)

type bboltRunStore struct {
	db *bolt.DB
}

func (s *bboltRunStore) Put(ctx context.Context, run *types.Run) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return errors.New("run requires an id")
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return errors.New("runs bucket missing")
		}
		return b.Put([]byte(run.ID), raw)
	})
}

func (s *bboltRunStore) Get(ctx context.Context, id string) (*types.Run, bool, error) {
	var (
		out *types.Run
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(id))
		if len(raw) == 0 {
			return nil
		}
		var run types.Run
		if err := json.Unmarshal(raw, &run); err != nil {
			return err
		}
		out = &run
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltRunStore) List(ctx context.Context) ([]*types.Run, error) {
	out := make([]*types.Run, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			out = append(out, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"relay/internal/types"
)

type bboltDeviceStore struct {
	db *bolt.DB
}

func (s *bboltDeviceStore) Put(ctx context.Context, device *types.Device) (*types.Device, error) {
	if device == nil || strings.TrimSpace(device.Token) == "" {
		return nil, errors.New("device requires a token")
	}
	normalized := *device
	normalized.Token = strings.TrimSpace(normalized.Token)
	normalized.Platform = strings.TrimSpace(normalized.Platform)
	if normalized.CreatedAt.IsZero() {
		normalized.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(&normalized)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return errors.New("devices bucket missing")
		}
		if existing := b.Get([]byte(normalized.Token)); existing != nil {
			var prev types.Device
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.CreatedAt.IsZero() {
				normalized.CreatedAt = prev.CreatedAt
				raw, err = json.Marshal(&normalized)
				if err != nil {
					return err
				}
			}
		}
		return b.Put([]byte(normalized.Token), raw)
	})
	if err != nil {
		return nil, err
	}
	out := normalized
	return &out, nil
}

func (s *bboltDeviceStore) List(ctx context.Context) ([]*types.Device, error) {
	out := make([]*types.Device, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var device types.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			out = append(out, &device)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

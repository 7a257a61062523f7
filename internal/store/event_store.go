package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"relay/internal/types"
)

type bboltEventStore struct {
	db *bolt.DB
}

func (s *bboltEventStore) Append(ctx context.Context, runID string, typ types.RunEventType, data json.RawMessage) (*types.RunEvent, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("event requires a run id")
	}
	if typ == "" {
		return nil, errors.New("event requires a type")
	}

	var out *types.RunEvent
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs == nil || runs.Get([]byte(runID)) == nil {
			return ErrRunNotFound
		}
		seqs := tx.Bucket(bucketEventSeq)
		if seqs == nil {
			return errors.New("event seq bucket missing")
		}
		seq := decodeSeq(seqs.Get([]byte(runID))) + 1

		events := tx.Bucket(bucketEvents)
		if events == nil {
			return errors.New("events bucket missing")
		}
		runEvents, err := events.CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return err
		}
		key := encodeSeq(seq)
		if runEvents.Get(key) != nil {
			// The counter and the data diverged; treat the run's log as
			// corrupt rather than overwrite history.
			return fmt.Errorf("event seq %d already written for run %s", seq, runID)
		}

		event := &types.RunEvent{
			ID:        uuid.NewString(),
			RunID:     runID,
			Seq:       seq,
			Type:      typ,
			Data:      data,
			CreatedAt: time.Now().UTC(),
		}
		raw, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := runEvents.Put(key, raw); err != nil {
			return err
		}
		if err := seqs.Put([]byte(runID), key); err != nil {
			return err
		}
		out = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltEventStore) ListSince(ctx context.Context, runID string, sinceSeq uint64) ([]*types.RunEvent, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	out := make([]*types.RunEvent, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs == nil || runs.Get([]byte(runID)) == nil {
			return ErrRunNotFound
		}
		if sinceSeq == math.MaxUint64 {
			// sinceSeq+1 would wrap to 0 and replay the whole log.
			return nil
		}
		events := tx.Bucket(bucketEvents)
		if events == nil {
			return nil
		}
		runEvents := events.Bucket([]byte(runID))
		if runEvents == nil {
			return nil
		}
		c := runEvents.Cursor()
		for k, v := c.Seek(encodeSeq(sinceSeq + 1)); k != nil; k, v = c.Next() {
			var event types.RunEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			out = append(out, &event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encodeSeq(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

func decodeSeq(raw []byte) uint64 {
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

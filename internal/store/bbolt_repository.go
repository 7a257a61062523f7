package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRuns            = []byte("runs")
	bucketEvents          = []byte("events")
	bucketEventSeq        = []byte("event_seq")
	bucketInteractions    = []byte("interactions")
	bucketInteractionOpen = []byte("interaction_open")
	bucketDevices         = []byte("devices")
)

type bboltRepository struct {
	db           *bolt.DB
	runs         RunStore
	events       EventStore
	interactions InteractionStore
	devices      DeviceStore
}

func OpenRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltRepository{
		db:           db,
		runs:         &bboltRunStore{db: db},
		events:       &bboltEventStore{db: db},
		interactions: &bboltInteractionStore{db: db},
		devices:      &bboltDeviceStore{db: db},
	}, nil
}

func (r *bboltRepository) Runs() RunStore {
	return r.runs
}

func (r *bboltRepository) Events() EventStore {
	return r.events
}

func (r *bboltRepository) Interactions() InteractionStore {
	return r.interactions
}

func (r *bboltRepository) Devices() DeviceStore {
	return r.devices
}

func (r *bboltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketRuns,
			bucketEvents,
			bucketEventSeq,
			bucketInteractions,
			bucketInteractionOpen,
			bucketDevices,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

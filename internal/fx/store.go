package fx

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const ratesBucket = "rates"

// Store persists fetched rates between runs in a bbolt file.
type Store struct {
	db *bbolt.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening rate store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ratesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating rate bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(e RateEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling rate: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ratesBucket)).Put([]byte(entryKey(e.Pair, e.Date)), data)
	})
}

// All returns every stored entry in key order.
func (s *Store) All() ([]RateEntry, error) {
	var entries []RateEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ratesBucket)).ForEach(func(k, v []byte) error {
			var e RateEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling rate %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Warm loads every stored entry into c and returns how many were loaded.
func (s *Store) Warm(c *Cache) (int, error) {
	entries, err := s.All()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		c.Put(e)
	}
	return len(entries), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/asdine/storm/v3"
	bolt "go.etcd.io/bbolt"
)

const replicaBucket = "replica"

// BoltKeyValueStore persists the local replica in a single bbolt file
// through storm's key/value API.
type BoltKeyValueStore struct {
	db    *storm.DB
	mu    sync.Mutex
	quota int64
	used  int64
}

func NewBoltKeyValueStore(path string, quota int64) (*BoltKeyValueStore, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	s := &BoltKeyValueStore{db: db, quota: quota}
	if err := s.measure(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltKeyValueStore) measure() error {
	return s.db.Bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(replicaBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var value string
			if err := json.Unmarshal(v, &value); err != nil {
				return fmt.Errorf("failed to measure local store: %w", err)
			}
			s.used += entrySize(string(k), value)
			return nil
		})
	})
}

func (s *BoltKeyValueStore) Get(key string) (string, bool, error) {
	var value string
	if err := s.db.Get(replicaBucket, key, &value); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *BoltKeyValueStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists, err := s.Get(key)
	if err != nil {
		return err
	}

	next := s.used + entrySize(key, value)
	if exists {
		next -= entrySize(key, old)
	}
	if exceedsQuota(s.quota, next) {
		return fmt.Errorf("failed to set %s: %w", key, ErrQuotaExceeded)
	}

	if err := s.db.Set(replicaBucket, key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	s.used = next
	return nil
}

func (s *BoltKeyValueStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists, err := s.Get(key)
	if err != nil || !exists {
		return err
	}

	if err := s.db.Delete(replicaBucket, key); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	s.used -= entrySize(key, old)
	return nil
}

func (s *BoltKeyValueStore) Close() error {
	return s.db.Close()
}

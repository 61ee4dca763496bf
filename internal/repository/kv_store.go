package repository

import (
	"fmt"
	"sync"
)

// KeyValueStore is the durable per-origin string store backing the local
// replica. Set fails with ErrQuotaExceeded when the write would exceed the
// configured capacity.
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

type memoryKeyValueStore struct {
	mu    sync.Mutex
	data  map[string]string
	quota int64
	used  int64
}

// NewMemoryKeyValueStore returns an in-process store. A quota <= 0 disables
// the capacity check.
func NewMemoryKeyValueStore(quota int64) KeyValueStore {
	return &memoryKeyValueStore{
		data:  make(map[string]string),
		quota: quota,
	}
}

func (s *memoryKeyValueStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memoryKeyValueStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.used + entrySize(key, value)
	if old, ok := s.data[key]; ok {
		next -= entrySize(key, old)
	}
	if exceedsQuota(s.quota, next) {
		return fmt.Errorf("failed to set %s: %w", key, ErrQuotaExceeded)
	}

	s.data[key] = value
	s.used = next
	return nil
}

func (s *memoryKeyValueStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.data[key]; ok {
		s.used -= entrySize(key, old)
		delete(s.data, key)
	}
	return nil
}

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}

func exceedsQuota(quota, used int64) bool {
	return quota > 0 && used > quota
}

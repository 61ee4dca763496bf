package service

import (
	"sync"
	"sync/atomic"

	"inkdown-notes/internal/domain"
)

// noteCache holds decrypted notes keyed by id. Readers load an immutable
// map; writers swap in a modified copy, so Clear is a single store and no
// reader sees a partially cleared cache.
//
// Writers pass the epoch observed before they decrypted anything. Clear
// advances the epoch, which turns writes racing a lock into no-ops.
type noteCache struct {
	mu    sync.Mutex
	epoch uint64
	notes atomic.Pointer[map[int64]domain.Note]
}

func newNoteCache() *noteCache {
	c := &noteCache{}
	c.Clear()
	return c
}

func (c *noteCache) Get(id int64) (*domain.Note, bool) {
	n, ok := (*c.notes.Load())[id]
	if !ok {
		return nil, false
	}
	return &n, true
}

func (c *noteCache) Len() int {
	return len(*c.notes.Load())
}

func (c *noteCache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *noteCache) Put(epoch uint64, notes ...*domain.Note) {
	c.mutate(epoch, func(m map[int64]domain.Note) {
		for _, n := range notes {
			m[n.ID] = *n
		}
	})
}

func (c *noteCache) Remove(id int64) {
	c.mutate(c.Epoch(), func(m map[int64]domain.Note) {
		delete(m, id)
	})
}

// Replace discards every entry and stores notes instead.
func (c *noteCache) Replace(epoch uint64, notes []*domain.Note) {
	next := make(map[int64]domain.Note, len(notes))
	for _, n := range notes {
		next[n.ID] = *n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch == c.epoch {
		c.notes.Store(&next)
	}
}

func (c *noteCache) Clear() {
	empty := make(map[int64]domain.Note)

	c.mu.Lock()
	c.epoch++
	c.notes.Store(&empty)
	c.mu.Unlock()
}

func (c *noteCache) mutate(epoch uint64, fn func(map[int64]domain.Note)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}
	current := *c.notes.Load()
	next := make(map[int64]domain.Note, len(current)+1)
	for id, n := range current {
		next[id] = n
	}
	fn(next)
	c.notes.Store(&next)
}

// noteLocks serialises writes per note id.
type noteLocks struct {
	mu    sync.Mutex
	locks map[int64]*noteLock
}

type noteLock struct {
	mu   sync.Mutex
	refs int
}

func newNoteLocks() *noteLocks {
	return &noteLocks{locks: make(map[int64]*noteLock)}
}

// Lock blocks until id is free and returns its release func.
func (l *noteLocks) Lock(id int64) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &noteLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

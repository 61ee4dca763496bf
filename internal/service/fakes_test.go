package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"inkdown-notes/internal/domain"
	"inkdown-notes/internal/repository"
	"inkdown-notes/pkg/envelope"
)

type countingKV struct {
	repository.KeyValueStore
	mu     sync.Mutex
	writes int
}

func (c *countingKV) Set(key, value string) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.KeyValueStore.Set(key, value)
}

func (c *countingKV) Remove(key string) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.KeyValueStore.Remove(key)
}

func (c *countingKV) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *countingKV) Reset() {
	c.mu.Lock()
	c.writes = 0
	c.mu.Unlock()
}

type remoteReplica struct {
	meta  *domain.CollectionMetadata
	notes map[int64]domain.StoredNote
}

// mockRemoteRepo is a map-backed remote replica. When err is set every
// call fails with it.
type mockRemoteRepo struct {
	mu       sync.Mutex
	replicas map[string]*remoteReplica
	settings map[string]domain.EncryptionSettings
	err      error
	writes   int
}

func newMockRemoteRepo() *mockRemoteRepo {
	return &mockRemoteRepo{
		replicas: make(map[string]*remoteReplica),
		settings: make(map[string]domain.EncryptionSettings),
	}
}

func (m *mockRemoteRepo) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockRemoteRepo) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *mockRemoteRepo) replica(userID string) *remoteReplica {
	r, ok := m.replicas[userID]
	if !ok {
		r = &remoteReplica{notes: make(map[int64]domain.StoredNote)}
		m.replicas[userID] = r
	}
	return r
}

func (m *mockRemoteRepo) SaveCollection(ctx context.Context, userID string, c *domain.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes++

	r := &remoteReplica{notes: make(map[int64]domain.StoredNote)}
	meta := copyMetadata(&c.Metadata)
	r.meta = &meta
	for _, n := range c.Notes {
		r.notes[n.ID] = *n
	}
	m.replicas[userID] = r
	return nil
}

func (m *mockRemoteRepo) LoadCollection(ctx context.Context, userID string) (*domain.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	r, ok := m.replicas[userID]
	if !ok || r.meta == nil {
		return nil, nil
	}

	c := &domain.Collection{Metadata: copyMetadata(r.meta)}
	seen := make(map[int64]bool)
	for _, id := range r.meta.NoteOrder {
		if n, ok := r.notes[id]; ok {
			cp := n
			c.Notes = append(c.Notes, &cp)
			seen[id] = true
		}
	}
	for id, n := range r.notes {
		if !seen[id] {
			cp := n
			c.Notes = append(c.Notes, &cp)
		}
	}
	return c, nil
}

func (m *mockRemoteRepo) SaveNote(ctx context.Context, userID string, note *domain.StoredNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes++
	m.replica(userID).notes[note.ID] = *note
	return nil
}

func (m *mockRemoteRepo) LoadNote(ctx context.Context, userID string, id int64) (*domain.StoredNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	n, ok := m.replica(userID).notes[id]
	if !ok {
		return nil, fmt.Errorf("failed to load note: %w", repository.ErrNotFound)
	}
	return &n, nil
}

func (m *mockRemoteRepo) DeleteNote(ctx context.Context, userID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes++
	delete(m.replica(userID).notes, id)
	return nil
}

func (m *mockRemoteRepo) SaveMetadata(ctx context.Context, userID string, meta *domain.CollectionMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes++
	cp := copyMetadata(meta)
	m.replica(userID).meta = &cp
	return nil
}

func (m *mockRemoteRepo) SaveSettings(ctx context.Context, userID string, settings *domain.EncryptionSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes++
	m.settings[userID] = *settings
	return nil
}

func (m *mockRemoteRepo) LoadSettings(ctx context.Context, userID string) (*domain.EncryptionSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.settings[userID]
	if !ok {
		return nil, fmt.Errorf("failed to load settings: %w", repository.ErrNotFound)
	}
	return &s, nil
}

func (m *mockRemoteRepo) DeleteSettings(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes++
	delete(m.settings, userID)
	return nil
}

func (m *mockRemoteRepo) storedNote(userID string, id int64) (domain.StoredNote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.replica(userID).notes[id]
	return n, ok
}

func copyMetadata(meta *domain.CollectionMetadata) domain.CollectionMetadata {
	cp := domain.CollectionMetadata{NoteOrder: append([]int64{}, meta.NoteOrder...)}
	if meta.ActiveNoteID != nil {
		active := *meta.ActiveNoteID
		cp.ActiveNoteID = &active
	}
	return cp
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type testEngine struct {
	kv     *countingKV
	local  repository.LocalRepository
	remote *mockRemoteRepo
	crypto *EncryptionService
	events *eventRecorder
	sync   *SyncService
}

var testUser = &domain.User{ID: "user-1", Email: "writer@example.com"}

// newTestEngine builds an engine over in-memory replicas. seed runs against
// the local replica before the engine reads its persisted state.
func newTestEngine(t *testing.T, seed func(local repository.LocalRepository)) *testEngine {
	t.Helper()

	kv := &countingKV{KeyValueStore: repository.NewMemoryKeyValueStore(0)}
	local := repository.NewLocalRepository(kv)
	if seed != nil {
		seed(local)
	}

	e := &testEngine{
		kv:     kv,
		local:  local,
		remote: newMockRemoteRepo(),
		crypto: NewEncryptionService(envelope.DefaultIterations, nil),
		events: &eventRecorder{},
	}
	e.sync = NewSyncService(local, e.remote, e.crypto, e.events, nil)
	return e
}

func storedNotes(notes ...domain.Note) []*domain.StoredNote {
	out := make([]*domain.StoredNote, 0, len(notes))
	for _, n := range notes {
		out = append(out, &domain.StoredNote{ID: n.ID, Title: n.Title, Content: n.Content})
	}
	return out
}

func collectionOf(notes ...domain.Note) *domain.Collection {
	c := &domain.Collection{Notes: storedNotes(notes...)}
	c.Metadata.NoteOrder = []int64{}
	for _, n := range notes {
		c.Metadata.NoteOrder = append(c.Metadata.NoteOrder, n.ID)
	}
	return c
}

func seedLocal(notes ...domain.Note) func(repository.LocalRepository) {
	return func(local repository.LocalRepository) {
		if err := local.ReplaceCollection(collectionOf(notes...)); err != nil {
			panic(err)
		}
	}
}

func remoteMode(local repository.LocalRepository) {
	if err := local.SetStorageMode(domain.StorageRemote); err != nil {
		panic(err)
	}
}

func combine(seeds ...func(repository.LocalRepository)) func(repository.LocalRepository) {
	return func(local repository.LocalRepository) {
		for _, seed := range seeds {
			seed(local)
		}
	}
}

// faultyKV fails Set or Remove for one key and passes everything else
// through.
type faultyKV struct {
	repository.KeyValueStore
	failSet    string
	failRemove string
}

func (f *faultyKV) Set(key, value string) error {
	if key == f.failSet {
		return fmt.Errorf("failed to set %s: %w", key, repository.ErrQuotaExceeded)
	}
	return f.KeyValueStore.Set(key, value)
}

func (f *faultyKV) Remove(key string) error {
	if key == f.failRemove {
		return fmt.Errorf("failed to remove %s: store is read-only", key)
	}
	return f.KeyValueStore.Remove(key)
}

// hookedRemote runs onLoadSettings before each settings lookup, which is
// the first remote call made on sign-in.
type hookedRemote struct {
	*mockRemoteRepo
	onLoadSettings func()
}

func (h *hookedRemote) LoadSettings(ctx context.Context, userID string) (*domain.EncryptionSettings, error) {
	if h.onLoadSettings != nil {
		h.onLoadSettings()
	}
	return h.mockRemoteRepo.LoadSettings(ctx, userID)
}

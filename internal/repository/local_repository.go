package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"inkdown-notes/internal/domain"
)

const (
	keyMetadata    = "notes_metadata"
	keyNotePrefix  = "note_"
	keySettings    = "encryption_settings"
	keyLastSync    = "last_sync_time"
	keyStorageType = "storage_type"
)

// LocalRepository is the typed view of the on-device replica.
type LocalRepository interface {
	LoadMetadata() (*domain.CollectionMetadata, error)
	SaveMetadata(meta *domain.CollectionMetadata) error
	LoadNote(id int64) (*domain.StoredNote, error)
	SaveNote(note *domain.StoredNote) error
	DeleteNote(id int64) error
	LoadCollection() (*domain.Collection, error)
	ReplaceCollection(c *domain.Collection) error

	LoadSettings() (*domain.EncryptionSettings, error)
	SaveSettings(settings *domain.EncryptionSettings) error
	DeleteSettings() error

	LastSyncTime() (*time.Time, error)
	SetLastSyncTime(t time.Time) error
	StorageMode() (domain.StorageMode, error)
	SetStorageMode(mode domain.StorageMode) error
}

type localRepository struct {
	kv KeyValueStore
}

func NewLocalRepository(kv KeyValueStore) LocalRepository {
	return &localRepository{kv: kv}
}

func noteKey(id int64) string {
	return keyNotePrefix + strconv.FormatInt(id, 10)
}

func (r *localRepository) getJSON(key string, v interface{}) (bool, error) {
	raw, ok, err := r.kv.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (r *localRepository) setJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return r.kv.Set(key, string(data))
}

func (r *localRepository) LoadMetadata() (*domain.CollectionMetadata, error) {
	meta := &domain.CollectionMetadata{}
	if _, err := r.getJSON(keyMetadata, meta); err != nil {
		return nil, err
	}
	if meta.NoteOrder == nil {
		meta.NoteOrder = []int64{}
	}
	return meta, nil
}

func (r *localRepository) SaveMetadata(meta *domain.CollectionMetadata) error {
	return r.setJSON(keyMetadata, meta)
}

func (r *localRepository) LoadNote(id int64) (*domain.StoredNote, error) {
	var note domain.StoredNote
	ok, err := r.getJSON(noteKey(id), &note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("failed to find note %d: %w", id, ErrNotFound)
	}
	return &note, nil
}

func (r *localRepository) SaveNote(note *domain.StoredNote) error {
	return r.setJSON(noteKey(note.ID), note)
}

func (r *localRepository) DeleteNote(id int64) error {
	return r.kv.Remove(noteKey(id))
}

// LoadCollection reads every note listed in the metadata order. Notes the
// order references but the store lacks are skipped.
func (r *localRepository) LoadCollection() (*domain.Collection, error) {
	meta, err := r.LoadMetadata()
	if err != nil {
		return nil, err
	}

	notes := make([]*domain.StoredNote, 0, len(meta.NoteOrder))
	for _, id := range meta.NoteOrder {
		note, err := r.LoadNote(id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		notes = append(notes, note)
	}

	return &domain.Collection{Metadata: *meta, Notes: notes}, nil
}

// ReplaceCollection overwrites the replica with c, removing notes that c
// does not contain. Metadata is written last so a partial failure leaves
// the previous index pointing at readable notes.
func (r *localRepository) ReplaceCollection(c *domain.Collection) error {
	previous, err := r.LoadMetadata()
	if err != nil {
		return err
	}

	keep := make(map[int64]bool, len(c.Notes))
	for _, note := range c.Notes {
		if err := r.SaveNote(note); err != nil {
			return err
		}
		keep[note.ID] = true
	}

	if err := r.SaveMetadata(&c.Metadata); err != nil {
		return err
	}

	for _, id := range previous.NoteOrder {
		if !keep[id] {
			if err := r.DeleteNote(id); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *localRepository) LoadSettings() (*domain.EncryptionSettings, error) {
	var settings domain.EncryptionSettings
	ok, err := r.getJSON(keySettings, &settings)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("failed to load encryption settings: %w", ErrNotFound)
	}
	return &settings, nil
}

func (r *localRepository) SaveSettings(settings *domain.EncryptionSettings) error {
	return r.setJSON(keySettings, settings)
}

func (r *localRepository) DeleteSettings() error {
	return r.kv.Remove(keySettings)
}

func (r *localRepository) LastSyncTime() (*time.Time, error) {
	var t time.Time
	ok, err := r.getJSON(keyLastSync, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (r *localRepository) SetLastSyncTime(t time.Time) error {
	return r.setJSON(keyLastSync, t)
}

func (r *localRepository) StorageMode() (domain.StorageMode, error) {
	raw, ok, err := r.kv.Get(keyStorageType)
	if err != nil {
		return "", err
	}
	mode := domain.StorageMode(raw)
	if !ok || !mode.Valid() {
		return domain.StorageLocal, nil
	}
	return mode, nil
}

func (r *localRepository) SetStorageMode(mode domain.StorageMode) error {
	return r.kv.Set(keyStorageType, string(mode))
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"inkdown-notes/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// RemoteRepository is the user-scoped document store holding the remote
// replica. Every error it returns wraps one of the remote sentinels or
// ErrNotFound.
type RemoteRepository interface {
	SaveCollection(ctx context.Context, userID string, c *domain.Collection) error
	// LoadCollection returns nil, nil when the user has never synced.
	LoadCollection(ctx context.Context, userID string) (*domain.Collection, error)
	SaveNote(ctx context.Context, userID string, note *domain.StoredNote) error
	LoadNote(ctx context.Context, userID string, id int64) (*domain.StoredNote, error)
	DeleteNote(ctx context.Context, userID string, id int64) error
	SaveMetadata(ctx context.Context, userID string, meta *domain.CollectionMetadata) error

	SaveSettings(ctx context.Context, userID string, settings *domain.EncryptionSettings) error
	LoadSettings(ctx context.Context, userID string) (*domain.EncryptionSettings, error)
	DeleteSettings(ctx context.Context, userID string) error
}

const (
	docTypeMetadata   = "notes_metadata"
	docTypeNote       = "note"
	docTypeEncryption = "encryption_settings"
)

type metadataDoc struct {
	ID           string    `json:"_id"`
	Rev          string    `json:"_rev,omitempty"`
	DocType      string    `json:"doc_type"`
	UserID       string    `json:"user_id"`
	ActiveNoteID *int64    `json:"active_note_id"`
	NoteOrder    []int64   `json:"note_order"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type noteDoc struct {
	ID        string    `json:"_id"`
	Rev       string    `json:"_rev,omitempty"`
	DocType   string    `json:"doc_type"`
	UserID    string    `json:"user_id"`
	NoteID    int64     `json:"note_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Encrypted bool      `json:"encrypted,omitempty"`
	Version   int       `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type settingsDoc struct {
	ID       string                    `json:"_id"`
	Rev      string                    `json:"_rev,omitempty"`
	DocType  string                    `json:"doc_type"`
	UserID   string                    `json:"user_id"`
	Settings domain.EncryptionSettings `json:"settings"`
}

type revDoc struct {
	Rev string `json:"_rev"`
}

type couchRemoteRepository struct {
	client  *kivik.Client
	dbName  string
	db      *kivik.DB
	timeout time.Duration

	mu    sync.Mutex
	ready bool
}

// NewCouchRemoteRepository stores each user's replica as one metadata
// document, one document per note and one settings document. A positive
// timeout bounds every call. The database is created on first use, so an
// unreachable server only fails the calls made while it is down.
func NewCouchRemoteRepository(client *kivik.Client, dbName string, timeout time.Duration) RemoteRepository {
	return &couchRemoteRepository{
		client:  client,
		dbName:  dbName,
		db:      client.DB(dbName),
		timeout: timeout,
	}
}

// EnsureDatabase creates dbName when it does not exist yet.
func EnsureDatabase(ctx context.Context, client *kivik.Client, dbName string) error {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return classify("check database", err)
	}
	if exists {
		return nil
	}
	if err := client.CreateDB(ctx, dbName); err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
		return classify("create database", err)
	}
	return nil
}

func (r *couchRemoteRepository) ensureDatabase(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return nil
	}
	if err := EnsureDatabase(ctx, r.client, r.dbName); err != nil {
		return err
	}
	r.ready = true
	return nil
}

func metadataDocID(userID string) string {
	return fmt.Sprintf("meta:%s", userID)
}

func noteDocPrefix(userID string) string {
	return fmt.Sprintf("note:%s:", userID)
}

func noteDocID(userID string, id int64) string {
	return fmt.Sprintf("%s%d", noteDocPrefix(userID), id)
}

func settingsDocID(userID string) string {
	return fmt.Sprintf("encryption:%s", userID)
}

// classify maps a kivik failure onto the remote error taxonomy.
func classify(op string, err error) error {
	var sentinel error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		sentinel = ErrUnavailable
	default:
		switch kivik.HTTPStatus(err) {
		case http.StatusUnauthorized:
			sentinel = ErrUnauthenticated
		case http.StatusForbidden:
			sentinel = ErrPermissionDenied
		case http.StatusNotFound:
			sentinel = ErrNotFound
		case http.StatusConflict:
			sentinel = ErrRevisionConflict
		case http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage:
			sentinel = ErrRemoteQuota
		default:
			sentinel = ErrUnavailable
		}
	}
	return fmt.Errorf("failed to %s: %w: %w", op, sentinel, err)
}

// begin bounds ctx by the call timeout and makes sure the database exists.
func (r *couchRemoteRepository) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	var cancel context.CancelFunc
	if r.timeout <= 0 {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	if err := r.ensureDatabase(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, cancel, nil
}

// currentRev returns the live revision of docID, or "" if it does not exist.
func (r *couchRemoteRepository) currentRev(ctx context.Context, docID string) (string, error) {
	var doc revDoc
	if err := r.db.Get(ctx, docID).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return "", nil
		}
		return "", classify("read revision", err)
	}
	return doc.Rev, nil
}

func (r *couchRemoteRepository) SaveCollection(ctx context.Context, userID string, c *domain.Collection) error {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	existing, err := r.listNotes(ctx, userID)
	if err != nil {
		return err
	}

	keep := make(map[int64]bool, len(c.Notes))
	for _, note := range c.Notes {
		if err := r.putNote(ctx, userID, note); err != nil {
			return err
		}
		keep[note.ID] = true
	}

	if err := r.putMetadata(ctx, userID, &c.Metadata); err != nil {
		return err
	}

	for _, doc := range existing {
		if keep[doc.NoteID] {
			continue
		}
		if _, err := r.db.Delete(ctx, doc.ID, doc.Rev); err != nil && kivik.HTTPStatus(err) != http.StatusNotFound {
			return classify("prune note", err)
		}
	}

	return nil
}

func (r *couchRemoteRepository) LoadCollection(ctx context.Context, userID string) (*domain.Collection, error) {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var meta metadataDoc
	if err := r.db.Get(ctx, metadataDocID(userID)).ScanDoc(&meta); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, classify("load collection", err)
	}

	docs, err := r.listNotes(ctx, userID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*noteDoc, len(docs))
	for _, doc := range docs {
		byID[doc.NoteID] = doc
	}

	notes := make([]*domain.StoredNote, 0, len(docs))
	seen := make(map[int64]bool, len(docs))
	for _, id := range meta.NoteOrder {
		if doc, ok := byID[id]; ok && !seen[id] {
			notes = append(notes, docToNote(doc))
			seen[id] = true
		}
	}
	for _, doc := range docs {
		if !seen[doc.NoteID] {
			notes = append(notes, docToNote(doc))
		}
	}

	order := meta.NoteOrder
	if order == nil {
		order = []int64{}
	}

	return &domain.Collection{
		Metadata: domain.CollectionMetadata{ActiveNoteID: meta.ActiveNoteID, NoteOrder: order},
		Notes:    notes,
	}, nil
}

// listNotes reads every note document of userID from the primary index.
// Note ids share the "note:<user>:" prefix, so one _all_docs range covers
// them with no result cap.
func (r *couchRemoteRepository) listNotes(ctx context.Context, userID string) ([]*noteDoc, error) {
	prefix := noteDocPrefix(userID)
	rows := r.db.AllDocs(ctx, kivik.IncludeDocs(), kivik.Params(map[string]interface{}{
		"startkey": prefix,
		"endkey":   prefix + "\ufff0",
	}))
	defer rows.Close()

	var docs []*noteDoc
	for rows.Next() {
		var doc noteDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, classify("decode note", err)
		}
		if doc.DocType != docTypeNote || doc.UserID != userID {
			continue
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list notes", err)
	}

	return docs, nil
}

func (r *couchRemoteRepository) SaveNote(ctx context.Context, userID string, note *domain.StoredNote) error {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return r.putNote(ctx, userID, note)
}

func (r *couchRemoteRepository) putNote(ctx context.Context, userID string, note *domain.StoredNote) error {
	docID := noteDocID(userID, note.ID)
	rev, err := r.currentRev(ctx, docID)
	if err != nil {
		return err
	}

	doc := noteDoc{
		ID:        docID,
		Rev:       rev,
		DocType:   docTypeNote,
		UserID:    userID,
		NoteID:    note.ID,
		Title:     note.Title,
		Content:   note.Content,
		Encrypted: note.Encrypted,
		Version:   note.Version,
		UpdatedAt: note.UpdatedAt,
	}

	if _, err := r.db.Put(ctx, docID, doc); err != nil {
		return classify("save note", err)
	}
	return nil
}

func (r *couchRemoteRepository) LoadNote(ctx context.Context, userID string, id int64) (*domain.StoredNote, error) {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var doc noteDoc
	if err := r.db.Get(ctx, noteDocID(userID, id)).ScanDoc(&doc); err != nil {
		return nil, classify("load note", err)
	}
	return docToNote(&doc), nil
}

func (r *couchRemoteRepository) DeleteNote(ctx context.Context, userID string, id int64) error {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	docID := noteDocID(userID, id)
	rev, err := r.currentRev(ctx, docID)
	if err != nil || rev == "" {
		return err
	}

	if _, err := r.db.Delete(ctx, docID, rev); err != nil {
		return classify("delete note", err)
	}
	return nil
}

func (r *couchRemoteRepository) SaveMetadata(ctx context.Context, userID string, meta *domain.CollectionMetadata) error {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return r.putMetadata(ctx, userID, meta)
}

func (r *couchRemoteRepository) putMetadata(ctx context.Context, userID string, meta *domain.CollectionMetadata) error {
	docID := metadataDocID(userID)
	rev, err := r.currentRev(ctx, docID)
	if err != nil {
		return err
	}

	doc := metadataDoc{
		ID:           docID,
		Rev:          rev,
		DocType:      docTypeMetadata,
		UserID:       userID,
		ActiveNoteID: meta.ActiveNoteID,
		NoteOrder:    meta.NoteOrder,
		UpdatedAt:    time.Now().UTC(),
	}

	if _, err := r.db.Put(ctx, docID, doc); err != nil {
		return classify("save metadata", err)
	}
	return nil
}

func (r *couchRemoteRepository) SaveSettings(ctx context.Context, userID string, settings *domain.EncryptionSettings) error {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	docID := settingsDocID(userID)
	rev, err := r.currentRev(ctx, docID)
	if err != nil {
		return err
	}

	doc := settingsDoc{
		ID:       docID,
		Rev:      rev,
		DocType:  docTypeEncryption,
		UserID:   userID,
		Settings: *settings,
	}

	if _, err := r.db.Put(ctx, docID, doc); err != nil {
		return classify("save encryption settings", err)
	}
	return nil
}

func (r *couchRemoteRepository) LoadSettings(ctx context.Context, userID string) (*domain.EncryptionSettings, error) {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var doc settingsDoc
	if err := r.db.Get(ctx, settingsDocID(userID)).ScanDoc(&doc); err != nil {
		return nil, classify("load encryption settings", err)
	}
	return &doc.Settings, nil
}

func (r *couchRemoteRepository) DeleteSettings(ctx context.Context, userID string) error {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	docID := settingsDocID(userID)
	rev, err := r.currentRev(ctx, docID)
	if err != nil || rev == "" {
		return err
	}

	if _, err := r.db.Delete(ctx, docID, rev); err != nil {
		return classify("delete encryption settings", err)
	}
	return nil
}

func docToNote(doc *noteDoc) *domain.StoredNote {
	return &domain.StoredNote{
		ID:        doc.NoteID,
		Title:     doc.Title,
		Content:   doc.Content,
		Encrypted: doc.Encrypted,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}
}

package service

import (
	"encoding/base64"
	"sync"
	"time"

	"inkdown-notes/internal/domain"
	"inkdown-notes/pkg/envelope"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	MinPasswordLength = 8

	// LockedPlaceholder replaces encrypted fields while no key is loaded.
	LockedPlaceholder = "[Encrypted - unlock to view]"
	// UnreadablePlaceholder replaces fields whose envelope failed to open.
	UnreadablePlaceholder = "[Unable to decrypt]"

	verifierPlaintext = "inkdown:verifier"
)

// EncryptionService holds the encryption settings and, while unlocked, the
// derived key. The key never leaves memory.
type EncryptionService struct {
	iterations int
	log        *zap.Logger

	mu       sync.RWMutex
	settings *domain.EncryptionSettings
	key      []byte
	onLock   []func()
}

func NewEncryptionService(iterations int, log *zap.Logger) *EncryptionService {
	if log == nil {
		log = zap.NewNop()
	}
	if iterations < envelope.DefaultIterations {
		iterations = envelope.DefaultIterations
	}
	return &EncryptionService{
		iterations: iterations,
		log:        log,
	}
}

// OnLock registers fn to run whenever the key is dropped.
func (s *EncryptionService) OnLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLock = append(s.onLock, fn)
}

func (s *EncryptionService) State() domain.EncryptionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.settings == nil || !s.settings.Enabled:
		return domain.EncryptionDisabled
	case s.key == nil:
		return domain.EncryptionLocked
	default:
		return domain.EncryptionUnlocked
	}
}

func (s *EncryptionService) Enabled() bool {
	return s.State() != domain.EncryptionDisabled
}

func (s *EncryptionService) Unlocked() bool {
	return s.State() == domain.EncryptionUnlocked
}

// Settings returns a copy of the active settings, or nil when disabled.
func (s *EncryptionService) Settings() *domain.EncryptionSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil
	}
	cp := *s.settings
	return &cp
}

// Adopt installs settings discovered in a store. A key derived for other
// settings is dropped; nil disables encryption.
func (s *EncryptionService) Adopt(settings *domain.EncryptionSettings) {
	s.mu.Lock()
	if settings != nil && s.settings != nil && settings.Salt == s.settings.Salt {
		cp := *settings
		s.settings = &cp
		s.mu.Unlock()
		return
	}
	hadKey := s.key != nil
	if settings == nil {
		s.settings = nil
	} else {
		cp := *settings
		s.settings = &cp
	}
	s.key = nil
	listeners := s.onLock
	s.mu.Unlock()

	if hadKey {
		fire(listeners)
	}
}

// NewSettings creates fresh settings and the key bound to them. Nothing is
// committed until Commit.
func (s *EncryptionService) NewSettings(password string) (*domain.EncryptionSettings, []byte, error) {
	if len(password) < MinPasswordLength {
		return nil, nil, ErrPasswordTooShort
	}

	salt, err := envelope.NewSalt()
	if err != nil {
		return nil, nil, err
	}

	key := envelope.DeriveKey(password, salt, s.iterations)
	verifier, err := envelope.Seal(key, verifierPlaintext)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create verifier")
	}

	settings := &domain.EncryptionSettings{
		Enabled:    true,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Algorithm:  envelope.Algorithm,
		KDF:        envelope.KDF,
		Iterations: s.iterations,
		Version:    envelope.Version,
		Verifier:   verifier,
		CreatedAt:  time.Now().UTC(),
	}
	return settings, key, nil
}

// DeriveKey re-derives the key for password under settings.
func (s *EncryptionService) DeriveKey(password string, settings *domain.EncryptionSettings) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(settings.Salt)
	if err != nil || len(salt) != envelope.SaltSize {
		return nil, errors.New("encryption settings carry an invalid salt")
	}
	return envelope.DeriveKey(password, salt, settings.Iterations), nil
}

// CheckVerifier reports whether settings carry a verifier, and if so
// whether key opens it.
func CheckVerifier(key []byte, settings *domain.EncryptionSettings) (bool, error) {
	if settings.Verifier == "" {
		return false, nil
	}
	plaintext, err := envelope.Open(key, settings.Verifier)
	if err != nil || plaintext != verifierPlaintext {
		return true, ErrWrongPassword
	}
	return true, nil
}

// Commit installs settings together with a key verified against them.
func (s *EncryptionService) Commit(settings *domain.EncryptionSettings, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *settings
	s.settings = &cp
	s.key = key
	s.log.Info("encryption unlocked", zap.String("algorithm", settings.Algorithm))
}

// Lock drops the key and notifies listeners. Settings stay in place.
func (s *EncryptionService) Lock() {
	s.mu.Lock()
	hadKey := s.key != nil
	s.key = nil
	listeners := s.onLock
	s.mu.Unlock()

	if hadKey {
		s.log.Info("encryption locked")
	}
	fire(listeners)
}

func fire(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}

func (s *EncryptionService) currentKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// SealNote produces the persisted form of note. With encryption enabled
// both fields are sealed; while locked it refuses with ErrLocked rather than
// persist plaintext.
func (s *EncryptionService) SealNote(note *domain.Note) (*domain.StoredNote, error) {
	stored := &domain.StoredNote{
		ID:        note.ID,
		Title:     note.Title,
		Content:   note.Content,
		UpdatedAt: time.Now().UTC(),
	}

	switch s.State() {
	case domain.EncryptionDisabled:
		return stored, nil
	case domain.EncryptionLocked:
		return nil, withHint(ErrLocked)
	}

	if err := s.sealFields(stored, true); err != nil {
		return nil, err
	}
	return stored, nil
}

// EnsureSealed seals any plaintext field of stored in place. It is a no-op
// when encryption is disabled.
func (s *EncryptionService) EnsureSealed(stored *domain.StoredNote) error {
	switch s.State() {
	case domain.EncryptionDisabled:
		return nil
	case domain.EncryptionLocked:
		if envelope.IsSealed(stored.Title) && envelope.IsSealed(stored.Content) {
			return nil
		}
		return withHint(ErrLocked)
	}
	return s.sealFields(stored, false)
}

// sealFields encrypts both fields. Unless all is set, fields already in
// envelope form are left alone.
func (s *EncryptionService) sealFields(stored *domain.StoredNote, all bool) error {
	key := s.currentKey()
	if key == nil {
		return withHint(ErrLocked)
	}

	for _, field := range []*string{&stored.Title, &stored.Content} {
		if !all && envelope.IsSealed(*field) {
			continue
		}
		sealed, err := envelope.Seal(key, *field)
		if err != nil {
			return errors.Wrapf(err, "failed to encrypt note %d", stored.ID)
		}
		*field = sealed
	}
	stored.Encrypted = true
	stored.Version = envelope.Version
	return nil
}

// OpenStored returns a plaintext copy of stored. It fails if any field is
// sealed and cannot be opened with the current key.
func (s *EncryptionService) OpenStored(stored *domain.StoredNote) (*domain.StoredNote, error) {
	out := *stored
	for _, field := range []*string{&out.Title, &out.Content} {
		if !envelope.IsSealed(*field) {
			continue
		}
		plaintext, err := s.openField(*field)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decrypt note %d", stored.ID)
		}
		*field = plaintext
	}
	out.Encrypted = false
	out.Version = 0
	return &out, nil
}

func (s *EncryptionService) openField(field string) (string, error) {
	key := s.currentKey()
	if key == nil {
		return "", withHint(ErrLocked)
	}
	return envelope.Open(key, field)
}

// Reveal renders stored for the caller. Sealed fields become plaintext when
// unlocked, LockedPlaceholder while locked, and UnreadablePlaceholder with a
// per-field error when they fail to open. The stored value is never touched.
func (s *EncryptionService) Reveal(stored *domain.StoredNote) *domain.NoteView {
	view := &domain.NoteView{Note: domain.Note{ID: stored.ID}}

	reveal := func(name, value string) string {
		if !envelope.IsSealed(value) {
			return value
		}
		plaintext, err := s.openField(value)
		switch {
		case err == nil:
			return plaintext
		case errors.Is(err, ErrLocked):
			view.Locked = true
			return LockedPlaceholder
		default:
			if view.FieldErrors == nil {
				view.FieldErrors = make(map[string]string)
			}
			view.FieldErrors[name] = UserMessage(err)
			s.log.Warn("field failed to decrypt", zap.Int64("note_id", stored.ID), zap.String("field", name), zap.Error(err))
			return UnreadablePlaceholder
		}
	}

	view.Title = reveal("title", stored.Title)
	view.Content = reveal("content", stored.Content)
	return view
}

// snapshot reduces stored to its comparable form.
func (s *EncryptionService) snapshot(stored *domain.StoredNote) snapshotNote {
	view := s.Reveal(stored)
	if view.Clean() {
		return snapshotNote{Note: view.Note}
	}
	return snapshotNote{
		Note:   domain.Note{ID: stored.ID, Title: stored.Title, Content: stored.Content},
		Opaque: true,
	}
}

func (s *EncryptionService) snapshots(notes []*domain.StoredNote) []snapshotNote {
	out := make([]snapshotNote, 0, len(notes))
	for _, n := range notes {
		out = append(out, s.snapshot(n))
	}
	return out
}

package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"inkdown-notes/internal/domain"
	"inkdown-notes/internal/repository"
	"inkdown-notes/pkg/envelope"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher pushes engine events to the UI layer.
type Publisher interface {
	Publish(event domain.Event)
}

// SyncService decides which replica is authoritative for every read and
// write, reconciles the two replicas and applies the encryption transform
// around every persisted field.
type SyncService struct {
	local     repository.LocalRepository
	remote    repository.RemoteRepository
	crypto    *EncryptionService
	publisher Publisher
	validate  *validator.Validate
	log       *zap.Logger

	mu          sync.Mutex
	mode        domain.StorageMode
	user        *domain.User
	syncEnabled bool
	retrySync   bool
	conflict    *domain.Conflict

	// reconcileMu is held exclusively while the replicas are compared and
	// rewritten. Every other replica write holds it shared.
	reconcileMu sync.RWMutex

	cache  *noteCache
	writes *noteLocks
	metaMu sync.Mutex
}

func NewSyncService(
	local repository.LocalRepository,
	remote repository.RemoteRepository,
	crypto *EncryptionService,
	publisher Publisher,
	log *zap.Logger,
) *SyncService {
	if log == nil {
		log = zap.NewNop()
	}

	s := &SyncService{
		local:     local,
		remote:    remote,
		crypto:    crypto,
		publisher: publisher,
		validate:  validator.New(),
		log:       log,
		mode:      domain.StorageLocal,
		cache:     newNoteCache(),
		writes:    newNoteLocks(),
	}

	if mode, err := local.StorageMode(); err != nil {
		log.Warn("failed to read storage mode, using local", zap.Error(err))
	} else {
		s.mode = mode
	}

	settings, err := local.LoadSettings()
	switch {
	case err == nil:
		crypto.Adopt(settings)
	case !errors.Is(err, repository.ErrNotFound):
		log.Warn("failed to read encryption settings", zap.Error(err))
	}

	crypto.OnLock(s.cache.Clear)
	return s
}

type replicaState struct {
	mode        domain.StorageMode
	user        *domain.User
	syncEnabled bool
	conflict    *domain.Conflict
}

func (s *SyncService) state() replicaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replicaState{
		mode:        s.mode,
		user:        s.user,
		syncEnabled: s.syncEnabled,
		conflict:    s.conflict,
	}
}

// remoteSkip reports why the remote replica must not be touched, if it must not.
func (st replicaState) remoteSkip() (domain.TargetResult, bool) {
	switch {
	case st.mode != domain.StorageRemote:
		return domain.SkippedTarget("local storage mode", nil), true
	case st.user == nil:
		return domain.SkippedTarget("not signed in", nil), true
	case st.conflict != nil:
		return domain.SkippedTarget("sync conflict pending", &ConflictError{Conflict: st.conflict}), true
	case !st.syncEnabled:
		return domain.SkippedTarget("sync disabled", nil), true
	}
	return domain.TargetResult{}, false
}

func (s *SyncService) currentUser() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// PendingConflict returns the conflict awaiting resolution, if any.
func (s *SyncService) PendingConflict() *domain.Conflict {
	return s.state().conflict
}

func (s *SyncService) Status() *domain.Status {
	st := s.state()

	status := &domain.Status{
		StorageMode:       st.mode,
		SyncEnabled:       st.syncEnabled,
		Authenticated:     st.user != nil,
		EncryptionEnabled: s.crypto.Enabled(),
		Unlocked:          s.crypto.Unlocked(),
	}
	if st.conflict != nil {
		status.PendingConflictID = st.conflict.ID
	}

	last, err := s.local.LastSyncTime()
	if err != nil {
		s.log.Warn("failed to read last sync time", zap.Error(err))
	}
	status.LastSyncTime = last

	return status
}

// Load returns the reconciled plaintext collection. Remote failures fall
// back to the local replica and surface as warnings.
func (s *SyncService) Load(ctx context.Context) *domain.CollectionView {
	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	st := s.state()
	epoch := s.cache.Epoch()
	source := domain.StorageLocal
	var warnings []string

	var coll *domain.Collection
	if _, skip := st.remoteSkip(); !skip {
		remote, err := s.remote.LoadCollection(ctx, st.user.ID)
		switch {
		case err != nil:
			s.log.Warn("remote load failed, falling back to local replica", zap.Error(err))
			warnings = append(warnings, UserMessage(err))
		case remote != nil:
			coll = remote
			source = domain.StorageRemote
			normalizeMetadata(coll)
			if err := s.local.ReplaceCollection(coll); err != nil {
				s.log.Warn("failed to mirror remote collection locally", zap.Error(err))
			}
		}
	}

	if coll == nil {
		local, err := s.local.LoadCollection()
		if err != nil {
			s.log.Error("local load failed", zap.Error(err))
			warnings = append(warnings, UserMessage(err))
			local = &domain.Collection{}
		}
		coll = local
	}

	view := s.buildView(epoch, coll, source)
	view.Warnings = warnings
	return view
}

// buildView reveals coll and refills the cache with its clean notes.
func (s *SyncService) buildView(epoch uint64, coll *domain.Collection, source domain.StorageMode) *domain.CollectionView {
	normalizeMetadata(coll)

	view := &domain.CollectionView{
		Metadata: coll.Metadata,
		Notes:    make([]*domain.NoteView, 0, len(coll.Notes)),
		Source:   source,
		LoadedAt: time.Now().UTC(),
	}

	clean := make([]*domain.Note, 0, len(coll.Notes))
	for _, stored := range coll.Notes {
		nv := s.crypto.Reveal(stored)
		view.Notes = append(view.Notes, nv)
		if nv.Clean() {
			note := nv.Note
			clean = append(clean, &note)
		}
	}
	s.cache.Replace(epoch, clean)

	return view
}

// LoadNote serves a single note, from the cache when possible.
func (s *SyncService) LoadNote(ctx context.Context, id int64) (*domain.NoteView, error) {
	if note, ok := s.cache.Get(id); ok {
		return &domain.NoteView{Note: *note}, nil
	}

	st := s.state()
	epoch := s.cache.Epoch()

	var stored *domain.StoredNote
	if _, skip := st.remoteSkip(); !skip {
		remote, err := s.remote.LoadNote(ctx, st.user.ID, id)
		if err != nil {
			s.log.Warn("remote note load failed, using local replica", zap.Int64("note_id", id), zap.Error(err))
		} else {
			stored = remote
		}
	}

	if stored == nil {
		local, err := s.local.LoadNote(id)
		if err != nil {
			return nil, errors.Wrapf(withHint(err), "failed to load note %d", id)
		}
		stored = local
	}

	view := s.crypto.Reveal(stored)
	if view.Clean() {
		note := view.Note
		s.cache.Put(epoch, &note)
	}
	return view, nil
}

func (s *SyncService) targetResult(target string, id int64, err error) domain.TargetResult {
	if err == nil {
		return domain.NewTargetResult(nil, "")
	}
	err = withHint(err)
	s.log.Warn("write failed", zap.String("target", target), zap.Int64("note_id", id), zap.Error(err))
	return domain.NewTargetResult(err, UserMessage(err))
}

// Save writes note to the local replica and, when the remote replica is
// authoritative, to the remote one. The two outcomes are independent.
func (s *SyncService) Save(ctx context.Context, note *domain.Note) (*domain.WriteOutcome, error) {
	if note == nil {
		return nil, errors.Mark(errors.New("note is nil"), ErrInvalidNote)
	}
	if err := s.validate.Struct(note); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid note"), ErrInvalidNote)
	}

	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	release := s.writes.Lock(note.ID)
	defer release()

	epoch := s.cache.Epoch()
	stored, err := s.crypto.SealNote(note)
	if err != nil {
		return nil, err
	}

	st := s.state()
	outcome := &domain.WriteOutcome{}

	var meta *domain.CollectionMetadata
	var metaChanged bool
	previous, loadErr := s.local.LoadNote(note.ID)
	localErr := s.local.SaveNote(stored)
	if localErr == nil {
		meta, metaChanged, localErr = s.appendToOrder(note.ID)
		if localErr != nil {
			s.rollbackNote(note.ID, previous, loadErr)
		}
	}
	outcome.Local = s.targetResult("local", note.ID, localErr)

	if skipped, skip := st.remoteSkip(); skip {
		outcome.Remote = skipped
	} else {
		remoteErr := s.remote.SaveNote(ctx, st.user.ID, stored)
		if remoteErr == nil && metaChanged {
			remoteErr = s.remote.SaveMetadata(ctx, st.user.ID, meta)
		}
		outcome.Remote = s.targetResult("remote", note.ID, remoteErr)
	}

	plain := *note
	s.cache.Put(epoch, &plain)
	return outcome, nil
}

// Delete removes a note from the local replica and, when authoritative, the
// remote one. The active note moves to a neighbour.
func (s *SyncService) Delete(ctx context.Context, id int64) (*domain.WriteOutcome, error) {
	if id < 1 {
		return nil, errors.Mark(errors.Newf("invalid note id %d", id), ErrInvalidNote)
	}

	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	release := s.writes.Lock(id)
	defer release()

	st := s.state()
	outcome := &domain.WriteOutcome{}

	// The record goes first so a failed removal never leaves a note that
	// is stored but missing from the order.
	var meta *domain.CollectionMetadata
	var metaChanged bool
	localErr := s.local.DeleteNote(id)
	if localErr == nil {
		meta, metaChanged, localErr = s.removeFromOrder(id)
	}
	outcome.Local = s.targetResult("local", id, localErr)

	if skipped, skip := st.remoteSkip(); skip {
		outcome.Remote = skipped
	} else {
		remoteErr := s.remote.DeleteNote(ctx, st.user.ID, id)
		if remoteErr == nil && metaChanged {
			remoteErr = s.remote.SaveMetadata(ctx, st.user.ID, meta)
		}
		outcome.Remote = s.targetResult("remote", id, remoteErr)
	}

	s.cache.Remove(id)
	return outcome, nil
}

// UpdateMetadata changes the active note and ordering. The order must be a
// permutation of the stored ids.
func (s *SyncService) UpdateMetadata(ctx context.Context, req *domain.UpdateMetadataRequest) (*domain.WriteOutcome, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid metadata"), ErrInvalidOrder)
	}

	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	coll, err := s.local.LoadCollection()
	if err != nil {
		return nil, errors.Wrap(withHint(err), "failed to read local replica")
	}

	stored := make([]int64, 0, len(coll.Notes))
	for _, n := range coll.Notes {
		stored = append(stored, n.ID)
	}
	if !isPermutation(req.NoteOrder, stored) {
		return nil, ErrInvalidOrder
	}
	if req.ActiveNoteID != nil && !containsID(req.NoteOrder, *req.ActiveNoteID) {
		return nil, errors.Wrapf(ErrInvalidOrder, "active note %d is not stored", *req.ActiveNoteID)
	}

	meta := &domain.CollectionMetadata{ActiveNoteID: req.ActiveNoteID, NoteOrder: req.NoteOrder}
	st := s.state()
	outcome := &domain.WriteOutcome{
		Local: s.targetResult("local", 0, s.local.SaveMetadata(meta)),
	}

	if skipped, skip := st.remoteSkip(); skip {
		outcome.Remote = skipped
	} else {
		outcome.Remote = s.targetResult("remote", 0, s.remote.SaveMetadata(ctx, st.user.ID, meta))
	}

	return outcome, nil
}

// rollbackNote restores the record that preceded a failed save, or removes
// the new one when the note did not exist before.
func (s *SyncService) rollbackNote(id int64, previous *domain.StoredNote, loadErr error) {
	var err error
	switch {
	case loadErr == nil:
		err = s.local.SaveNote(previous)
	case errors.Is(loadErr, repository.ErrNotFound):
		err = s.local.DeleteNote(id)
	default:
		return
	}
	if err != nil {
		s.log.Error("failed to roll back note record", zap.Int64("note_id", id), zap.Error(err))
	}
}

func (s *SyncService) appendToOrder(id int64) (*domain.CollectionMetadata, bool, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	meta, err := s.local.LoadMetadata()
	if err != nil {
		return nil, false, err
	}
	if containsID(meta.NoteOrder, id) {
		return meta, false, nil
	}

	meta.NoteOrder = append(meta.NoteOrder, id)
	if meta.ActiveNoteID == nil {
		active := id
		meta.ActiveNoteID = &active
	}
	if err := s.local.SaveMetadata(meta); err != nil {
		return nil, false, err
	}
	return meta, true, nil
}

func (s *SyncService) removeFromOrder(id int64) (*domain.CollectionMetadata, bool, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	meta, err := s.local.LoadMetadata()
	if err != nil {
		return nil, false, err
	}

	idx := -1
	for i, v := range meta.NoteOrder {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return meta, false, nil
	}

	order := make([]int64, 0, len(meta.NoteOrder)-1)
	order = append(order, meta.NoteOrder[:idx]...)
	order = append(order, meta.NoteOrder[idx+1:]...)
	meta.NoteOrder = order

	if meta.ActiveNoteID != nil && *meta.ActiveNoteID == id {
		meta.ActiveNoteID = nil
		switch {
		case idx < len(order):
			next := order[idx]
			meta.ActiveNoteID = &next
		case idx > 0:
			prev := order[idx-1]
			meta.ActiveNoteID = &prev
		}
	}

	if err := s.local.SaveMetadata(meta); err != nil {
		return nil, false, err
	}
	return meta, true, nil
}

// SetStorageMode switches the authoritative replica. Entering remote mode
// without a session records the choice and defers activation until sign-in.
func (s *SyncService) SetStorageMode(ctx context.Context, mode domain.StorageMode) (*domain.StorageModeResult, error) {
	if !mode.Valid() {
		return nil, errors.Wrapf(ErrInvalidMode, "%q", mode)
	}

	s.mu.Lock()
	prev := s.mode
	s.mode = mode
	// Entering remote mode enables sync only once Smart Sync has reconciled.
	s.syncEnabled = false
	s.retrySync = false
	if mode == domain.StorageLocal {
		s.conflict = nil
	}
	user := s.user
	s.mu.Unlock()

	s.cache.Clear()
	if err := s.local.SetStorageMode(mode); err != nil {
		s.log.Warn("failed to persist storage mode", zap.Error(err))
	}
	s.log.Info("storage mode changed", zap.String("from", string(prev)), zap.String("to", string(mode)))
	s.publishStatus()

	result := &domain.StorageModeResult{Success: true, ShouldReload: prev != mode}
	switch {
	case mode == domain.StorageLocal:
	case user == nil:
		result.Deferred = true
		result.ShouldReload = false
	default:
		synced, err := s.SmartSync(ctx)
		if err != nil {
			return nil, err
		}
		result.Sync = synced
		result.ShouldReload = result.ShouldReload || synced.Action == domain.SyncDownload
	}

	return result, nil
}

// SmartSync reconciles the two replicas by the meaningful-data decision
// table. Divergent meaningful replicas produce a pending conflict that only
// ResolveConflict completes. Sync stays disabled until the decision is made,
// so no read mirrors or write reaches the remote replica in between.
func (s *SyncService) SmartSync(ctx context.Context) (*domain.SyncResult, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	s.mu.Lock()
	switch {
	case s.mode != domain.StorageRemote:
		s.mu.Unlock()
		return &domain.SyncResult{Action: domain.SyncNone, Reason: "local storage mode"}, nil
	case s.user == nil:
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	case s.conflict != nil:
		pending := s.conflict
		s.mu.Unlock()
		return &domain.SyncResult{Action: domain.SyncConflict, Reason: "awaiting resolution", Conflict: pending}, nil
	}
	s.syncEnabled = false
	user := s.user
	s.mu.Unlock()

	result, counts, err := s.reconcile(ctx, user)

	s.mu.Lock()
	current := s.user != nil && s.user.ID == user.ID && s.mode == domain.StorageRemote
	s.retrySync = current && err != nil
	var detected *domain.Conflict
	switch {
	case err != nil || !current:
	case result.Action == domain.SyncConflict:
		detected = &domain.Conflict{
			ID:          uuid.New().String(),
			UserID:      user.ID,
			LocalNotes:  counts[0],
			RemoteNotes: counts[1],
			DetectedAt:  time.Now().UTC(),
		}
		s.conflict = detected
		result.Conflict = detected
	default:
		s.syncEnabled = true
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("smart sync failed, sync stays disabled", zap.Error(err))
		s.publishStatus()
		return nil, err
	}
	if detected != nil {
		s.log.Warn("sync conflict detected", zap.String("conflict_id", detected.ID))
		s.publish(domain.EventConflictDetected, detected)
	}

	s.log.Info("smart sync finished", zap.String("action", string(result.Action)), zap.String("reason", result.Reason))
	s.publishStatus()
	return result, nil
}

// reconcile loads both replicas, decides and applies the decision. It
// returns the local and remote note counts for conflict reporting.
func (s *SyncService) reconcile(ctx context.Context, user *domain.User) (*domain.SyncResult, [2]int, error) {
	var counts [2]int

	local, err := s.local.LoadCollection()
	if err != nil {
		return nil, counts, errors.Wrap(withHint(err), "failed to read local replica")
	}
	remote, err := s.remote.LoadCollection(ctx, user.ID)
	if err != nil {
		return nil, counts, errors.Wrap(withHint(err), "failed to read remote replica")
	}

	var remoteNotes []*domain.StoredNote
	if remote != nil {
		remoteNotes = remote.Notes
	}
	counts = [2]int{len(local.Notes), len(remoteNotes)}

	action, reason := decide(s.crypto.snapshots(local.Notes), s.crypto.snapshots(remoteNotes))
	result := &domain.SyncResult{Action: action, Reason: reason}

	switch action {
	case domain.SyncDownload:
		if err := s.adoptRemote(remote); err != nil {
			return nil, counts, err
		}
	case domain.SyncUpload:
		if err := s.upload(ctx, user.ID, local); err != nil {
			return nil, counts, err
		}
	}
	return result, counts, nil
}

// ResolveConflict completes a pending conflict. Cancelling disables sync
// without touching either replica.
func (s *SyncService) ResolveConflict(ctx context.Context, conflictID string, choice domain.ResolutionChoice) (*domain.SyncResult, error) {
	s.mu.Lock()
	pending := s.conflict
	user := s.user
	if pending == nil || pending.ID != conflictID {
		s.mu.Unlock()
		return nil, ErrNoPendingConflict
	}
	if choice == domain.ResolutionCancel {
		s.conflict = nil
		s.syncEnabled = false
		s.mu.Unlock()

		s.log.Info("sync conflict cancelled", zap.String("conflict_id", conflictID))
		s.publish(domain.EventConflictResolved, map[string]string{"conflict_id": conflictID, "choice": string(choice)})
		return &domain.SyncResult{Action: domain.SyncNone, Reason: "sync cancelled, try again later"}, nil
	}
	s.mu.Unlock()

	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	if s.PendingConflict() != pending {
		return nil, ErrNoPendingConflict
	}
	if user == nil {
		return nil, ErrNotAuthenticated
	}

	result := &domain.SyncResult{}
	switch choice {
	case domain.ResolutionKeepLocal:
		local, err := s.local.LoadCollection()
		if err != nil {
			return nil, errors.Wrap(withHint(err), "failed to read local replica")
		}
		if err := s.upload(ctx, user.ID, local); err != nil {
			return nil, err
		}
		result.Action, result.Reason = domain.SyncUpload, "kept local notes"

	case domain.ResolutionKeepRemote:
		remote, err := s.remote.LoadCollection(ctx, user.ID)
		if err != nil {
			return nil, errors.Wrap(withHint(err), "failed to read remote replica")
		}
		if remote == nil {
			remote = &domain.Collection{}
		}
		if err := s.adoptRemote(remote); err != nil {
			return nil, err
		}
		result.Action, result.Reason = domain.SyncDownload, "kept remote notes"

	default:
		return nil, errors.Newf("unknown resolution %q", choice)
	}

	s.mu.Lock()
	if s.conflict == pending {
		s.conflict = nil
		s.syncEnabled = s.mode == domain.StorageRemote && s.user != nil && s.user.ID == user.ID
	}
	s.mu.Unlock()

	s.log.Info("sync conflict resolved", zap.String("conflict_id", conflictID), zap.String("choice", string(choice)))
	s.publish(domain.EventConflictResolved, map[string]string{"conflict_id": conflictID, "choice": string(choice)})
	return result, nil
}

// adoptRemote makes remote the local replica.
func (s *SyncService) adoptRemote(remote *domain.Collection) error {
	normalizeMetadata(remote)
	if err := s.local.ReplaceCollection(remote); err != nil {
		return errors.Wrap(withHint(err), "failed to store remote notes locally")
	}
	s.cache.Clear()
	s.touchLastSync()

	epoch := s.cache.Epoch()
	s.publish(domain.EventRemoteRefreshed, s.buildView(epoch, remote, domain.StorageRemote))
	return nil
}

// upload overwrites the remote replica with local. Plaintext left behind by
// an interrupted migration is sealed first.
func (s *SyncService) upload(ctx context.Context, userID string, local *domain.Collection) error {
	normalizeMetadata(local)

	out := &domain.Collection{Metadata: local.Metadata, Notes: make([]*domain.StoredNote, 0, len(local.Notes))}
	for _, n := range local.Notes {
		cp := *n
		if err := s.crypto.EnsureSealed(&cp); err != nil {
			return err
		}
		out.Notes = append(out.Notes, &cp)
	}

	if err := s.remote.SaveCollection(ctx, userID, out); err != nil {
		return errors.Wrap(withHint(err), "failed to upload notes")
	}
	s.touchLastSync()
	return nil
}

// RefreshFromRemote re-reads the remote replica after the page regains
// visibility. Remote is authoritative here, so a difference replaces the
// local view without going through conflict resolution.
func (s *SyncService) RefreshFromRemote(ctx context.Context) (bool, error) {
	if s.retryPending() {
		result, err := s.SmartSync(ctx)
		if err != nil {
			return false, err
		}
		return result.Action == domain.SyncDownload, nil
	}

	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	st := s.state()
	if _, skip := st.remoteSkip(); skip {
		return false, nil
	}

	remote, err := s.remote.LoadCollection(ctx, st.user.ID)
	if err != nil {
		return false, errors.Wrap(withHint(err), "failed to refresh from remote")
	}
	if remote == nil {
		return false, nil
	}

	local, err := s.local.LoadCollection()
	if err != nil {
		s.log.Warn("failed to read local replica during refresh", zap.Error(err))
		local = &domain.Collection{}
	}
	if collectionsEqual(s.crypto.snapshots(local.Notes), s.crypto.snapshots(remote.Notes)) {
		return false, nil
	}

	normalizeMetadata(remote)
	if err := s.local.ReplaceCollection(remote); err != nil {
		s.log.Warn("failed to mirror refreshed collection locally", zap.Error(err))
	}
	s.cache.Clear()
	s.touchLastSync()

	epoch := s.cache.Epoch()
	s.publish(domain.EventRemoteRefreshed, s.buildView(epoch, remote, domain.StorageRemote))
	s.log.Info("remote notes refreshed", zap.Int("notes", len(remote.Notes)))
	return true, nil
}

// retryPending reports whether an earlier Smart Sync failed and should run
// again before remote data is trusted.
func (s *SyncService) retryPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrySync && s.mode == domain.StorageRemote && s.user != nil && s.conflict == nil
}

// HandleAuthChange reacts to sign-in and sign-out. A nil user signs out.
func (s *SyncService) HandleAuthChange(ctx context.Context, user *domain.User) (*domain.SyncResult, error) {
	if user == nil {
		s.signOut()
		return nil, nil
	}

	s.mu.Lock()
	switched := s.user != nil && s.user.ID != user.ID
	s.user = user
	s.syncEnabled = false
	s.retrySync = false
	if switched {
		s.conflict = nil
	}
	mode := s.mode
	s.mu.Unlock()

	if switched {
		s.cache.Clear()
		s.crypto.Lock()
	}
	s.log.Info("signed in", zap.String("user_id", user.ID))

	if err := s.discoverSettings(ctx, user.ID); err != nil {
		s.log.Warn("failed to discover remote encryption settings", zap.Error(err))
	}
	s.publishStatus()

	if mode != domain.StorageRemote {
		return nil, nil
	}
	return s.SmartSync(ctx)
}

func (s *SyncService) signOut() {
	s.mu.Lock()
	s.user = nil
	s.syncEnabled = false
	s.retrySync = false
	s.conflict = nil
	s.mu.Unlock()

	s.cache.Clear()
	s.crypto.Lock()
	s.log.Info("signed out")
	s.publishStatus()
}

// discoverSettings mirrors remote encryption settings into the local replica
// when only the remote replica has them.
func (s *SyncService) discoverSettings(ctx context.Context, userID string) error {
	_, err := s.local.LoadSettings()
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	remote, err := s.remote.LoadSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.local.SaveSettings(remote); err != nil {
		s.log.Warn("failed to mirror encryption settings locally", zap.Error(err))
	}
	s.crypto.Adopt(remote)
	s.log.Info("discovered encryption settings on remote replica")
	return nil
}

// loadSettings reads settings from the local replica, falling back to the
// remote one. It returns nil, nil when neither has any.
func (s *SyncService) loadSettings(ctx context.Context) (*domain.EncryptionSettings, error) {
	settings, err := s.local.LoadSettings()
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	user := s.currentUser()
	if user == nil {
		return nil, nil
	}

	settings, err = s.remote.LoadSettings(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, withHint(err)
	}
	if err := s.local.SaveSettings(settings); err != nil {
		s.log.Warn("failed to mirror encryption settings locally", zap.Error(err))
	}
	return settings, nil
}

// EnableEncryption turns on encryption and converts every stored note.
// Settings are persisted before any note is touched; a remote settings
// failure rolls the local record back.
func (s *SyncService) EnableEncryption(ctx context.Context, password string) (*domain.MigrationReport, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if s.crypto.Enabled() {
		return nil, ErrAlreadyEnabled
	}

	settings, key, err := s.crypto.NewSettings(password)
	if err != nil {
		return nil, err
	}

	if err := s.local.SaveSettings(settings); err != nil {
		return nil, errors.Wrap(withHint(err), "failed to save encryption settings")
	}

	user := s.currentUser()
	if user != nil {
		if err := s.remote.SaveSettings(ctx, user.ID, settings); err != nil {
			if rerr := s.local.DeleteSettings(); rerr != nil {
				s.log.Error("failed to roll back local encryption settings", zap.Error(rerr))
			}
			return nil, errors.Wrap(withHint(err), "failed to save encryption settings remotely")
		}
	}

	s.crypto.Commit(settings, key)

	report := s.migrate(ctx, user, s.sealCopy)

	s.log.Info("encryption enabled",
		zap.Int("attempted", report.Attempted),
		zap.Int("completed", report.Completed),
		zap.Int("failed", len(report.Failed)),
	)
	s.publishStatus()
	return report, nil
}

// UnlockEncryption derives the key for password and commits it once
// verified.
func (s *SyncService) UnlockEncryption(ctx context.Context, password string) error {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return err
	}
	if settings == nil || !settings.Enabled {
		return ErrNotEnabled
	}

	key, err := s.crypto.DeriveKey(password, settings)
	if err != nil {
		return err
	}
	if err := s.verifyKey(ctx, key, settings); err != nil {
		return err
	}

	s.crypto.Commit(settings, key)
	s.publishStatus()
	return nil
}

// DisableEncryption decrypts every note back to plaintext and only then
// removes the settings record. Any failure leaves encryption enabled.
func (s *SyncService) DisableEncryption(ctx context.Context, password string) (*domain.MigrationReport, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil || !settings.Enabled {
		return nil, ErrNotEnabled
	}

	key, err := s.crypto.DeriveKey(password, settings)
	if err != nil {
		return nil, err
	}
	if err := s.verifyKey(ctx, key, settings); err != nil {
		return nil, err
	}
	s.crypto.Commit(settings, key)

	user := s.currentUser()
	report := s.migrate(ctx, user, s.crypto.OpenStored)
	if len(report.Failed) > 0 || len(report.Warnings) > 0 {
		// Notes already decrypted in this pass go back to envelope form.
		resealed := s.migrate(ctx, user, s.sealCopy)
		if len(resealed.Failed) > 0 {
			s.log.Error("failed to re-encrypt notes after aborted disable", zap.Int64s("note_ids", resealed.Failed))
		}
		err := errors.Mark(errors.Newf("decrypted %d of %d notes", report.Completed, report.Attempted), ErrMigration)
		return report, errors.WithHint(err, "Encryption stays enabled until every note is readable.")
	}

	if user != nil {
		if err := s.remote.DeleteSettings(ctx, user.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return report, errors.Wrap(withHint(err), "failed to remove remote encryption settings")
		}
	}
	if err := s.local.DeleteSettings(); err != nil {
		return report, errors.Wrap(withHint(err), "failed to remove encryption settings")
	}

	s.crypto.Adopt(nil)
	s.log.Info("encryption disabled", zap.Int("notes", report.Completed))
	s.publishStatus()
	return report, nil
}

// Lock drops the key. Cached plaintext goes with it.
func (s *SyncService) Lock() {
	s.crypto.Lock()
	s.publishStatus()
}

// verifyKey checks key against the settings verifier. Settings written
// without one fall back to opening a stored envelope, local first; with no
// envelope anywhere any key is accepted.
func (s *SyncService) verifyKey(ctx context.Context, key []byte, settings *domain.EncryptionSettings) error {
	if hasVerifier, err := CheckVerifier(key, settings); hasVerifier {
		return err
	}

	sealed, err := s.findEnvelope(ctx)
	if err != nil {
		return err
	}
	if sealed == "" {
		s.log.Info("no encrypted data to verify against, accepting password")
		return nil
	}
	if _, err := envelope.Open(key, sealed); err != nil {
		return ErrWrongPassword
	}
	return nil
}

func (s *SyncService) findEnvelope(ctx context.Context) (string, error) {
	local, err := s.local.LoadCollection()
	if err != nil {
		return "", errors.Wrap(withHint(err), "failed to read local replica")
	}
	if sealed := firstEnvelope(local.Notes); sealed != "" {
		return sealed, nil
	}

	user := s.currentUser()
	if user == nil {
		return "", nil
	}
	remote, err := s.remote.LoadCollection(ctx, user.ID)
	if err != nil {
		return "", errors.Wrap(withHint(err), "failed to read remote replica")
	}
	if remote == nil {
		return "", nil
	}
	return firstEnvelope(remote.Notes), nil
}

func firstEnvelope(notes []*domain.StoredNote) string {
	for _, n := range notes {
		for _, field := range []string{n.Content, n.Title} {
			if envelope.IsSealed(field) {
				return field
			}
		}
	}
	return ""
}

// migrate rewrites every stored note through transform, one note at a time,
// in the local replica and, for a signed-in user, the remote one. Failures
// are recorded per note and never abort the batch.
func (s *SyncService) migrate(ctx context.Context, user *domain.User, transform func(*domain.StoredNote) (*domain.StoredNote, error)) *domain.MigrationReport {
	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	report := &domain.MigrationReport{}
	failed := make(map[int64]bool)

	convert := func(target string, id int64, load func() (*domain.StoredNote, error), save func(*domain.StoredNote) error) {
		report.Attempted++

		release := s.writes.Lock(id)
		defer release()

		current, err := load()
		if err == nil {
			var out *domain.StoredNote
			if out, err = transform(current); err == nil {
				err = save(out)
			}
		}
		if err != nil {
			failed[id] = true
			s.log.Warn("note conversion failed", zap.String("target", target), zap.Int64("note_id", id), zap.Error(err))
			return
		}
		report.Completed++
	}

	local, err := s.local.LoadCollection()
	if err != nil {
		report.Warnings = append(report.Warnings, UserMessage(err))
	} else {
		for _, n := range local.Notes {
			id := n.ID
			convert("local", id,
				func() (*domain.StoredNote, error) { return s.local.LoadNote(id) },
				s.local.SaveNote,
			)
		}
	}

	if user != nil {
		remote, err := s.remote.LoadCollection(ctx, user.ID)
		switch {
		case err != nil:
			report.Warnings = append(report.Warnings, UserMessage(err))
		case remote != nil:
			for _, n := range remote.Notes {
				id := n.ID
				convert("remote", id,
					func() (*domain.StoredNote, error) { return s.remote.LoadNote(ctx, user.ID, id) },
					func(out *domain.StoredNote) error { return s.remote.SaveNote(ctx, user.ID, out) },
				)
			}
		}
	}

	for id := range failed {
		report.Failed = append(report.Failed, id)
	}
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i] < report.Failed[j] })
	return report
}

func (s *SyncService) sealCopy(n *domain.StoredNote) (*domain.StoredNote, error) {
	out := *n
	if err := s.crypto.EnsureSealed(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SyncService) touchLastSync() {
	if err := s.local.SetLastSyncTime(time.Now().UTC()); err != nil {
		s.log.Warn("failed to record last sync time", zap.Error(err))
	}
}

func (s *SyncService) publish(eventType domain.EventType, payload interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(domain.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

func (s *SyncService) publishStatus() {
	s.publish(domain.EventStatusChanged, s.Status())
}

// normalizeMetadata makes NoteOrder a permutation of the ids in c: unknown
// and duplicate ids are dropped, missing ones appended in note order.
func normalizeMetadata(c *domain.Collection) {
	present := make(map[int64]bool, len(c.Notes))
	for _, n := range c.Notes {
		present[n.ID] = true
	}

	order := make([]int64, 0, len(c.Notes))
	seen := make(map[int64]bool, len(c.Notes))
	for _, id := range c.Metadata.NoteOrder {
		if present[id] && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for _, n := range c.Notes {
		if !seen[n.ID] {
			order = append(order, n.ID)
			seen[n.ID] = true
		}
	}
	c.Metadata.NoteOrder = order

	if c.Metadata.ActiveNoteID != nil && !present[*c.Metadata.ActiveNoteID] {
		c.Metadata.ActiveNoteID = nil
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func isPermutation(order, ids []int64) bool {
	if len(order) != len(ids) {
		return false
	}
	counts := make(map[int64]int, len(ids))
	for _, id := range ids {
		counts[id]++
	}
	for _, id := range order {
		if counts[id] == 0 {
			return false
		}
		counts[id]--
	}
	return true
}

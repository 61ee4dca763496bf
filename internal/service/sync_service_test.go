package service

import (
	"context"
	"fmt"
	"testing"

	"inkdown-notes/internal/domain"
	"inkdown-notes/internal/repository"
	"inkdown-notes/pkg/envelope"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestSmartSync_DecisionTable(t *testing.T) {
	tests := []struct {
		name       string
		local      []domain.Note
		remote     []domain.Note
		want       domain.SyncAction
		wantLocal  []domain.Note
		wantRemote []domain.Note
	}{
		{
			name: "nothing meaningful anywhere",
			want: domain.SyncNone,
		},
		{
			name:       "only remote meaningful",
			local:      []domain.Note{{ID: 1, Title: "Note 1"}},
			remote:     []domain.Note{{ID: 7, Title: "Trip", Content: "pack"}},
			want:       domain.SyncDownload,
			wantLocal:  []domain.Note{{ID: 7, Title: "Trip", Content: "pack"}},
			wantRemote: []domain.Note{{ID: 7, Title: "Trip", Content: "pack"}},
		},
		{
			name:       "only local meaningful",
			local:      []domain.Note{{ID: 2, Title: "Ideas", Content: "x"}},
			want:       domain.SyncUpload,
			wantLocal:  []domain.Note{{ID: 2, Title: "Ideas", Content: "x"}},
			wantRemote: []domain.Note{{ID: 2, Title: "Ideas", Content: "x"}},
		},
		{
			name:       "meaningful and equal",
			local:      []domain.Note{{ID: 1, Title: "A", Content: "x"}},
			remote:     []domain.Note{{ID: 1, Title: "A", Content: "x"}},
			want:       domain.SyncNone,
			wantLocal:  []domain.Note{{ID: 1, Title: "A", Content: "x"}},
			wantRemote: []domain.Note{{ID: 1, Title: "A", Content: "x"}},
		},
		{
			name:       "meaningful and divergent",
			local:      []domain.Note{{ID: 1, Title: "A", Content: "x"}},
			remote:     []domain.Note{{ID: 1, Title: "A", Content: "y"}},
			want:       domain.SyncConflict,
			wantLocal:  []domain.Note{{ID: 1, Title: "A", Content: "x"}},
			wantRemote: []domain.Note{{ID: 1, Title: "A", Content: "y"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, combine(seedLocal(tt.local...), remoteMode))
			if tt.remote != nil {
				require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID, collectionOf(tt.remote...)))
			}

			result, err := e.sync.HandleAuthChange(context.Background(), testUser)
			require.NoError(t, err)
			require.Equal(t, tt.want, result.Action, result.Reason)

			local, err := e.local.LoadCollection()
			require.NoError(t, err)
			requireNotes(t, tt.wantLocal, local.Notes)

			remote, err := e.remote.LoadCollection(context.Background(), testUser.ID)
			require.NoError(t, err)
			if remote == nil {
				require.Empty(t, tt.wantRemote)
			} else {
				requireNotes(t, tt.wantRemote, remote.Notes)
			}
		})
	}
}

func TestSmartSync_IdenticalReplicasWriteNothing(t *testing.T) {
	e := newTestEngine(t, combine(
		seedLocal(domain.Note{ID: 1, Title: "A", Content: "x"}, domain.Note{ID: 2, Title: "B", Content: "y"}),
		remoteMode,
	))
	require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
		collectionOf(domain.Note{ID: 2, Title: "B", Content: "y"}, domain.Note{ID: 1, Title: "A", Content: "x"})))

	e.kv.Reset()
	remoteWrites := e.remote.Writes()

	result, err := e.sync.HandleAuthChange(context.Background(), testUser)
	require.NoError(t, err)
	require.Equal(t, domain.SyncNone, result.Action)
	require.Zero(t, e.kv.Writes(), "local replica was written")
	require.Equal(t, remoteWrites, e.remote.Writes(), "remote replica was written")
}

func TestSmartSync_DefaultNotesAreNotMeaningful(t *testing.T) {
	e := newTestEngine(t, remoteMode)
	require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
		collectionOf(domain.Note{ID: 5, Title: "Note 5"})))

	result, err := e.sync.HandleAuthChange(context.Background(), testUser)
	require.NoError(t, err)
	require.Equal(t, domain.SyncNone, result.Action)

	local, err := e.local.LoadCollection()
	require.NoError(t, err)
	require.Empty(t, local.Notes)
}

func TestSmartSync_ConflictIsNotAutoResolved(t *testing.T) {
	e := newTestEngine(t, combine(seedLocal(domain.Note{ID: 1, Title: "A", Content: "x"}), remoteMode))
	require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
		collectionOf(domain.Note{ID: 1, Title: "A", Content: "y"})))

	result, err := e.sync.HandleAuthChange(context.Background(), testUser)
	require.NoError(t, err)
	require.Equal(t, domain.SyncConflict, result.Action)
	require.NotNil(t, result.Conflict)
	require.Equal(t, 1, e.events.count(domain.EventConflictDetected))
	require.Equal(t, result.Conflict.ID, e.sync.Status().PendingConflictID)

	again, err := e.sync.SmartSync(context.Background())
	require.NoError(t, err)
	require.Equal(t, result.Conflict.ID, again.Conflict.ID)

	outcome, err := e.sync.Save(context.Background(), &domain.Note{ID: 1, Title: "A", Content: "edited"})
	require.NoError(t, err)
	require.True(t, outcome.Local.OK())
	require.False(t, outcome.Remote.Attempted)
	var conflictErr *ConflictError
	require.True(t, errors.As(outcome.Remote.Err(), &conflictErr))

	remote, _ := e.remote.storedNote(testUser.ID, 1)
	require.Equal(t, "y", remote.Content)

	view := e.sync.Load(context.Background())
	require.Equal(t, domain.StorageLocal, view.Source)
	require.Equal(t, "edited", view.Notes[0].Content)
}

func TestResolveConflict(t *testing.T) {
	tests := []struct {
		name        string
		choice      domain.ResolutionChoice
		wantAction  domain.SyncAction
		wantLocal   string
		wantRemote  string
		wantSyncing bool
	}{
		{name: "keep local", choice: domain.ResolutionKeepLocal, wantAction: domain.SyncUpload, wantLocal: "x", wantRemote: "x", wantSyncing: true},
		{name: "keep remote", choice: domain.ResolutionKeepRemote, wantAction: domain.SyncDownload, wantLocal: "y", wantRemote: "y", wantSyncing: true},
		{name: "cancel", choice: domain.ResolutionCancel, wantAction: domain.SyncNone, wantLocal: "x", wantRemote: "y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, combine(seedLocal(domain.Note{ID: 1, Title: "A", Content: "x"}), remoteMode))
			require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
				collectionOf(domain.Note{ID: 1, Title: "A", Content: "y"})))

			detected, err := e.sync.HandleAuthChange(context.Background(), testUser)
			require.NoError(t, err)
			require.Equal(t, domain.SyncConflict, detected.Action)

			_, err = e.sync.ResolveConflict(context.Background(), "some-other-id", tt.choice)
			require.True(t, errors.Is(err, ErrNoPendingConflict))

			result, err := e.sync.ResolveConflict(context.Background(), detected.Conflict.ID, tt.choice)
			require.NoError(t, err)
			require.Equal(t, tt.wantAction, result.Action)

			local, err := e.local.LoadNote(1)
			require.NoError(t, err)
			require.Equal(t, tt.wantLocal, local.Content)

			remote, ok := e.remote.storedNote(testUser.ID, 1)
			require.True(t, ok)
			require.Equal(t, tt.wantRemote, remote.Content)

			status := e.sync.Status()
			require.Empty(t, status.PendingConflictID)
			require.Equal(t, tt.wantSyncing, status.SyncEnabled)
			require.Equal(t, 1, e.events.count(domain.EventConflictResolved))
		})
	}
}

func TestSave_IndependentOutcomes(t *testing.T) {
	t.Run("remote failure keeps local copy", func(t *testing.T) {
		e := newTestEngine(t, remoteMode)
		_, err := e.sync.HandleAuthChange(context.Background(), testUser)
		require.NoError(t, err)

		e.remote.fail(fmt.Errorf("failed to save note: %w", repository.ErrUnavailable))

		outcome, err := e.sync.Save(context.Background(), &domain.Note{ID: 3, Title: "Offline", Content: "draft"})
		require.NoError(t, err)
		require.True(t, outcome.Local.OK())
		require.True(t, outcome.Remote.Attempted)
		require.True(t, errors.Is(outcome.Remote.Err(), repository.ErrUnavailable))
		require.Equal(t, UserMessage(repository.ErrUnavailable), outcome.Remote.Error)

		stored, err := e.local.LoadNote(3)
		require.NoError(t, err)
		require.Equal(t, "draft", stored.Content)
	})

	t.Run("local quota does not block remote", func(t *testing.T) {
		kv := repository.NewMemoryKeyValueStore(300)
		local := repository.NewLocalRepository(kv)
		require.NoError(t, local.SetStorageMode(domain.StorageRemote))
		remote := newMockRemoteRepo()
		svc := NewSyncService(local, remote, NewEncryptionService(envelope.DefaultIterations, nil), nil, nil)
		_, err := svc.HandleAuthChange(context.Background(), testUser)
		require.NoError(t, err)

		big := make([]byte, 400)
		for i := range big {
			big[i] = 'a'
		}
		outcome, err := svc.Save(context.Background(), &domain.Note{ID: 4, Title: "Big", Content: string(big)})
		require.NoError(t, err)
		require.False(t, outcome.Local.OK())
		require.True(t, errors.Is(outcome.Local.Err(), repository.ErrQuotaExceeded))
		require.True(t, outcome.Remote.OK())

		view, err := svc.LoadNote(context.Background(), 4)
		require.NoError(t, err)
		require.Equal(t, string(big), view.Content)
	})

	t.Run("local mode skips remote", func(t *testing.T) {
		e := newTestEngine(t, nil)
		outcome, err := e.sync.Save(context.Background(), &domain.Note{ID: 1, Title: "Local"})
		require.NoError(t, err)
		require.True(t, outcome.Local.OK())
		require.False(t, outcome.Remote.Attempted)
		require.NoError(t, outcome.Remote.Err())
		require.Zero(t, e.remote.Writes())
	})
}

func TestSave_RejectsMalformedNote(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.sync.Save(context.Background(), &domain.Note{ID: 0, Title: "No id"})
	require.True(t, errors.Is(err, ErrInvalidNote))

	_, err = e.sync.Save(context.Background(), nil)
	require.True(t, errors.Is(err, ErrInvalidNote))
}

func TestSave_MaintainsMetadata(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := e.sync.Save(ctx, &domain.Note{ID: id, Title: fmt.Sprintf("Note %d", id)})
		require.NoError(t, err)
	}
	_, err := e.sync.Save(ctx, &domain.Note{ID: 2, Title: "Renamed"})
	require.NoError(t, err)

	meta, err := e.local.LoadMetadata()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, meta.NoteOrder)
	require.EqualValues(t, 1, *meta.ActiveNoteID)

	_, err = e.sync.UpdateMetadata(ctx, &domain.UpdateMetadataRequest{ActiveNoteID: ptr(2), NoteOrder: []int64{3, 2, 1}})
	require.NoError(t, err)

	outcome, err := e.sync.Delete(ctx, 2)
	require.NoError(t, err)
	require.True(t, outcome.Local.OK())

	meta, err = e.local.LoadMetadata()
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1}, meta.NoteOrder)
	require.EqualValues(t, 1, *meta.ActiveNoteID)

	_, err = e.sync.LoadNote(ctx, 2)
	require.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestUpdateMetadata_RejectsInvalidOrder(t *testing.T) {
	e := newTestEngine(t, seedLocal(domain.Note{ID: 1, Title: "a"}, domain.Note{ID: 2, Title: "b"}))

	tests := []struct {
		name string
		req  *domain.UpdateMetadataRequest
	}{
		{name: "missing id", req: &domain.UpdateMetadataRequest{NoteOrder: []int64{1}}},
		{name: "unknown id", req: &domain.UpdateMetadataRequest{NoteOrder: []int64{1, 9}}},
		{name: "duplicate id", req: &domain.UpdateMetadataRequest{NoteOrder: []int64{1, 1}}},
		{name: "unknown active", req: &domain.UpdateMetadataRequest{ActiveNoteID: ptr(9), NoteOrder: []int64{2, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.sync.UpdateMetadata(context.Background(), tt.req)
			require.True(t, errors.Is(err, ErrInvalidOrder))
		})
	}
}

func TestLoad_RemoteFallbacks(t *testing.T) {
	t.Run("remote failure falls back to local", func(t *testing.T) {
		e := newTestEngine(t, combine(seedLocal(domain.Note{ID: 1, Title: "Kept", Content: "local"}), remoteMode))
		_, err := e.sync.HandleAuthChange(context.Background(), testUser)
		require.NoError(t, err)

		e.remote.fail(fmt.Errorf("failed to load collection: %w", repository.ErrPermissionDenied))
		view := e.sync.Load(context.Background())

		require.Equal(t, domain.StorageLocal, view.Source)
		require.Len(t, view.Notes, 1)
		require.Equal(t, "local", view.Notes[0].Content)
		require.Equal(t, []string{UserMessage(repository.ErrPermissionDenied)}, view.Warnings)
	})

	t.Run("remote read overwrites local", func(t *testing.T) {
		e := newTestEngine(t, remoteMode)
		_, err := e.sync.HandleAuthChange(context.Background(), testUser)
		require.NoError(t, err)

		require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
			collectionOf(domain.Note{ID: 8, Title: "From elsewhere", Content: "remote"})))

		view := e.sync.Load(context.Background())
		require.Equal(t, domain.StorageRemote, view.Source)
		require.Equal(t, "remote", view.Notes[0].Content)

		mirrored, err := e.local.LoadNote(8)
		require.NoError(t, err)
		require.Equal(t, "remote", mirrored.Content)
	})

	t.Run("empty remote leaves local alone", func(t *testing.T) {
		e := newTestEngine(t, seedLocal(domain.Note{ID: 1, Title: "Note 1"}))
		_, err := e.sync.HandleAuthChange(context.Background(), testUser)
		require.NoError(t, err)
		_, err = e.sync.SetStorageMode(context.Background(), domain.StorageRemote)
		require.NoError(t, err)

		view := e.sync.Load(context.Background())
		require.Equal(t, domain.StorageLocal, view.Source)
		require.Len(t, view.Notes, 1)
	})
}

func TestSetStorageMode(t *testing.T) {
	t.Run("remote without session is deferred", func(t *testing.T) {
		e := newTestEngine(t, seedLocal(domain.Note{ID: 1, Title: "Plan", Content: "x"}))

		result, err := e.sync.SetStorageMode(context.Background(), domain.StorageRemote)
		require.NoError(t, err)
		require.True(t, result.Success)
		require.True(t, result.Deferred)
		require.False(t, e.sync.Status().SyncEnabled)

		mode, err := e.local.StorageMode()
		require.NoError(t, err)
		require.Equal(t, domain.StorageRemote, mode)

		synced, err := e.sync.HandleAuthChange(context.Background(), testUser)
		require.NoError(t, err)
		require.Equal(t, domain.SyncUpload, synced.Action)
		require.True(t, e.sync.Status().SyncEnabled)
	})

	t.Run("switch with session runs smart sync", func(t *testing.T) {
		e := newTestEngine(t, nil)
		_, err := e.sync.HandleAuthChange(context.Background(), testUser)
		require.NoError(t, err)
		require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
			collectionOf(domain.Note{ID: 2, Title: "Remote", Content: "r"})))

		result, err := e.sync.SetStorageMode(context.Background(), domain.StorageRemote)
		require.NoError(t, err)
		require.NotNil(t, result.Sync)
		require.Equal(t, domain.SyncDownload, result.Sync.Action)
		require.True(t, result.ShouldReload)
	})

	t.Run("invalid mode", func(t *testing.T) {
		e := newTestEngine(t, nil)
		_, err := e.sync.SetStorageMode(context.Background(), domain.StorageMode("cloud"))
		require.True(t, errors.Is(err, ErrInvalidMode))
	})

	t.Run("mode switch clears cache", func(t *testing.T) {
		e := newTestEngine(t, nil)
		_, err := e.sync.Save(context.Background(), &domain.Note{ID: 1, Title: "cached"})
		require.NoError(t, err)
		require.Equal(t, 1, e.sync.cache.Len())

		_, err = e.sync.SetStorageMode(context.Background(), domain.StorageRemote)
		require.NoError(t, err)
		require.Zero(t, e.sync.cache.Len())
	})
}

func TestSignOut_ClearsSessionState(t *testing.T) {
	e := newTestEngine(t, combine(seedLocal(domain.Note{ID: 1, Title: "A", Content: "x"}), remoteMode))
	require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
		collectionOf(domain.Note{ID: 1, Title: "A", Content: "y"})))

	_, err := e.sync.HandleAuthChange(context.Background(), testUser)
	require.NoError(t, err)
	_, err = e.sync.EnableEncryption(context.Background(), "long enough")
	require.NoError(t, err)
	e.sync.Load(context.Background())

	_, err = e.sync.HandleAuthChange(context.Background(), nil)
	require.NoError(t, err)

	status := e.sync.Status()
	require.False(t, status.Authenticated)
	require.False(t, status.SyncEnabled)
	require.False(t, status.Unlocked)
	require.Empty(t, status.PendingConflictID)
	require.Zero(t, e.sync.cache.Len())
}

func TestRefreshFromRemote(t *testing.T) {
	e := newTestEngine(t, combine(seedLocal(domain.Note{ID: 1, Title: "Shared", Content: "v1"}), remoteMode))
	require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
		collectionOf(domain.Note{ID: 1, Title: "Shared", Content: "v1"})))

	_, err := e.sync.HandleAuthChange(context.Background(), testUser)
	require.NoError(t, err)

	changed, err := e.sync.RefreshFromRemote(context.Background())
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, e.remote.SaveCollection(context.Background(), testUser.ID,
		collectionOf(domain.Note{ID: 1, Title: "Shared", Content: "v2"})))

	changed, err = e.sync.RefreshFromRemote(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, e.events.count(domain.EventRemoteRefreshed))

	view, err := e.sync.LoadNote(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "v2", view.Content)

	_, err = e.sync.HandleAuthChange(context.Background(), nil)
	require.NoError(t, err)
	changed, err = e.sync.RefreshFromRemote(context.Background())
	require.NoError(t, err)
	require.False(t, changed)
}

func requireNotes(t *testing.T, want []domain.Note, got []*domain.StoredNote) {
	t.Helper()
	require.Len(t, got, len(want))
	byID := make(map[int64]*domain.StoredNote, len(got))
	for _, n := range got {
		byID[n.ID] = n
	}
	for _, w := range want {
		g, ok := byID[w.ID]
		require.True(t, ok, "note %d missing", w.ID)
		require.Equal(t, w.Title, g.Title)
		require.Equal(t, w.Content, g.Content)
	}
}

func ptr(v int64) *int64 {
	return &v
}

func TestHandleAuthChange_LoadDuringSignInKeepsLocalData(t *testing.T) {
	kv := repository.NewMemoryKeyValueStore(0)
	local := repository.NewLocalRepository(kv)
	combine(seedLocal(domain.Note{ID: 1, Title: "Plan", Content: "local draft"}), remoteMode)(local)

	remote := &hookedRemote{mockRemoteRepo: newMockRemoteRepo()}
	require.NoError(t, remote.SaveCollection(context.Background(), testUser.ID,
		collectionOf(domain.Note{ID: 1, Title: "Plan", Content: "remote draft"})))

	svc := NewSyncService(local, remote, NewEncryptionService(envelope.DefaultIterations, nil), &eventRecorder{}, nil)

	var midSignIn *domain.CollectionView
	remote.onLoadSettings = func() { midSignIn = svc.Load(context.Background()) }

	result, err := svc.HandleAuthChange(context.Background(), testUser)
	require.NoError(t, err)
	require.Equal(t, domain.SyncConflict, result.Action)

	require.NotNil(t, midSignIn)
	require.Equal(t, domain.StorageLocal, midSignIn.Source)

	stored, err := local.LoadNote(1)
	require.NoError(t, err)
	require.Equal(t, "local draft", stored.Content)
	require.NotNil(t, svc.PendingConflict())
	require.False(t, svc.Status().SyncEnabled)
}

func TestRefreshFromRemote_RetriesFailedSmartSync(t *testing.T) {
	e := newTestEngine(t, combine(seedLocal(domain.Note{ID: 1, Title: "Plan", Content: "x"}), remoteMode))
	ctx := context.Background()

	e.remote.fail(fmt.Errorf("failed to load collection: %w", repository.ErrUnavailable))
	_, err := e.sync.HandleAuthChange(ctx, testUser)
	require.True(t, errors.Is(err, repository.ErrUnavailable))
	require.False(t, e.sync.Status().SyncEnabled)

	outcome, err := e.sync.Save(ctx, &domain.Note{ID: 2, Title: "Offline", Content: "y"})
	require.NoError(t, err)
	require.True(t, outcome.Local.OK())
	require.False(t, outcome.Remote.Attempted)
	require.Zero(t, e.remote.Writes())

	e.remote.fail(nil)
	changed, err := e.sync.RefreshFromRemote(ctx)
	require.NoError(t, err)
	require.False(t, changed)
	require.True(t, e.sync.Status().SyncEnabled)

	_, ok := e.remote.storedNote(testUser.ID, 1)
	require.True(t, ok)
	_, ok = e.remote.storedNote(testUser.ID, 2)
	require.True(t, ok)
}

func TestSave_RollsBackNoteWhenOrderWriteFails(t *testing.T) {
	kv := &faultyKV{KeyValueStore: repository.NewMemoryKeyValueStore(0)}
	local := repository.NewLocalRepository(kv)
	seedLocal(domain.Note{ID: 1, Title: "Kept", Content: "a"})(local)
	kv.failSet = "notes_metadata"

	svc := NewSyncService(local, newMockRemoteRepo(), NewEncryptionService(envelope.DefaultIterations, nil), &eventRecorder{}, nil)

	outcome, err := svc.Save(context.Background(), &domain.Note{ID: 2, Title: "New", Content: "b"})
	require.NoError(t, err)
	require.False(t, outcome.Local.OK())
	require.True(t, errors.Is(outcome.Local.Err(), repository.ErrQuotaExceeded))

	_, err = local.LoadNote(2)
	require.True(t, errors.Is(err, repository.ErrNotFound))

	meta, err := local.LoadMetadata()
	require.NoError(t, err)
	require.Equal(t, []int64{1}, meta.NoteOrder)
}

func TestDelete_KeepsNoteListedWhenRecordRemovalFails(t *testing.T) {
	kv := &faultyKV{KeyValueStore: repository.NewMemoryKeyValueStore(0)}
	local := repository.NewLocalRepository(kv)
	seedLocal(domain.Note{ID: 1, Title: "a"}, domain.Note{ID: 2, Title: "b"})(local)
	kv.failRemove = "note_2"

	svc := NewSyncService(local, newMockRemoteRepo(), NewEncryptionService(envelope.DefaultIterations, nil), &eventRecorder{}, nil)

	outcome, err := svc.Delete(context.Background(), 2)
	require.NoError(t, err)
	require.False(t, outcome.Local.OK())

	meta, err := local.LoadMetadata()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, meta.NoteOrder)

	view := svc.Load(context.Background())
	require.Len(t, view.Notes, 2)
}

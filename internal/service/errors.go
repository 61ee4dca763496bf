package service

import (
	"fmt"

	"inkdown-notes/internal/domain"
	"inkdown-notes/internal/repository"
	"inkdown-notes/pkg/envelope"

	"github.com/cockroachdb/errors"
)

var (
	ErrLocked            = errors.New("encryption is locked")
	ErrWrongPassword     = errors.New("incorrect encryption password")
	ErrPasswordTooShort  = errors.New("password must be at least 8 characters")
	ErrNotEnabled        = errors.New("encryption is not enabled")
	ErrAlreadyEnabled    = errors.New("encryption is already enabled")
	ErrNotAuthenticated  = errors.New("no active session")
	ErrNoPendingConflict = errors.New("no pending sync conflict")
	ErrInvalidNote       = errors.New("invalid note")
	ErrInvalidOrder      = errors.New("note order must list every stored note exactly once")
	ErrInvalidMode       = errors.New("unknown storage mode")
	ErrMigration         = errors.New("not every note could be converted")
)

const (
	hintLocalQuota = "Export your notes or switch to remote storage to free space on this device."
	hintRemote     = "Your changes are kept on this device and will sync once the remote store is reachable."
	hintUnlock     = "Unlock encryption with your password first."
)

// ConflictError is returned by operations that cannot proceed while a
// Smart Sync conflict awaits a decision.
type ConflictError struct {
	Conflict *domain.Conflict
}

func (e *ConflictError) Error() string {
	if e.Conflict == nil {
		return "sync conflict pending"
	}
	return fmt.Sprintf("sync conflict %s pending", e.Conflict.ID)
}

// withHint attaches the recovery suggestion matching err's category.
func withHint(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrQuotaExceeded):
		return errors.WithHint(err, hintLocalQuota)
	case repository.IsRemoteError(err):
		return errors.WithHint(err, hintRemote)
	case errors.Is(err, ErrLocked):
		return errors.WithHint(err, hintUnlock)
	}
	return err
}

// UserMessage renders err for display. Every error category maps to its
// own message.
func UserMessage(err error) string {
	var conflictErr *ConflictError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &conflictErr):
		return "A sync conflict is waiting for you to choose which copy to keep."
	case errors.Is(err, repository.ErrQuotaExceeded):
		return "Local storage is full. Export your notes or switch to remote storage."
	case errors.Is(err, repository.ErrUnauthenticated):
		return "Your session has expired. Sign in again to sync."
	case errors.Is(err, repository.ErrPermissionDenied):
		return "You do not have permission to access your remote notes."
	case errors.Is(err, repository.ErrRemoteQuota):
		return "Remote storage is full."
	case errors.Is(err, repository.ErrRevisionConflict):
		return "The remote copy changed while saving. Try again."
	case errors.Is(err, repository.ErrUnavailable):
		return "Remote storage is unreachable. Your notes are saved on this device."
	case errors.Is(err, repository.ErrNotFound):
		return "Note not found."
	case errors.Is(err, ErrWrongPassword):
		return "Incorrect encryption password."
	case errors.Is(err, ErrLocked):
		return "Your notes are encrypted. Unlock to continue."
	case errors.Is(err, ErrPasswordTooShort):
		return "Encryption passwords must be at least 8 characters."
	case errors.Is(err, ErrNotEnabled):
		return "Encryption is not enabled."
	case errors.Is(err, ErrAlreadyEnabled):
		return "Encryption is already enabled."
	case errors.Is(err, ErrNotAuthenticated):
		return "Sign in to use remote storage."
	case errors.Is(err, ErrNoPendingConflict):
		return "There is no sync conflict to resolve."
	case errors.Is(err, ErrMigration):
		return "Some notes could not be converted. Nothing was lost; try again."
	case errors.Is(err, envelope.ErrDecrypt):
		return "This field could not be decrypted."
	case errors.Is(err, envelope.ErrMalformed):
		return "This field is corrupted."
	case errors.Is(err, ErrInvalidNote), errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrInvalidMode):
		return err.Error()
	}

	if hints := errors.FlattenHints(err); hints != "" {
		return hints
	}
	return "Something went wrong."
}

package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is the local capacity error.
	ErrQuotaExceeded = errors.New("local storage quota exceeded")

	ErrUnauthenticated  = errors.New("remote session is not authenticated")
	ErrPermissionDenied = errors.New("remote permission denied")
	ErrRemoteQuota      = errors.New("remote storage quota exceeded")
	ErrUnavailable      = errors.New("remote store unavailable")
	ErrRevisionConflict = errors.New("remote revision conflict")
)

// IsRemoteError reports whether err belongs to one of the remote categories.
func IsRemoteError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrRemoteQuota) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRevisionConflict)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

package handler

import (
	"net/http"

	"inkdown-notes/internal/repository"
	"inkdown-notes/internal/service"
	"inkdown-notes/internal/session"
	"inkdown-notes/pkg/response"

	"github.com/cockroachdb/errors"
)

func statusFor(err error) int {
	var conflictErr *service.ConflictError

	switch {
	case errors.Is(err, service.ErrInvalidNote),
		errors.Is(err, service.ErrInvalidOrder),
		errors.Is(err, service.ErrInvalidMode),
		errors.Is(err, service.ErrPasswordTooShort):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotAuthenticated),
		errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrWrongPassword):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflictErr),
		errors.Is(err, service.ErrNoPendingConflict),
		errors.Is(err, service.ErrNotEnabled),
		errors.Is(err, service.ErrAlreadyEnabled),
		errors.Is(err, service.ErrMigration):
		return http.StatusConflict
	case errors.Is(err, service.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, repository.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case repository.IsRemoteError(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders err with its user-facing message and hint. data carries
// any partial result, such as a migration report.
func writeError(w http.ResponseWriter, err error, data interface{}) {
	message := service.UserMessage(err)
	hint := errors.FlattenHints(err)
	if hint == message {
		hint = ""
	}
	response.Fail(w, statusFor(err), message, hint, data)
}

package handler

import (
	"encoding/json"
	"net/http"

	"inkdown-notes/internal/domain"
	"inkdown-notes/internal/session"
	"inkdown-notes/pkg/response"

	"github.com/go-playground/validator/v10"
)

// SessionHandler signs the remote account in and out. Sync reacts through
// the session's auth listeners, not through this handler.
type SessionHandler struct {
	session   *session.Session
	validator *validator.Validate
}

func NewSessionHandler(sess *session.Session) *SessionHandler {
	return &SessionHandler{
		session:   sess,
		validator: validator.New(),
	}
}

func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req domain.SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	user, err := h.session.SignIn(req.Token)
	if err != nil {
		response.Unauthorized(w, "Invalid or expired token")
		return
	}

	response.Success(w, user)
}

func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.session.SignOut()
	response.Message(w, "Signed out")
}

func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	user := h.session.CurrentUser()
	if user == nil {
		response.Unauthorized(w, "Not signed in")
		return
	}
	response.Success(w, user)
}

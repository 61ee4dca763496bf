package handler

import (
	"encoding/json"
	"net/http"

	"inkdown-notes/internal/domain"
	"inkdown-notes/internal/service"
	"inkdown-notes/pkg/response"

	"github.com/go-playground/validator/v10"
)

type EncryptionHandler struct {
	sync     *service.SyncService
	validate *validator.Validate
}

func NewEncryptionHandler(syncService *service.SyncService) *EncryptionHandler {
	return &EncryptionHandler{
		sync:     syncService,
		validate: validator.New(),
	}
}

func (h *EncryptionHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		if _, short := req.(*domain.EnablePasswordRequest); short {
			writeError(w, service.ErrPasswordTooShort, nil)
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func (h *EncryptionHandler) Enable(w http.ResponseWriter, r *http.Request) {
	var req domain.EnablePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.sync.EnableEncryption(r.Context(), req.Password)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, report)
}

func (h *EncryptionHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req domain.PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.sync.UnlockEncryption(r.Context(), req.Password); err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, h.sync.Status())
}

func (h *EncryptionHandler) Disable(w http.ResponseWriter, r *http.Request) {
	var req domain.PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.sync.DisableEncryption(r.Context(), req.Password)
	if err != nil {
		writeError(w, err, report)
		return
	}

	response.Success(w, report)
}

func (h *EncryptionHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.sync.Lock()
	response.Success(w, h.sync.Status())
}

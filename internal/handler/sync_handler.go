package handler

import (
	"encoding/json"
	"net/http"

	"inkdown-notes/internal/domain"
	"inkdown-notes/internal/service"
	"inkdown-notes/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type SyncHandler struct {
	sync     *service.SyncService
	validate *validator.Validate
}

func NewSyncHandler(syncService *service.SyncService) *SyncHandler {
	return &SyncHandler{
		sync:     syncService,
		validate: validator.New(),
	}
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.sync.Status())
}

func (h *SyncHandler) SetStorageMode(w http.ResponseWriter, r *http.Request) {
	var req domain.SetStorageModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.sync.SetStorageMode(r.Context(), req.Mode)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, result)
}

// Sync runs Smart Sync on demand. A conflict is a successful result the
// caller resolves separately.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.SmartSync(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, result)
}

func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := mux.Vars(r)["id"]
	if conflictID == "" {
		response.BadRequest(w, "Conflict ID is required")
		return
	}

	var req domain.ConflictResolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.sync.ResolveConflict(r.Context(), conflictID, req.Choice)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, result)
}

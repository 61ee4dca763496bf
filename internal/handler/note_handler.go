package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"inkdown-notes/internal/domain"
	"inkdown-notes/internal/service"
	"inkdown-notes/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type NoteHandler struct {
	sync     *service.SyncService
	validate *validator.Validate
}

func NewNoteHandler(syncService *service.SyncService) *NoteHandler {
	return &NoteHandler{
		sync:     syncService,
		validate: validator.New(),
	}
}

func noteID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// List returns the reconciled collection. Remote failures show up in its
// warnings, never as an error status.
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.sync.Load(r.Context()))
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		response.BadRequest(w, "Note ID must be a positive integer")
		return
	}

	note, err := h.sync.LoadNote(r.Context(), id)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) Save(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		response.BadRequest(w, "Note ID must be a positive integer")
		return
	}

	var req domain.SaveNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	outcome, err := h.sync.Save(r.Context(), &domain.Note{ID: id, Title: req.Title, Content: req.Content})
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, outcome)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		response.BadRequest(w, "Note ID must be a positive integer")
		return
	}

	outcome, err := h.sync.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, outcome)
}

// UpdateCollection changes the active note and ordering.
func (h *NoteHandler) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	outcome, err := h.sync.UpdateMetadata(r.Context(), &req)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response.Success(w, outcome)
}

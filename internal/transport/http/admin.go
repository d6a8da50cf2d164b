package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/repository/postgresql"
)

type FailedEventAdmin interface {
	ReprocessOne(ctx context.Context, id uuid.UUID) error
	IgnoreOne(ctx context.Context, id uuid.UUID, reason string) error
}

type FailedEventReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.FailedEvent, error)
	ListFailed(ctx context.Context, limit int) ([]entity.FailedEvent, error)
}

// AdminHandler exposes the operator surface for dead-lettered messages. It is
// served by the worker process, which owns the reprocessor.
type AdminHandler struct {
	admin  FailedEventAdmin
	failed FailedEventReader
}

func NewAdminHandler(admin FailedEventAdmin, failed FailedEventReader) *AdminHandler {
	return &AdminHandler{admin: admin, failed: failed}
}

type ignoreDTO struct {
	Reason string `json:"reason"`
}

// ListFailedEvents godoc
// @Summary List dead-lettered messages still in FAILED
// @Tags admin
// @Produce json
// @Success 200 {array} entity.FailedEvent
// @Router /admin/failed-events [get]
func (h *AdminHandler) ListFailedEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.failed.ListFailed(r.Context(), 100)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list failed")
		return
	}
	if events == nil {
		events = []entity.FailedEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetFailedEvent godoc
// @Summary Get one dead-lettered message
// @Tags admin
// @Produce json
// @Param id path string true "failed event id (uuid)"
// @Success 200 {object} entity.FailedEvent
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /admin/failed-events/{id} [get]
func (h *AdminHandler) GetFailedEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	ev, err := h.failed.GetByID(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "failed event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ReprocessFailedEvent godoc
// @Summary Replay one dead-lettered message through the live pipeline
// @Tags admin
// @Produce json
// @Param id path string true "failed event id (uuid)"
// @Success 200 {object} apiError
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /admin/failed-events/{id}/reprocess [post]
func (h *AdminHandler) ReprocessFailedEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.admin.ReprocessOne(r.Context(), id); err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "failed event not found")
			return
		}
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, apiError{Message: "reprocessed"})
}

// IgnoreFailedEvent godoc
// @Summary Mark a dead-lettered message as permanently ignored
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "failed event id (uuid)"
// @Param request body ignoreDTO true "ignore reason"
// @Success 200 {object} apiError
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /admin/failed-events/{id}/ignore [post]
func (h *AdminHandler) IgnoreFailedEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	var dto ignoreDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil || dto.Reason == "" {
		writeErr(w, http.StatusBadRequest, "reason is required")
		return
	}
	if err := h.admin.IgnoreOne(r.Context(), id, dto.Reason); err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "failed event not found or not in FAILED")
			return
		}
		writeErr(w, http.StatusInternalServerError, "ignore failed")
		return
	}
	writeJSON(w, http.StatusOK, apiError{Message: "ignored"})
}

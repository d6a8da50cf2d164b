package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/intake"
	"jd-summary-service/internal/repository/postgresql"
)

type SubmissionService interface {
	Submit(ctx context.Context, req intake.SubmitRequest) (intake.SubmitResult, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*entity.ProcessingRecord, error)
}

type SummaryReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.JobSummary, error)
}

type Handler struct {
	intake    SubmissionService
	summaries SummaryReader
}

func NewHandler(intakeSvc SubmissionService, summaries SummaryReader) *Handler {
	return &Handler{intake: intakeSvc, summaries: summaries}
}

type createSubmissionDTO struct {
	SourceType string   `json:"source_type"` // TEXT, OCR or URL
	SourceURL  string   `json:"source_url,omitempty"`
	RawText    string   `json:"raw_text"`
	Brand      string   `json:"brand,omitempty"`
	Position   string   `json:"position,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	PeriodFrom string   `json:"period_from,omitempty"` // RFC3339
	PeriodTo   string   `json:"period_to,omitempty"`
}

type createSubmissionResp struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	DuplicateReason string `json:"duplicate_reason,omitempty"`
}

type submissionResp struct {
	ID              string  `json:"id"`
	SourceType      string  `json:"source_type"`
	SourceURL       *string `json:"source_url,omitempty"`
	Status          string  `json:"status"`
	SnapshotID      *string `json:"snapshot_id,omitempty"`
	SummaryID       *string `json:"summary_id,omitempty"`
	DuplicateReason *string `json:"duplicate_reason,omitempty"`
	ErrorCode       *string `json:"error_code,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// CreateSubmission godoc
// @Summary Submit a job description for summarization
// @Description Deduplicates the text and, when accepted, enqueues it for asynchronous summarization. Duplicates and validation failures terminate immediately.
// @Tags submissions
// @Accept json
// @Produce json
// @Param request body createSubmissionDTO true "submission payload (source_type: TEXT, OCR or URL)"
// @Success 202 {object} createSubmissionResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /submissions [post]
func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	var dto createSubmissionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	var srcType entity.SourceType
	switch entity.SourceType(dto.SourceType) {
	case entity.SourceText, entity.SourceOCR, entity.SourceURL:
		srcType = entity.SourceType(dto.SourceType)
	default:
		writeErr(w, http.StatusBadRequest, "source_type must be TEXT, OCR or URL")
		return
	}
	if srcType == entity.SourceURL && dto.SourceURL == "" {
		writeErr(w, http.StatusBadRequest, "source_url is required for URL submissions")
		return
	}
	if dto.RawText == "" {
		writeErr(w, http.StatusBadRequest, "raw_text is required")
		return
	}

	req := intake.SubmitRequest{
		SourceType:   srcType,
		SourceURL:    dto.SourceURL,
		RawText:      dto.RawText,
		BrandHint:    dto.Brand,
		PositionHint: dto.Position,
		Skills:       dto.Skills,
	}
	var err error
	if req.PeriodFrom, err = parseTime(dto.PeriodFrom); err != nil {
		writeErr(w, http.StatusBadRequest, "period_from must be RFC3339")
		return
	}
	if req.PeriodTo, err = parseTime(dto.PeriodTo); err != nil {
		writeErr(w, http.StatusBadRequest, "period_to must be RFC3339")
		return
	}

	res, err := h.intake.Submit(r.Context(), req)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "submission failed")
		return
	}

	resp := createSubmissionResp{ID: res.RecordID.String(), Status: string(res.Status)}
	if res.Status == entity.StatusDuplicate {
		resp.DuplicateReason = string(res.Decision.Reason)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GetSubmission godoc
// @Summary Get submission state by id
// @Tags submissions
// @Produce json
// @Param id path string true "processing record id (uuid)"
// @Success 200 {object} submissionResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /submissions/{id} [get]
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	rec, err := h.intake.GetRecord(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "submission not found")
		return
	}

	resp := submissionResp{
		ID:              rec.ID.String(),
		SourceType:      string(rec.SourceType),
		SourceURL:       rec.SourceURL,
		Status:          string(rec.Status),
		DuplicateReason: rec.DuplicateReason,
		ErrorCode:       rec.ErrorCode,
		ErrorMessage:    rec.ErrorMsg,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.SnapshotID != nil {
		s := rec.SnapshotID.String()
		resp.SnapshotID = &s
	}
	if rec.SummaryID != nil {
		s := rec.SummaryID.String()
		resp.SummaryID = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSubmissionSummary godoc
// @Summary Get the finished summary for a submission
// @Tags submissions
// @Produce json
// @Param id path string true "processing record id (uuid)"
// @Success 200 {object} entity.JobSummary
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /submissions/{id}/summary [get]
func (h *Handler) GetSubmissionSummary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	rec, err := h.intake.GetRecord(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "submission not found")
		return
	}
	if rec.Status != entity.StatusCompleted || rec.SummaryID == nil {
		writeErr(w, http.StatusConflict, "summarization not complete: "+string(rec.Status))
		return
	}

	summary, err := h.summaries.GetByID(r.Context(), *rec.SummaryID)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "summary not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "summary lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

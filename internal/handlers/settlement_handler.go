package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/transitpay/backoffice/internal/config"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/middleware"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/services"
)

const maxJSONBody = 1_048_576

type SettlementHandler struct {
	service   *services.ReconciliationService
	validator *services.ValidationHelper
	maxUpload int64
}

// ResolutionRequest carries the corrected identity for an unmatched line
// @Description Manual resolution request
type ResolutionRequest struct {
	Identity string `json:"identity" example:"118520147"`
}

// CreditRequest selects the lines to credit
// @Description Credit application request
type CreditRequest struct {
	LineIDs []string `json:"lineIds" validate:"required,min=1,dive,required"`
}

// IngestResponse is returned after a settlement upload
type IngestResponse struct {
	File        models.SettlementFile `json:"file"`
	ParseErrors []models.ParseError   `json:"parseErrors"`
}

// CreditFailureResponse reports a systemic failure together with what was
// decided before it.
type CreditFailureResponse struct {
	services.ErrorResponse
	Summary *models.BatchSummary `json:"summary,omitempty"`
}

func NewSettlementHandler(service *services.ReconciliationService, cfg *config.ReconciliationConfig) *SettlementHandler {
	return &SettlementHandler{
		service:   service,
		validator: service.Validator(),
		maxUpload: cfg.MaxUploadBytes,
	}
}

// Register mounts the settlement routes on r.
func (h *SettlementHandler) Register(r chi.Router) {
	r.Post("/settlements/files", h.UploadFile)
	r.Get("/settlements/files", h.ListFiles)
	r.Get("/settlements/files/{fileId}", h.GetFile)
	r.Get("/settlements/files/{fileId}/lines", h.GetLines)
	r.Post("/settlements/files/{fileId}/match", h.MatchAll)
	r.Get("/settlements/files/{fileId}/batches", h.GetBatches)
	r.Get("/settlements/files/{fileId}/duplicates", h.GetDuplicates)
	r.Get("/settlements/files/{fileId}/duplicates.xlsx", h.ExportDuplicates)
	r.Post("/settlements/lines/{lineId}/resolution", h.ProposeResolution)
	r.Post("/settlements/resolutions/{token}/confirm", h.ConfirmResolution)
	r.Post("/settlements/credits", h.ApplyCredits)
}

// UploadFile ingests a settlement file
// @Summary Upload settlement file
// @Description Parse a CSV or XLSX settlement file and store its lines unmatched
// @Tags settlements
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Settlement file (.csv or .xlsx)"
// @Success 201 {object} IngestResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 413 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /settlements/files [post]
func (h *SettlementHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			services.SendErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge, nil)
			return
		}
		services.SendErrorResponse(w, "Multipart field 'file' is required", http.StatusBadRequest, nil)
		return
	}
	defer file.Close()

	result, err := h.service.IngestFile(r.Context(), header.Filename, operator, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	parseErrors := result.ParseErrors
	if parseErrors == nil {
		parseErrors = []models.ParseError{}
	}
	writeJSON(w, http.StatusCreated, IngestResponse{File: result.File, ParseErrors: parseErrors})
}

// ListFiles returns the settlement history
// @Summary List settlement files
// @Description Settlement file history, newest first. Dates are YYYY-MM-DD or RFC3339; a date-only 'to' includes that day.
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param from query string false "Uploaded at or after"
// @Param to query string false "Uploaded before"
// @Param uploadedBy query string false "Uploading operator"
// @Param fileName query string false "File name contains (case-insensitive)"
// @Param limit query int false "Maximum results"
// @Success 200 {array} models.SettlementFile
// @Failure 400 {object} services.ErrorResponse
// @Router /settlements/files [get]
func (h *SettlementHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFileFilter(r)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	files, err := h.service.GetHistory(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if files == nil {
		files = []models.SettlementFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

// GetFile returns one settlement file
// @Summary Get settlement file
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param fileId path string true "File ID"
// @Success 200 {object} models.SettlementFile
// @Failure 404 {object} services.ErrorResponse
// @Router /settlements/files/{fileId} [get]
func (h *SettlementHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.service.GetFile(r.Context(), chi.URLParam(r, "fileId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// GetLines returns the lines of a settlement file
// @Summary Get settlement lines
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param fileId path string true "File ID"
// @Success 200 {array} models.SettlementLine
// @Failure 404 {object} services.ErrorResponse
// @Router /settlements/files/{fileId}/lines [get]
func (h *SettlementHandler) GetLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.GetLines(r.Context(), chi.URLParam(r, "fileId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

// MatchAll runs automatic matching
// @Summary Match settlement lines
// @Description Look up every unmatched line in the passenger directory
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param fileId path string true "File ID"
// @Success 200 {object} services.MatchReport
// @Failure 404 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /settlements/files/{fileId}/match [post]
func (h *SettlementHandler) MatchAll(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireOperator(w, r); !ok {
		return
	}
	report, err := h.service.MatchAll(r.Context(), chi.URLParam(r, "fileId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetBatches returns the credit batches that touched a file
// @Summary Get credit batches
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param fileId path string true "File ID"
// @Success 200 {array} models.CreditBatch
// @Failure 404 {object} services.ErrorResponse
// @Router /settlements/files/{fileId}/batches [get]
func (h *SettlementHandler) GetBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.GetBatches(r.Context(), chi.URLParam(r, "fileId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if batches == nil {
		batches = []models.CreditBatch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

// GetDuplicates lists lines excluded as duplicates
// @Summary Duplicate audit
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param fileId path string true "File ID"
// @Success 200 {array} models.CreditApplicationRecord
// @Failure 404 {object} services.ErrorResponse
// @Router /settlements/files/{fileId}/duplicates [get]
func (h *SettlementHandler) GetDuplicates(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.DuplicateAuditList(r.Context(), chi.URLParam(r, "fileId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ExportDuplicates renders the duplicate audit as a workbook
// @Summary Duplicate audit workbook
// @Tags settlements
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param fileId path string true "File ID"
// @Success 200 {file} file
// @Failure 404 {object} services.ErrorResponse
// @Router /settlements/files/{fileId}/duplicates.xlsx [get]
func (h *SettlementHandler) ExportDuplicates(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")
	file, err := h.service.GetFile(r.Context(), fileID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	records, err := h.service.DuplicateAuditList(r.Context(), fileID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	data, err := services.BuildDuplicatesXLSX(file, records)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("file_id", fileID).Msg("[EXPORT] Workbook rendering failed")
		services.SendErrorResponse(w, "Failed to render workbook", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"duplicates-%s.xlsx\"", fileID))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ProposeResolution validates a corrected identity
// @Summary Propose manual resolution
// @Description Validate the corrected identity and look it up. Nothing changes until the proposal is confirmed.
// @Tags settlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param lineId path string true "Line ID"
// @Param request body ResolutionRequest true "Corrected identity"
// @Success 200 {object} services.ResolutionProposal
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse "Line or passenger not found"
// @Failure 409 {object} services.ErrorResponse "Line already matched or credited"
// @Failure 422 {object} services.ErrorResponse "Malformed identity"
// @Router /settlements/lines/{lineId}/resolution [post]
func (h *SettlementHandler) ProposeResolution(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var req ResolutionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	proposal, err := h.service.ProposeResolution(r.Context(), chi.URLParam(r, "lineId"), req.Identity, operator)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

// ConfirmResolution executes a proposal
// @Summary Confirm manual resolution
// @Tags settlements
// @Produce json
// @Security BearerAuth
// @Param token path string true "Proposal token"
// @Success 200 {object} services.ResolvedPassenger
// @Failure 404 {object} services.ErrorResponse "Proposal expired or unknown"
// @Failure 409 {object} services.ErrorResponse "Line changed since the proposal"
// @Router /settlements/resolutions/{token}/confirm [post]
func (h *SettlementHandler) ConfirmResolution(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	resolved, err := h.service.ConfirmResolution(r.Context(), chi.URLParam(r, "token"), operator)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// ApplyCredits credits the selected lines
// @Summary Apply credits
// @Description Credit matched, uncredited lines. Lines already credited are reported, never credited twice.
// @Tags settlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Replays the stored summary for a repeated request"
// @Param request body CreditRequest true "Lines to credit"
// @Success 200 {object} models.BatchSummary
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 503 {object} CreditFailureResponse "Backend unavailable; summary holds what was decided"
// @Router /settlements/credits [post]
func (h *SettlementHandler) ApplyCredits(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var req CreditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	summary, err := h.service.ApplyCredits(r.Context(), req.LineIDs, operator, key)
	if err != nil {
		if summary != nil && errors.Is(err, services.ErrSystemic) {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("batch_id", summary.BatchID).Msg("[RECON] Credit batch aborted")
			writeJSON(w, http.StatusServiceUnavailable, CreditFailureResponse{
				ErrorResponse: services.ErrorResponse{Error: "Credit batch aborted, retry later", Retryable: true},
				Summary:       summary,
			})
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func requireOperator(w http.ResponseWriter, r *http.Request) (string, bool) {
	operator := middleware.OperatorID(r.Context())
	if operator == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return operator, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		services.SendErrorResponse(w, "Validation failed", http.StatusUnprocessableEntity, verr)
	case errors.Is(err, services.ErrParse):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrFileNotFound),
		errors.Is(err, services.ErrLineNotFound),
		errors.Is(err, services.ErrProposalNotFound),
		errors.Is(err, services.ErrMatchNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrLineNotEligible):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, services.ErrSystemic):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("[HTTP] Backend unavailable")
		services.SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("[HTTP] Unexpected error")
		services.SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

func parseFileFilter(r *http.Request) (models.FileFilter, error) {
	q := r.URL.Query()
	filter := models.FileFilter{
		UploadedBy: q.Get("uploadedBy"),
		FileName:   q.Get("fileName"),
	}

	if v := q.Get("from"); v != "" {
		t, _, err := parseQueryTime(v)
		if err != nil {
			return filter, fmt.Errorf("invalid 'from': %s", v)
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, dateOnly, err := parseQueryTime(v)
		if err != nil {
			return filter, fmt.Errorf("invalid 'to': %s", v)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		filter.To = &t
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, errors.New("'to' must not be before 'from'")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, fmt.Errorf("invalid 'limit': %s", v)
		}
		filter.Limit = n
	}
	return filter, nil
}

func parseQueryTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}

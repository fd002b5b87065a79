package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/middleware"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/service"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

type timetableGenerator interface {
	Generate(ctx context.Context, schoolID string, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
	Save(ctx context.Context, schoolID, proposalID string) (*dto.SaveProposalResponse, error)
	List(ctx context.Context, schoolID string) ([]dto.StoredTimetable, bool, error)
	Export(ctx context.Context, schoolID string, query dto.ExportQuery) (*service.ExportFile, error)
}

type timetableJobs interface {
	Submit(ctx context.Context, schoolID string, req dto.GenerateTimetableRequest) (*models.TimetableJob, error)
	Get(schoolID, id string) (*models.TimetableJob, error)
}

// TimetableHandler exposes timetable generation endpoints.
type TimetableHandler struct {
	service timetableGenerator
	jobs    timetableJobs
	// jobsPath is the externally visible prefix of the job status route.
	jobsPath string
}

// NewTimetableHandler constructs the handler. jobs may be nil when async
// generation is disabled.
func NewTimetableHandler(svc *service.TimetableService, jobs *service.TimetableJobService, apiPrefix string) *TimetableHandler {
	h := &TimetableHandler{service: svc, jobsPath: apiPrefix + "/timetable-jobs/"}
	if jobs != nil {
		h.jobs = jobs
	}
	return h
}

// Generate godoc
// @Summary Generate timetables for every stream of a school
// @Description Runs the scheduling engine over the school's current data. By default the result is a preview proposal that must be saved explicitly; set dryRun=false to persist immediately.
// @Tags Timetables
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Param payload body dto.GenerateTimetableRequest false "Engine overrides"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /schools/{schoolId}/timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}
	resp, err := h.service.Generate(c.Request.Context(), middleware.SchoolID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// SaveProposal godoc
// @Summary Persist a generated proposal
// @Tags Timetables
// @Produce json
// @Security BearerAuth
// @Param proposalId path string true "Proposal ID"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /timetables/proposals/{proposalId}/save [post]
func (h *TimetableHandler) SaveProposal(c *gin.Context) {
	resp, err := h.service.Save(c.Request.Context(), middleware.SchoolID(c), c.Param("proposalId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// List godoc
// @Summary List stored timetables of a school
// @Tags Timetables
// @Produce json
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /schools/{schoolId}/timetables [get]
func (h *TimetableHandler) List(c *gin.Context) {
	items, hit, err := h.service.List(c.Request.Context(), middleware.SchoolID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, items, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Download stored timetables
// @Tags Timetables
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce text/calendar
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Param format query string false "Export format" Enums(csv, pdf, xlsx, ics)
// @Param weekStart query string false "First week of a calendar export (YYYY-MM-DD)"
// @Param weeks query int false "Weeks covered by a calendar export"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /schools/{schoolId}/timetables/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	file, err := h.service.Export(c.Request.Context(), middleware.SchoolID(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// SubmitJob godoc
// @Summary Queue an asynchronous generation
// @Tags Timetables
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Param payload body dto.GenerateTimetableRequest false "Engine overrides"
// @Success 202 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /schools/{schoolId}/timetables/jobs [post]
func (h *TimetableHandler) SubmitJob(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, appErrors.ErrFeatureDisabled)
		return
	}
	req, ok := bindGenerateRequest(c)
	if !ok {
		return
	}
	job, err := h.jobs.Submit(c.Request.Context(), middleware.SchoolID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, fmt.Sprintf("%s%s", h.jobsPath, job.ID), job)
}

// GetJob godoc
// @Summary Get the status of an asynchronous generation
// @Tags Timetables
// @Produce json
// @Security BearerAuth
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetable-jobs/{id} [get]
func (h *TimetableHandler) GetJob(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, appErrors.ErrFeatureDisabled)
		return
	}
	job, err := h.jobs.Get(middleware.SchoolID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// bindGenerateRequest accepts an empty body as "all defaults".
func bindGenerateRequest(c *gin.Context) (dto.GenerateTimetableRequest, bool) {
	var req dto.GenerateTimetableRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable generation payload"))
		return req, false
	}
	return req, true
}

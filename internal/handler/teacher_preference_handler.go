package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/middleware"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/service"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

type teacherPreferenceService interface {
	Get(ctx context.Context, schoolID, teacherID string) (*models.TeacherPreference, error)
	Upsert(ctx context.Context, schoolID, teacherID string, req service.UpsertTeacherPreferenceRequest) (*models.TeacherPreference, error)
}

// TeacherPreferenceHandler exposes teacher availability and daily load limits.
type TeacherPreferenceHandler struct {
	service teacherPreferenceService
}

// NewTeacherPreferenceHandler constructs the handler.
func NewTeacherPreferenceHandler(svc teacherPreferenceService) *TeacherPreferenceHandler {
	return &TeacherPreferenceHandler{service: svc}
}

// Get godoc
// @Summary Get teacher preferences
// @Tags Teachers
// @Produce json
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Param teacherId path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schools/{schoolId}/teachers/{teacherId}/preferences [get]
func (h *TeacherPreferenceHandler) Get(c *gin.Context) {
	pref, err := h.service.Get(c.Request.Context(), middleware.SchoolID(c), c.Param("teacherId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pref, nil)
}

// Upsert godoc
// @Summary Replace teacher preferences
// @Description Preferences become hard constraints of the next generation run.
// @Tags Teachers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Param teacherId path string true "Teacher ID"
// @Param payload body service.UpsertTeacherPreferenceRequest true "Preference payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schools/{schoolId}/teachers/{teacherId}/preferences [put]
func (h *TeacherPreferenceHandler) Upsert(c *gin.Context) {
	var req service.UpsertTeacherPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preference payload"))
		return
	}
	pref, err := h.service.Upsert(c.Request.Context(), middleware.SchoolID(c), c.Param("teacherId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pref, nil)
}

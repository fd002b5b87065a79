package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type teacherLookup interface {
	FindSchool(ctx context.Context, id string) (*models.School, error)
	FindTeacher(ctx context.Context, schoolID, teacherID string) (*models.Teacher, error)
}

type teacherPreferenceRepo interface {
	GetByTeacher(ctx context.Context, teacherID string) (*models.TeacherPreference, error)
	Upsert(ctx context.Context, pref *models.TeacherPreference) error
}

// UpsertTeacherPreferenceRequest captures payload to store preferences.
type UpsertTeacherPreferenceRequest struct {
	MaxLoadPerDay int                             `json:"max_load_per_day" validate:"min=0,max=12"`
	Unavailable   []models.TeacherUnavailableSlot `json:"unavailable" validate:"max=60,dive"`
}

// TeacherPreferenceService manages the preferences that generation turns
// into hard teacher constraints.
type TeacherPreferenceService struct {
	data      teacherLookup
	repo      teacherPreferenceRepo
	engine    engine.Options
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherPreferenceService builds the service. opts supplies the grid
// sizes unavailable periods are checked against.
func NewTeacherPreferenceService(data teacherLookup, repo teacherPreferenceRepo, opts engine.Options, validate *validator.Validate, logger *zap.Logger) *TeacherPreferenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.PeriodsByType) == 0 {
		opts.PeriodsByType = engine.DefaultOptions().PeriodsByType
	}
	return &TeacherPreferenceService{
		data:      data,
		repo:      repo,
		engine:    opts,
		validator: validate,
		logger:    logger,
	}
}

// Get returns stored preferences or empty defaults.
func (s *TeacherPreferenceService) Get(ctx context.Context, schoolID, teacherID string) (*models.TeacherPreference, error) {
	if _, err := s.teacher(ctx, schoolID, teacherID); err != nil {
		return nil, err
	}

	pref, err := s.repo.GetByTeacher(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.TeacherPreference{TeacherID: teacherID, Unavailable: types.JSONText("[]")}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher preferences")
	}
	return pref, nil
}

// Upsert stores preferences for a teacher of the school.
func (s *TeacherPreferenceService) Upsert(ctx context.Context, schoolID, teacherID string, req UpsertTeacherPreferenceRequest) (*models.TeacherPreference, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preference payload")
	}
	school, err := s.teacher(ctx, schoolID, teacherID)
	if err != nil {
		return nil, err
	}

	grid := engine.NewGrid(school.SchoolType, s.engine.PeriodsByType, s.engine.DefaultSchoolType)
	for i, slot := range req.Unavailable {
		if grid.DayIndex(slot.Day) < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unavailable[%d]: unknown day %q", i, slot.Day))
		}
		if slot.Period < 0 || slot.Period > grid.PeriodsPerDay {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unavailable[%d]: period must be between 1 and %d", i, grid.PeriodsPerDay))
		}
	}

	raw := types.JSONText("[]")
	if len(req.Unavailable) > 0 {
		encoded, err := json.Marshal(req.Unavailable)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid unavailable payload")
		}
		raw = types.JSONText(encoded)
	}

	payload := &models.TeacherPreference{
		TeacherID:     teacherID,
		MaxLoadPerDay: req.MaxLoadPerDay,
		Unavailable:   raw,
	}

	existing, err := s.repo.GetByTeacher(ctx, teacherID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher preferences")
	}
	if existing != nil {
		payload.ID = existing.ID
		payload.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.Upsert(ctx, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upsert teacher preferences")
	}
	s.logger.Info("teacher preferences updated",
		zap.String("school_id", schoolID),
		zap.String("teacher_id", teacherID),
		zap.Int("unavailable", len(req.Unavailable)),
	)
	return payload, nil
}

func (s *TeacherPreferenceService) teacher(ctx context.Context, schoolID, teacherID string) (*models.School, error) {
	school, err := s.data.FindSchool(ctx, schoolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, loadError(err, "school")
	}
	if _, err := s.data.FindTeacher(ctx, schoolID, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, loadError(err, "teacher")
	}
	return school, nil
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type schoolDataReader interface {
	FindSchool(ctx context.Context, id string) (*models.School, error)
	ListSubjects(ctx context.Context, schoolID string) ([]models.Subject, error)
	ListTeachers(ctx context.Context, schoolID string) ([]models.Teacher, error)
	ListTeacherSubjects(ctx context.Context, schoolID string) ([]models.TeacherSubject, error)
	ListStreams(ctx context.Context, schoolID string) ([]models.Stream, error)
	ListStreamSubjects(ctx context.Context, schoolID string) ([]models.StreamSubject, error)
	ListConstraints(ctx context.Context, schoolID string) ([]models.Constraint, error)
}

type teacherPreferenceReader interface {
	ListBySchool(ctx context.Context, schoolID string) ([]models.TeacherPreference, error)
}

// LoadInput reads every record of the school and assembles the engine input.
func (s *TimetableService) LoadInput(ctx context.Context, schoolID string) (engine.Input, error) {
	school, err := s.data.FindSchool(ctx, schoolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engine.Input{}, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return engine.Input{}, loadError(err, "school")
	}
	subjects, err := s.data.ListSubjects(ctx, schoolID)
	if err != nil {
		return engine.Input{}, loadError(err, "subjects")
	}
	teachers, err := s.data.ListTeachers(ctx, schoolID)
	if err != nil {
		return engine.Input{}, loadError(err, "teachers")
	}
	links, err := s.data.ListTeacherSubjects(ctx, schoolID)
	if err != nil {
		return engine.Input{}, loadError(err, "teacher subjects")
	}
	streams, err := s.data.ListStreams(ctx, schoolID)
	if err != nil {
		return engine.Input{}, loadError(err, "streams")
	}
	demand, err := s.data.ListStreamSubjects(ctx, schoolID)
	if err != nil {
		return engine.Input{}, loadError(err, "stream subjects")
	}
	constraints, err := s.data.ListConstraints(ctx, schoolID)
	if err != nil {
		return engine.Input{}, loadError(err, "constraints")
	}
	var prefs []models.TeacherPreference
	if s.prefs != nil {
		if prefs, err = s.prefs.ListBySchool(ctx, schoolID); err != nil {
			return engine.Input{}, loadError(err, "teacher preferences")
		}
	}

	in := engine.Input{
		School: engine.SchoolRecord{
			ID:                school.ID,
			Type:              school.SchoolType,
			TimetableTemplate: school.TimetableTemplate,
		},
	}
	for _, subject := range subjects {
		in.Subjects = append(in.Subjects, engine.SubjectRecord{ID: subject.ID, Name: subject.Name, Difficulty: subject.Difficulty})
	}

	qualified := make(map[string][]string, len(teachers))
	for _, link := range links {
		qualified[link.TeacherID] = append(qualified[link.TeacherID], link.SubjectID)
	}
	for _, teacher := range teachers {
		in.Teachers = append(in.Teachers, engine.TeacherRecord{
			ID:                teacher.ID,
			Name:              teacher.FullName,
			Subjects:          qualified[teacher.ID],
			WorkloadTarget:    teacher.WorkloadTarget,
			MaxLessonsPerWeek: teacher.MaxLessonsPerWeek,
		})
	}

	requirements := make(map[string][]engine.RequirementRecord, len(streams))
	for _, d := range demand {
		requirements[d.StreamID] = append(requirements[d.StreamID], engine.RequirementRecord{SubjectID: d.SubjectID, WeeklyLessons: d.WeeklyLessons})
	}
	for _, stream := range streams {
		in.Streams = append(in.Streams, engine.StreamRecord{
			ID:            stream.ID,
			Grade:         stream.Grade,
			StreamName:    stream.Name,
			PeriodsPerDay: stream.PeriodsPerDay,
			Requirements:  requirements[stream.ID],
		})
	}

	for _, c := range constraints {
		var rule engine.RuleSpec
		if err := json.Unmarshal(c.Rule, &rule); err != nil {
			return engine.Input{}, appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrUnsupportedConstraint, fmt.Sprintf("constraint %q has a malformed rule", c.ID)),
				schedulingDetails{Kind: engine.KindUnsupportedConstraint, RecordID: c.ID},
			)
		}
		in.Constraints = append(in.Constraints, engine.ConstraintRecord{
			ID:     c.ID,
			Rule:   rule,
			Level:  engine.Level(c.Level),
			Scope:  c.Scope,
			Weight: c.Weight,
		})
	}

	prefRecords, err := preferenceConstraints(prefs)
	if err != nil {
		return engine.Input{}, err
	}
	in.Constraints = append(in.Constraints, prefRecords...)
	return in, nil
}

// preferenceConstraints turns teacher self-declared limits into hard rules.
func preferenceConstraints(prefs []models.TeacherPreference) ([]engine.ConstraintRecord, error) {
	var out []engine.ConstraintRecord
	for _, pref := range prefs {
		if pref.MaxLoadPerDay > 0 {
			limit := pref.MaxLoadPerDay
			out = append(out, engine.ConstraintRecord{
				ID:    fmt.Sprintf("pref:%s:max-daily", pref.TeacherID),
				Rule:  engine.RuleSpec{Category: string(engine.CategoryMaxDailyLessons), Teacher: pref.TeacherID, Max: &limit},
				Level: engine.LevelHard,
			})
		}
		if len(pref.Unavailable) == 0 {
			continue
		}
		var slots []models.TeacherUnavailableSlot
		if err := json.Unmarshal(pref.Unavailable, &slots); err != nil {
			return nil, appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrUnsupportedConstraint, fmt.Sprintf("teacher %q has malformed unavailability", pref.TeacherID)),
				schedulingDetails{Kind: engine.KindUnsupportedConstraint, Scope: engine.Scope{TeacherID: pref.TeacherID}},
			)
		}
		for i, slot := range slots {
			out = append(out, engine.ConstraintRecord{
				ID:    fmt.Sprintf("pref:%s:unavailable:%d", pref.TeacherID, i+1),
				Rule:  engine.RuleSpec{Category: string(engine.CategoryTeacherUnavailable), Teacher: pref.TeacherID, Day: slot.Day, Period: slot.Period},
				Level: engine.LevelHard,
			})
		}
	}
	return out, nil
}

func loadError(err error, what string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+what)
}

package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable/internal/models"
)

// SchoolDataRepository reads the records a timetable run is built from.
type SchoolDataRepository struct {
	db *sqlx.DB
}

// NewSchoolDataRepository constructs the repository.
func NewSchoolDataRepository(db *sqlx.DB) *SchoolDataRepository {
	return &SchoolDataRepository{db: db}
}

// FindSchool returns the school by id. A missing school wraps sql.ErrNoRows.
func (r *SchoolDataRepository) FindSchool(ctx context.Context, id string) (*models.School, error) {
	const query = `SELECT id, name, school_type, COALESCE(timetable_template, '') AS timetable_template, created_at, updated_at FROM schools WHERE id = $1`
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		return nil, fmt.Errorf("find school: %w", err)
	}
	return &school, nil
}

// FindTeacher returns a teacher of the school. A missing teacher wraps sql.ErrNoRows.
func (r *SchoolDataRepository) FindTeacher(ctx context.Context, schoolID, teacherID string) (*models.Teacher, error) {
	const query = `SELECT id, school_id, full_name, COALESCE(workload_target, 0) AS workload_target, COALESCE(max_lessons_per_week, 0) AS max_lessons_per_week, active
FROM teachers WHERE school_id = $1 AND id = $2`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, schoolID, teacherID); err != nil {
		return nil, fmt.Errorf("find teacher: %w", err)
	}
	return &teacher, nil
}

// ListSubjects returns the school's subjects ordered by id.
func (r *SchoolDataRepository) ListSubjects(ctx context.Context, schoolID string) ([]models.Subject, error) {
	const query = `SELECT id, school_id, code, name, COALESCE(difficulty, 0) AS difficulty FROM subjects WHERE school_id = $1 ORDER BY id`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, schoolID); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// ListTeachers returns the school's active teachers ordered by id.
func (r *SchoolDataRepository) ListTeachers(ctx context.Context, schoolID string) ([]models.Teacher, error) {
	const query = `SELECT id, school_id, full_name, COALESCE(workload_target, 0) AS workload_target, COALESCE(max_lessons_per_week, 0) AS max_lessons_per_week, active
FROM teachers WHERE school_id = $1 AND active = TRUE ORDER BY id`
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, schoolID); err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	return teachers, nil
}

// ListTeacherSubjects returns qualification links of the school's active teachers.
func (r *SchoolDataRepository) ListTeacherSubjects(ctx context.Context, schoolID string) ([]models.TeacherSubject, error) {
	const query = `SELECT ts.teacher_id, ts.subject_id FROM teacher_subjects ts
JOIN teachers t ON t.id = ts.teacher_id
WHERE t.school_id = $1 AND t.active = TRUE ORDER BY ts.teacher_id, ts.subject_id`
	var links []models.TeacherSubject
	if err := r.db.SelectContext(ctx, &links, query, schoolID); err != nil {
		return nil, fmt.Errorf("list teacher subjects: %w", err)
	}
	return links, nil
}

// ListStreams returns the school's streams ordered by id.
func (r *SchoolDataRepository) ListStreams(ctx context.Context, schoolID string) ([]models.Stream, error) {
	const query = `SELECT id, school_id, grade, stream_name, COALESCE(periods_per_day, 0) AS periods_per_day FROM streams WHERE school_id = $1 ORDER BY id`
	var streams []models.Stream
	if err := r.db.SelectContext(ctx, &streams, query, schoolID); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return streams, nil
}

// ListStreamSubjects returns the weekly demand of every stream of the school.
func (r *SchoolDataRepository) ListStreamSubjects(ctx context.Context, schoolID string) ([]models.StreamSubject, error) {
	const query = `SELECT ss.stream_id, ss.subject_id, ss.weekly_lessons FROM stream_subjects ss
JOIN streams s ON s.id = ss.stream_id
WHERE s.school_id = $1 ORDER BY ss.stream_id, ss.subject_id`
	var demand []models.StreamSubject
	if err := r.db.SelectContext(ctx, &demand, query, schoolID); err != nil {
		return nil, fmt.Errorf("list stream subjects: %w", err)
	}
	return demand, nil
}

// ListConstraints returns the school's active constraints ordered by id.
func (r *SchoolDataRepository) ListConstraints(ctx context.Context, schoolID string) ([]models.Constraint, error) {
	const query = `SELECT id, school_id, level, COALESCE(scope, '') AS scope, COALESCE(weight, 0) AS weight, rule
FROM constraints WHERE school_id = $1 AND active = TRUE ORDER BY id`
	var constraints []models.Constraint
	if err := r.db.SelectContext(ctx, &constraints, query, schoolID); err != nil {
		return nil, fmt.Errorf("list constraints: %w", err)
	}
	return constraints, nil
}

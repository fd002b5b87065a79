package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable/internal/models"
)

// TimetableRepository stores generated stream timetables.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository builds the repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

func (r *TimetableRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Replace stores rows, deleting any earlier timetable of the same school and
// stream first, then drops the timetables of streams the school no longer has.
// Pass a transaction to make the batch atomic.
func (r *TimetableRepository) Replace(ctx context.Context, exec sqlx.ExtContext, rows []models.Timetable) error {
	target := r.exec(exec)
	now := time.Now().UTC()

	const deleteQuery = `DELETE FROM timetables WHERE school_id = $1 AND stream_id = $2`
	const pruneQuery = `DELETE FROM timetables WHERE school_id = $1
AND stream_id NOT IN (SELECT id FROM streams WHERE school_id = $1)`
	const insertQuery = `
INSERT INTO timetables (id, school_id, stream_id, timetable_data, generated_by, template_type, score, created_at, updated_at)
VALUES (:id, :school_id, :stream_id, :timetable_data, :generated_by, :template_type, :score, :created_at, :updated_at)`

	var schools []string
	seen := map[string]bool{}
	for i := range rows {
		row := &rows[i]
		if !seen[row.SchoolID] {
			seen[row.SchoolID] = true
			schools = append(schools, row.SchoolID)
		}
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		row.UpdatedAt = now
		if _, err := target.ExecContext(ctx, deleteQuery, row.SchoolID, row.StreamID); err != nil {
			return fmt.Errorf("delete previous timetable of stream %s: %w", row.StreamID, err)
		}
		if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, row); err != nil {
			return fmt.Errorf("insert timetable of stream %s: %w", row.StreamID, err)
		}
	}
	for _, schoolID := range schools {
		if _, err := target.ExecContext(ctx, pruneQuery, schoolID); err != nil {
			return fmt.Errorf("prune timetables of removed streams in school %s: %w", schoolID, err)
		}
	}
	return nil
}

// ListBySchool returns the school's stored timetables ordered by stream.
func (r *TimetableRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.Timetable, error) {
	const query = `SELECT id, school_id, stream_id, timetable_data, generated_by, template_type, score, created_at, updated_at
FROM timetables WHERE school_id = $1 ORDER BY stream_id ASC`
	var rows []models.Timetable
	if err := r.db.SelectContext(ctx, &rows, query, schoolID); err != nil {
		return nil, fmt.Errorf("list timetables: %w", err)
	}
	return rows, nil
}

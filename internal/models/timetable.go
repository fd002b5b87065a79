package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Timetable is the stored weekly timetable of one stream.
type Timetable struct {
	ID            string         `db:"id" json:"id"`
	SchoolID      string         `db:"school_id" json:"school_id"`
	StreamID      string         `db:"stream_id" json:"stream_id"`
	TimetableData types.JSONText `db:"timetable_data" json:"timetable_data"`
	GeneratedBy   string         `db:"generated_by" json:"generated_by"`
	TemplateType  string         `db:"template_type" json:"template_type"`
	Score         float64        `db:"score" json:"score"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

package models

import "time"

// School owns every record taking part in a timetable run.
type School struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	SchoolType        string    `db:"school_type" json:"school_type"`
	TimetableTemplate string    `db:"timetable_template" json:"timetable_template"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TeacherUnavailableSlot describes a blocked teaching window. Period zero
// blocks the whole day.
type TeacherUnavailableSlot struct {
	Day    string `json:"day"`
	Period int    `json:"period,omitempty"`
}

// TeacherPreference stores self-declared capacity and availability of a teacher.
type TeacherPreference struct {
	ID            string         `db:"id" json:"id"`
	TeacherID     string         `db:"teacher_id" json:"teacher_id"`
	MaxLoadPerDay int            `db:"max_load_per_day" json:"max_load_per_day"`
	Unavailable   types.JSONText `db:"unavailable" json:"unavailable"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

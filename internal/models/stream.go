package models

// Stream is a class section (grade + stream name) timetabled as one unit.
type Stream struct {
	ID            string `db:"id" json:"id"`
	SchoolID      string `db:"school_id" json:"school_id"`
	Grade         string `db:"grade" json:"grade"`
	Name          string `db:"stream_name" json:"stream_name"`
	PeriodsPerDay int    `db:"periods_per_day" json:"periods_per_day"`
}

// StreamSubject is a stream's weekly demand for one subject.
type StreamSubject struct {
	StreamID      string `db:"stream_id" json:"stream_id"`
	SubjectID     string `db:"subject_id" json:"subject_id"`
	WeeklyLessons int    `db:"weekly_lessons" json:"weekly_lessons"`
}

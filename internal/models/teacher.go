package models

// Teacher represents an instructor record. Zero workload fields fall back to
// the scheduler defaults.
type Teacher struct {
	ID                string `db:"id" json:"id"`
	SchoolID          string `db:"school_id" json:"school_id"`
	FullName          string `db:"full_name" json:"full_name"`
	WorkloadTarget    int    `db:"workload_target" json:"workload_target"`
	MaxLessonsPerWeek int    `db:"max_lessons_per_week" json:"max_lessons_per_week"`
	Active            bool   `db:"active" json:"active"`
}

// TeacherSubject records that a teacher is qualified for a subject.
type TeacherSubject struct {
	TeacherID string `db:"teacher_id" json:"teacher_id"`
	SubjectID string `db:"subject_id" json:"subject_id"`
}

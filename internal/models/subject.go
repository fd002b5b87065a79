package models

// Subject represents an academic subject. Difficulty ranges 0-10.
type Subject struct {
	ID         string `db:"id" json:"id"`
	SchoolID   string `db:"school_id" json:"school_id"`
	Code       string `db:"code" json:"code"`
	Name       string `db:"name" json:"name"`
	Difficulty int    `db:"difficulty" json:"difficulty"`
}

package models

import "github.com/jmoiron/sqlx/types"

// Constraint is an institutional scheduling rule. Rule holds the structured
// rule payload as JSONB.
type Constraint struct {
	ID       string         `db:"id" json:"id"`
	SchoolID string         `db:"school_id" json:"school_id"`
	Level    string         `db:"level" json:"level"`
	Scope    string         `db:"scope" json:"scope"`
	Weight   float64        `db:"weight" json:"weight"`
	Rule     types.JSONText `db:"rule" json:"rule"`
}

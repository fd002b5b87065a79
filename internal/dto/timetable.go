package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable/internal/engine"
)

// GenerateTimetableRequest tunes one generation run. Omitted fields use the
// server's scheduler configuration.
type GenerateTimetableRequest struct {
	Seed         *int64 `json:"seed"`
	MaxSteps     *int   `json:"maxSteps" validate:"omitempty,min=1,max=5000000"`
	TimeBudgetMs *int   `json:"timeBudgetMs" validate:"omitempty,min=1,max=120000"`
	Parallel     *bool  `json:"parallel"`
	// DryRun keeps the result as a proposal only. Defaults to true.
	DryRun *bool `json:"dryRun"`
}

// IsDryRun reports whether the caller asked for a preview only.
func (r GenerateTimetableRequest) IsDryRun() bool {
	return r.DryRun == nil || *r.DryRun
}

// GenerateTimetableResponse returns a generated proposal.
type GenerateTimetableResponse struct {
	ProposalID   string                   `json:"proposalId"`
	Mode         string                   `json:"mode"`
	SchoolID     string                   `json:"schoolId"`
	Records      []engine.TimetableRecord `json:"timetables"`
	Quality      engine.Quality           `json:"quality"`
	Stats        engine.Stats             `json:"stats"`
	ExpiresAt    time.Time                `json:"expiresAt"`
	TimetableIDs []string                 `json:"timetableIds,omitempty"`
}

// SaveProposalResponse lists the persisted timetable rows.
type SaveProposalResponse struct {
	ProposalID   string   `json:"proposalId"`
	SchoolID     string   `json:"schoolId"`
	TimetableIDs []string `json:"timetableIds"`
}

// StoredTimetable is a persisted stream timetable decoded for API consumers.
type StoredTimetable struct {
	ID        string                 `json:"id"`
	StreamID  string                 `json:"streamId"`
	Timetable engine.TimetableRecord `json:"timetable"`
	Legacy    map[string][]string    `json:"legacy"`
	Score     float64                `json:"score"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// ExportQuery selects the export format. WeekStart and Weeks only apply to
// calendar exports.
type ExportQuery struct {
	Format    string `form:"format" validate:"omitempty,oneof=csv pdf xlsx ics"`
	WeekStart string `form:"weekStart" validate:"omitempty,datetime=2006-01-02"`
	Weeks     int    `form:"weeks" validate:"omitempty,min=1,max=26"`
}

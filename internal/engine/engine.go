// Package engine is the deterministic timetable assignment engine. It turns a
// school's teachers, subjects, streams and constraints into one weekly
// timetable per stream, or a typed SchedulingError explaining why it cannot.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Assignment binds (stream, day, period) to (subject, teacher). Day and Period are 1-based.
type Assignment struct {
	StreamID  string `json:"streamId"`
	SubjectID string `json:"subjectId"`
	TeacherID string `json:"teacherId"`
	Day       int    `json:"day"`
	Period    int    `json:"period"`
}

// Timetable holds every assignment of one stream ordered by (day, period).
type Timetable struct {
	StreamID    string       `json:"streamId"`
	Assignments []Assignment `json:"assignments"`
}

// TimetableSet is the output of one run, one timetable per stream ordered by stream id.
type TimetableSet struct {
	SchoolID   string      `json:"schoolId"`
	SchoolType string      `json:"schoolType"`
	Days       []string    `json:"days"`
	Periods    int         `json:"periodsPerDay"`
	Timetables []Timetable `json:"timetables"`
}

// Options configures a run. Zero values fall back to DefaultOptions except
// ImprovementSteps and Seed, where zero disables the feature.
type Options struct {
	PeriodsByType     map[string]int
	DefaultSchoolType string
	// MaxSteps bounds stack pushes and pops per component; negative means unbounded.
	MaxSteps int
	// TimeBudget bounds the wall-clock time of the run; negative means unbounded.
	TimeBudget time.Duration
	// ImprovementSteps is the extra search allowed after the first complete solution.
	ImprovementSteps int
	// Seed permutes tie-breaking order deterministically.
	Seed               int64
	Parallel           bool
	DifficultThreshold int
	Weights            *Weights
	Logger             *zap.Logger
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	w := DefaultWeights()
	return Options{
		PeriodsByType:      map[string]int{"primary": 6, "secondary": 8},
		DefaultSchoolType:  "secondary",
		MaxSteps:           200000,
		TimeBudget:         10 * time.Second,
		ImprovementSteps:   2000,
		DifficultThreshold: 7,
		Weights:            &w,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if len(o.PeriodsByType) == 0 {
		o.PeriodsByType = def.PeriodsByType
	}
	if o.DefaultSchoolType == "" {
		o.DefaultSchoolType = def.DefaultSchoolType
	}
	if o.MaxSteps == 0 {
		o.MaxSteps = def.MaxSteps
	}
	if o.TimeBudget == 0 {
		o.TimeBudget = def.TimeBudget
	}
	if o.DifficultThreshold == 0 {
		o.DifficultThreshold = def.DifficultThreshold
	}
	if o.Weights == nil {
		o.Weights = def.Weights
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Stats reports the effort spent by a successful run.
type Stats struct {
	SolveStats
	Lessons  int           `json:"lessons"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a successful run.
type Result struct {
	Set     *TimetableSet     `json:"set"`
	Records []TimetableRecord `json:"records"`
	Quality Quality           `json:"quality"`
	Stats   Stats             `json:"stats"`
}

// Prepared is a validated model with its grid and compiled rules.
type Prepared struct {
	Model *Model
	Grid  Grid
	Rules *RuleSet
}

// Prepare runs the builder and compiler stages only.
func Prepare(in Input, opts Options) (*Prepared, error) {
	opts = opts.withDefaults()
	grid := NewGrid(in.School.Type, opts.PeriodsByType, opts.DefaultSchoolType)
	m, err := BuildModel(in, grid, opts.DifficultThreshold)
	if err != nil {
		return nil, err
	}
	rules, err := Compile(in.Constraints, m, grid)
	if err != nil {
		return nil, err
	}
	return &Prepared{Model: m, Grid: grid, Rules: rules}, nil
}

// Generate runs the whole pipeline: build, compile, search, validate and format.
// Every failure is a *SchedulingError; a result is only returned once the
// validator has accepted it.
func Generate(ctx context.Context, in Input, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := checkWeights(*opts.Weights); err != nil {
		return nil, err
	}
	log := opts.Logger.With(zap.String("school_id", in.School.ID))
	started := time.Now()

	prep, err := Prepare(in, opts)
	if err != nil {
		log.Debug("timetable input rejected", zap.Error(err))
		return nil, err
	}

	params := solveParams{
		maxSteps:         opts.MaxSteps,
		improvementSteps: opts.ImprovementSteps,
		seed:             opts.Seed,
		weights:          *opts.Weights,
	}
	if opts.TimeBudget > 0 {
		params.deadline = started.Add(opts.TimeBudget)
	}

	lessons, stats, err := search(ctx, prep.Model, prep.Rules, prep.Grid, params, opts.Parallel, log)
	if err != nil {
		log.Info("timetable search failed",
			zap.Error(err),
			zap.Int("steps", stats.Steps),
			zap.Duration("duration", time.Since(started)),
		)
		return nil, err
	}

	set := buildSet(prep.Model, prep.Grid, lessons)
	report := Validate(prep.Model, prep.Rules, prep.Grid, set, *opts.Weights)
	if !report.OK() {
		log.Error("generated timetable failed validation", zap.Int("defects", len(report.Defects)))
		return nil, &SchedulingError{
			Kind:    KindValidationDefect,
			Message: fmt.Sprintf("generated timetable failed validation with %d defects", len(report.Defects)),
			Defects: report.Defects,
		}
	}

	result := &Result{
		Set:     set,
		Records: Format(prep.Model, prep.Grid, set, report.Streams),
		Quality: report.Quality,
		Stats: Stats{
			SolveStats: stats,
			Lessons:    len(lessons),
			Duration:   time.Since(started),
		},
	}
	log.Info("timetable generated",
		zap.Int("streams", len(set.Timetables)),
		zap.Int("lessons", len(lessons)),
		zap.Int("steps", stats.Steps),
		zap.Int("components", stats.Components),
		zap.Float64("penalty", report.Quality.Total),
		zap.Duration("duration", result.Stats.Duration),
	)
	return result, nil
}

func checkWeights(w Weights) error {
	if w.DifficultAdjacency < 0 || w.SameDayRepeat < 0 || w.Balance < 0 || w.Workload < 0 {
		return structuralf(Scope{}, "penalty weights must not be negative")
	}
	return nil
}

func buildSet(m *Model, grid Grid, lessons []Candidate) *TimetableSet {
	set := &TimetableSet{
		SchoolID:   m.School.ID,
		SchoolType: grid.SchoolType,
		Days:       append([]string(nil), grid.Days...),
		Periods:    grid.PeriodsPerDay,
		Timetables: make([]Timetable, len(m.Streams)),
	}
	for st, stream := range m.Streams {
		set.Timetables[st] = Timetable{StreamID: stream.ID, Assignments: []Assignment{}}
	}
	for _, c := range lessons {
		tt := &set.Timetables[c.Stream]
		tt.Assignments = append(tt.Assignments, Assignment{
			StreamID:  m.Streams[c.Stream].ID,
			SubjectID: m.Subjects[c.Subject].ID,
			TeacherID: m.Teachers[c.Teacher].ID,
			Day:       c.Slot.Day + 1,
			Period:    c.Slot.Period + 1,
		})
	}
	for i := range set.Timetables {
		as := set.Timetables[i].Assignments
		sort.Slice(as, func(a, b int) bool {
			if as[a].Day != as[b].Day {
				return as[a].Day < as[b].Day
			}
			return as[a].Period < as[b].Period
		})
	}
	return set
}

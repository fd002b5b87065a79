package engine

// Level classifies a constraint as hard (never violated) or soft (penalised).
type Level string

const (
	LevelHard Level = "hard"
	LevelSoft Level = "soft"
)

// Input carries the raw records of one school for a single scheduling run.
type Input struct {
	School      SchoolRecord       `json:"school" yaml:"school"`
	Subjects    []SubjectRecord    `json:"subjects" yaml:"subjects"`
	Teachers    []TeacherRecord    `json:"teachers" yaml:"teachers"`
	Streams     []StreamRecord     `json:"streams" yaml:"streams"`
	Constraints []ConstraintRecord `json:"constraints" yaml:"constraints"`
}

// SchoolRecord describes the school owning the run.
type SchoolRecord struct {
	ID                string `json:"id" yaml:"id" validate:"required"`
	Type              string `json:"type" yaml:"type"`
	TimetableTemplate string `json:"timetableTemplate" yaml:"timetableTemplate"`
}

// SubjectRecord describes a subject. Difficulty ranges 0-10; zero means untagged.
type SubjectRecord struct {
	ID         string `json:"id" yaml:"id" validate:"required"`
	Name       string `json:"name" yaml:"name" validate:"required"`
	Difficulty int    `json:"difficulty" yaml:"difficulty" validate:"min=0,max=10"`
}

// TeacherRecord describes a teacher and the subjects they are qualified for.
type TeacherRecord struct {
	ID                string   `json:"id" yaml:"id" validate:"required"`
	Name              string   `json:"name" yaml:"name" validate:"required"`
	Subjects          []string `json:"subjects" yaml:"subjects"`
	WorkloadTarget    int      `json:"workloadTarget" yaml:"workloadTarget" validate:"min=0"`
	MaxLessonsPerWeek int      `json:"maxLessonsPerWeek" yaml:"maxLessonsPerWeek" validate:"min=0"`
}

// StreamRecord describes a class section and its weekly subject demand.
type StreamRecord struct {
	ID            string              `json:"id" yaml:"id" validate:"required"`
	Grade         string              `json:"grade" yaml:"grade"`
	StreamName    string              `json:"streamName" yaml:"streamName"`
	PeriodsPerDay int                 `json:"periodsPerDay" yaml:"periodsPerDay" validate:"min=0"`
	Requirements  []RequirementRecord `json:"requirements" yaml:"requirements" validate:"dive"`
}

// RequirementRecord is the weekly lesson target of one subject for a stream.
type RequirementRecord struct {
	SubjectID     string `json:"subjectId" yaml:"subjectId" validate:"required"`
	WeeklyLessons int    `json:"weeklyLessons" yaml:"weeklyLessons" validate:"min=1"`
}

// ConstraintRecord is an institutional rule prior to compilation.
//
// Scope is empty or "global", "teacher:<id>" or "stream:<id>".
type ConstraintRecord struct {
	ID     string   `json:"id" yaml:"id"`
	Rule   RuleSpec `json:"rule" yaml:"rule"`
	Level  Level    `json:"level" yaml:"level"`
	Scope  string   `json:"scope,omitempty" yaml:"scope,omitempty"`
	Weight float64  `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// RuleSpec is the structured payload of a constraint. Which fields are
// meaningful depends on Category. Periods are 1-based.
type RuleSpec struct {
	Category      string `json:"category" yaml:"category"`
	Teacher       string `json:"teacher,omitempty" yaml:"teacher,omitempty"`
	Subject       string `json:"subject,omitempty" yaml:"subject,omitempty"`
	NotAdjacentTo string `json:"notAdjacentTo,omitempty" yaml:"notAdjacentTo,omitempty"`
	Day           string `json:"day,omitempty" yaml:"day,omitempty"`
	Period        int    `json:"period,omitempty" yaml:"period,omitempty"`
	PeriodFrom    int    `json:"periodFrom,omitempty" yaml:"periodFrom,omitempty"`
	PeriodTo      int    `json:"periodTo,omitempty" yaml:"periodTo,omitempty"`
	Max           *int   `json:"max,omitempty" yaml:"max,omitempty"`
}

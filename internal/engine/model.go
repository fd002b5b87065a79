package engine

import (
	"sort"

	"github.com/go-playground/validator/v10"
)

const (
	defaultWorkloadTarget    = 20
	defaultMaxLessonsPerWeek = 25
	defaultTemplate          = "classic"
)

var recordValidator = validator.New()

// School is the validated school record.
type School struct {
	ID                string
	Type              string
	TimetableTemplate string
}

// Subject is a validated subject.
type Subject struct {
	ID         string
	Name       string
	Difficulty int
	Difficult  bool
}

// Teacher is a validated teacher; Subjects holds subject indices.
type Teacher struct {
	ID                string
	Name              string
	Subjects          []int
	WorkloadTarget    int
	MaxLessonsPerWeek int
}

// Requirement is the weekly lesson target of one subject (by index).
type Requirement struct {
	Subject       int
	WeeklyLessons int
}

// Stream is a validated stream with resolved period count.
type Stream struct {
	ID            string
	Grade         string
	Name          string
	PeriodsPerDay int
	Requirements  []Requirement
}

// Model is the immutable, index-based scheduling model of one run. Collections
// are sorted by identifier so that every downstream stage iterates deterministically.
type Model struct {
	School   School
	Subjects []Subject
	Teachers []Teacher
	Streams  []Stream

	subjectIndex map[string]int
	teacherIndex map[string]int
	streamIndex  map[string]int
	qualified    [][]int
}

// SubjectIndex resolves a subject id.
func (m *Model) SubjectIndex(id string) (int, bool) {
	idx, ok := m.subjectIndex[id]
	return idx, ok
}

// TeacherIndex resolves a teacher id.
func (m *Model) TeacherIndex(id string) (int, bool) {
	idx, ok := m.teacherIndex[id]
	return idx, ok
}

// StreamIndex resolves a stream id.
func (m *Model) StreamIndex(id string) (int, bool) {
	idx, ok := m.streamIndex[id]
	return idx, ok
}

// Qualified returns the teachers able to teach a subject, ordered by index.
func (m *Model) Qualified(subject int) []int {
	return m.qualified[subject]
}

// RequiredLessons sums every stream's weekly demand.
func (m *Model) RequiredLessons() int {
	total := 0
	for _, stream := range m.Streams {
		for _, req := range stream.Requirements {
			total += req.WeeklyLessons
		}
	}
	return total
}

// BuildModel validates raw records against each other and the grid and returns
// the scheduling model. It has no side effects.
func BuildModel(in Input, grid Grid, difficultThreshold int) (*Model, error) {
	if err := recordValidator.Struct(in.School); err != nil {
		return nil, &SchedulingError{Kind: KindStructural, Message: "invalid school record", Err: err}
	}
	if grid.PeriodsPerDay <= 0 {
		return nil, structuralf(Scope{}, "school type %q has no configured periods per day", in.School.Type)
	}

	m := &Model{
		School: School{
			ID:                in.School.ID,
			Type:              grid.SchoolType,
			TimetableTemplate: in.School.TimetableTemplate,
		},
		subjectIndex: make(map[string]int, len(in.Subjects)),
		teacherIndex: make(map[string]int, len(in.Teachers)),
		streamIndex:  make(map[string]int, len(in.Streams)),
	}
	if m.School.TimetableTemplate == "" {
		m.School.TimetableTemplate = defaultTemplate
	}

	if err := m.addSubjects(in.Subjects, difficultThreshold); err != nil {
		return nil, err
	}
	if err := m.addTeachers(in.Teachers); err != nil {
		return nil, err
	}
	if err := m.addStreams(in.Streams, grid); err != nil {
		return nil, err
	}
	if err := m.checkAssignable(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) addSubjects(records []SubjectRecord, threshold int) error {
	sorted := make([]SubjectRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, rec := range sorted {
		if err := recordValidator.Struct(rec); err != nil {
			return &SchedulingError{Kind: KindStructural, Message: "invalid subject record " + quote(rec.ID), Scope: Scope{SubjectID: rec.ID}, Err: err}
		}
		if _, dup := m.subjectIndex[rec.ID]; dup {
			return structuralf(Scope{SubjectID: rec.ID}, "duplicate subject %q", rec.ID)
		}
		m.subjectIndex[rec.ID] = len(m.Subjects)
		m.Subjects = append(m.Subjects, Subject{
			ID:         rec.ID,
			Name:       rec.Name,
			Difficulty: rec.Difficulty,
			Difficult:  threshold > 0 && rec.Difficulty >= threshold,
		})
	}
	m.qualified = make([][]int, len(m.Subjects))
	return nil
}

func (m *Model) addTeachers(records []TeacherRecord) error {
	sorted := make([]TeacherRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, rec := range sorted {
		if err := recordValidator.Struct(rec); err != nil {
			return &SchedulingError{Kind: KindStructural, Message: "invalid teacher record " + quote(rec.ID), Scope: Scope{TeacherID: rec.ID}, Err: err}
		}
		if _, dup := m.teacherIndex[rec.ID]; dup {
			return structuralf(Scope{TeacherID: rec.ID}, "duplicate teacher %q", rec.ID)
		}
		maxLessons := rec.MaxLessonsPerWeek
		if maxLessons == 0 {
			maxLessons = defaultMaxLessonsPerWeek
		}
		target := rec.WorkloadTarget
		if target == 0 {
			target = min(defaultWorkloadTarget, maxLessons)
		}
		if target > maxLessons {
			return structuralf(Scope{TeacherID: rec.ID},
				"teacher %q workload target %d exceeds max lessons per week %d", rec.ID, target, maxLessons)
		}

		idx := len(m.Teachers)
		teacher := Teacher{ID: rec.ID, Name: rec.Name, WorkloadTarget: target, MaxLessonsPerWeek: maxLessons}
		seen := make(map[int]bool, len(rec.Subjects))
		for _, subjectID := range rec.Subjects {
			subject, ok := m.subjectIndex[subjectID]
			if !ok {
				return structuralf(Scope{TeacherID: rec.ID, SubjectID: subjectID},
					"teacher %q references unknown subject %q", rec.ID, subjectID)
			}
			if seen[subject] {
				continue
			}
			seen[subject] = true
			teacher.Subjects = append(teacher.Subjects, subject)
			m.qualified[subject] = append(m.qualified[subject], idx)
		}
		sort.Ints(teacher.Subjects)
		m.teacherIndex[rec.ID] = idx
		m.Teachers = append(m.Teachers, teacher)
	}
	return nil
}

func (m *Model) addStreams(records []StreamRecord, grid Grid) error {
	sorted := make([]StreamRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, rec := range sorted {
		if err := recordValidator.Struct(rec); err != nil {
			return &SchedulingError{Kind: KindStructural, Message: "invalid stream record " + quote(rec.ID), Scope: Scope{StreamID: rec.ID}, Err: err}
		}
		if _, dup := m.streamIndex[rec.ID]; dup {
			return structuralf(Scope{StreamID: rec.ID}, "duplicate stream %q", rec.ID)
		}
		periods := rec.PeriodsPerDay
		if periods == 0 {
			periods = grid.PeriodsPerDay
		}
		if periods > grid.PeriodsPerDay {
			return structuralf(Scope{StreamID: rec.ID},
				"stream %q has %d periods per day but the %s grid only has %d", rec.ID, periods, grid.SchoolType, grid.PeriodsPerDay)
		}

		stream := Stream{ID: rec.ID, Grade: rec.Grade, Name: rec.StreamName, PeriodsPerDay: periods}
		bySubject := make(map[int]int, len(rec.Requirements))
		for _, req := range rec.Requirements {
			subject, ok := m.subjectIndex[req.SubjectID]
			if !ok {
				return structuralf(Scope{StreamID: rec.ID, SubjectID: req.SubjectID},
					"stream %q requires unknown subject %q", rec.ID, req.SubjectID)
			}
			if _, dup := bySubject[subject]; dup {
				return structuralf(Scope{StreamID: rec.ID, SubjectID: req.SubjectID},
					"stream %q lists subject %q more than once", rec.ID, req.SubjectID)
			}
			bySubject[subject] = req.WeeklyLessons
			stream.Requirements = append(stream.Requirements, Requirement{Subject: subject, WeeklyLessons: req.WeeklyLessons})
		}
		sort.Slice(stream.Requirements, func(i, j int) bool {
			return stream.Requirements[i].Subject < stream.Requirements[j].Subject
		})
		m.streamIndex[rec.ID] = len(m.Streams)
		m.Streams = append(m.Streams, stream)
	}
	return nil
}

func (m *Model) checkAssignable() error {
	for _, stream := range m.Streams {
		for _, req := range stream.Requirements {
			if len(m.qualified[req.Subject]) == 0 {
				subject := m.Subjects[req.Subject]
				return structuralf(Scope{StreamID: stream.ID, SubjectID: subject.ID},
					"unassignable subject %q required by stream %q: no qualified teacher", subject.ID, stream.ID)
			}
		}
	}
	return nil
}

func quote(s string) string {
	return "\"" + s + "\""
}

package engine

import (
	"fmt"
	"sort"
)

// Invariant identifiers reported by the validator.
const (
	InvariantTeacherDoubleBooked = "TEACHER_DOUBLE_BOOKED"
	InvariantTeacherOverCapacity = "TEACHER_OVER_CAPACITY"
	InvariantSubjectCount        = "SUBJECT_COUNT_MISMATCH"
	InvariantSlotCollision       = "SLOT_COLLISION"
	InvariantSlotOutOfGrid       = "SLOT_OUT_OF_GRID"
	InvariantTeacherNotQualified = "TEACHER_NOT_QUALIFIED"
	InvariantUnknownReference    = "UNKNOWN_REFERENCE"
	InvariantHardRule            = "HARD_RULE_VIOLATED"
)

// Defect is one invariant violation found in a timetable set. Day and Period
// are 1-based; zero means the defect is not tied to a slot.
type Defect struct {
	Invariant string `json:"invariant"`
	StreamID  string `json:"streamId,omitempty"`
	TeacherID string `json:"teacherId,omitempty"`
	SubjectID string `json:"subjectId,omitempty"`
	Day       int    `json:"day,omitempty"`
	Period    int    `json:"period,omitempty"`
	RuleID    string `json:"ruleId,omitempty"`
	Message   string `json:"message"`
}

// Report is the validator's verdict. Streams holds each stream's share of the
// penalty; teacher workload is not attributed to a stream.
type Report struct {
	Defects []Defect           `json:"defects"`
	Quality Quality            `json:"quality"`
	Streams map[string]float64 `json:"streams,omitempty"`
}

// OK reports whether no defect was found.
func (r Report) OK() bool {
	return len(r.Defects) == 0
}

type cellKey struct {
	stream int
	day    int
	period int
}

// replay is the validator's own schedule view, filled one assignment at a time.
type replay struct {
	daily       map[[2]int]int
	streamDaily map[[3]int]int
	cells       map[cellKey]int
	tutors      map[cellKey]int
}

func (v *replay) TeacherLessonsOn(teacher, day int) int {
	return v.daily[[2]int{teacher, day}]
}

func (v *replay) TeacherLessonsInStreamOn(teacher, stream, day int) int {
	return v.streamDaily[[3]int{teacher, stream, day}]
}

func (v *replay) SubjectAt(stream int, slot Slot) (int, bool) {
	s, ok := v.cells[cellKey{stream, slot.Day, slot.Period}]
	return s, ok
}

func (v *replay) TeacherAt(stream int, slot Slot) (int, bool) {
	t, ok := v.tutors[cellKey{stream, slot.Day, slot.Period}]
	return t, ok
}

// Validate re-checks a timetable set against the model and compiled rules
// using only the set itself, and recomputes its quality.
func Validate(m *Model, rules *RuleSet, grid Grid, set *TimetableSet, weights Weights) Report {
	var report Report
	addDefect := func(d Defect) { report.Defects = append(report.Defects, d) }

	var all []Assignment
	if set != nil {
		for _, tt := range set.Timetables {
			for _, a := range tt.Assignments {
				if a.StreamID != tt.StreamID {
					addDefect(Defect{
						Invariant: InvariantUnknownReference, StreamID: tt.StreamID, SubjectID: a.SubjectID,
						TeacherID: a.TeacherID, Day: a.Day, Period: a.Period,
						Message: fmt.Sprintf("assignment for stream %q filed under stream %q", a.StreamID, tt.StreamID),
					})
					continue
				}
				all = append(all, a)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.StreamID != b.StreamID {
			return a.StreamID < b.StreamID
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		return a.TeacherID < b.TeacherID
	})

	view := &replay{
		daily:       map[[2]int]int{},
		streamDaily: map[[3]int]int{},
		cells:       map[cellKey]int{},
		tutors:      map[cellKey]int{},
	}
	teacherAt := map[[3]int]string{}
	weekly := make([]int, len(m.Teachers))
	counts := map[[2]int]int{}
	dayCounts := map[[3]int]int{}
	streamDays := make([][]int, len(m.Streams))
	for i := range streamDays {
		streamDays[i] = make([]int, len(grid.Days))
	}
	quality := Quality{RulePenalties: map[string]float64{}}
	report.Streams = map[string]float64{}

	for _, a := range all {
		defect := Defect{StreamID: a.StreamID, TeacherID: a.TeacherID, SubjectID: a.SubjectID, Day: a.Day, Period: a.Period}
		st, okStream := m.StreamIndex(a.StreamID)
		subject, okSubject := m.SubjectIndex(a.SubjectID)
		teacher, okTeacher := m.TeacherIndex(a.TeacherID)
		if !okStream || !okSubject || !okTeacher {
			defect.Invariant = InvariantUnknownReference
			defect.Message = "assignment references an unknown stream, subject or teacher"
			addDefect(defect)
			continue
		}
		if a.Day < 1 || a.Day > len(grid.Days) || a.Period < 1 || a.Period > m.Streams[st].PeriodsPerDay {
			defect.Invariant = InvariantSlotOutOfGrid
			defect.Message = fmt.Sprintf("slot day %d period %d is outside the stream grid", a.Day, a.Period)
			addDefect(defect)
			continue
		}
		slot := Slot{Day: a.Day - 1, Period: a.Period - 1}
		key := cellKey{st, slot.Day, slot.Period}
		if _, taken := view.cells[key]; taken {
			defect.Invariant = InvariantSlotCollision
			defect.Message = "stream has more than one assignment in this slot"
			addDefect(defect)
			continue
		}
		if !qualifiedFor(m.Teachers[teacher], subject) {
			defect.Invariant = InvariantTeacherNotQualified
			defect.Message = fmt.Sprintf("teacher %q is not qualified for subject %q", a.TeacherID, a.SubjectID)
			addDefect(defect)
		}
		busyKey := [3]int{teacher, slot.Day, slot.Period}
		if other, busy := teacherAt[busyKey]; busy {
			defect.Invariant = InvariantTeacherDoubleBooked
			defect.Message = fmt.Sprintf("teacher %q already teaches stream %q in this slot", a.TeacherID, other)
			addDefect(defect)
		}

		c := Candidate{Stream: st, Subject: subject, Teacher: teacher, Slot: slot}
		for _, r := range rules.Hard {
			if r.Violated(c, view) {
				d := defect
				d.Invariant = InvariantHardRule
				d.RuleID = r.RecordID
				d.Message = fmt.Sprintf("violates hard rule %s", r)
				addDefect(d)
			}
		}
		for _, r := range rules.Soft {
			if n := r.Breaches(c, view); n > 0 {
				pen := r.Weight * float64(n)
				quality.SoftRules += pen
				quality.RulePenalties[r.RecordID] += pen
				report.Streams[a.StreamID] += pen
			}
		}

		view.cells[key] = subject
		view.tutors[key] = teacher
		view.daily[[2]int{teacher, slot.Day}]++
		view.streamDaily[[3]int{teacher, st, slot.Day}]++
		teacherAt[busyKey] = a.StreamID
		weekly[teacher]++
		counts[[2]int{st, subject}]++
		dayCounts[[3]int{st, subject, slot.Day}]++
		streamDays[st][slot.Day]++
	}

	for t, n := range weekly {
		teacher := m.Teachers[t]
		if n > teacher.MaxLessonsPerWeek {
			addDefect(Defect{
				Invariant: InvariantTeacherOverCapacity, TeacherID: teacher.ID,
				Message: fmt.Sprintf("teacher %q has %d lessons, above the weekly maximum %d", teacher.ID, n, teacher.MaxLessonsPerWeek),
			})
		}
		if over := n - teacher.WorkloadTarget; over > 0 {
			quality.Workload += weights.Workload * float64(over)
		}
	}

	for st, stream := range m.Streams {
		var share float64
		required := map[int]int{}
		for _, req := range stream.Requirements {
			required[req.Subject] = req.WeeklyLessons
		}
		for subject := range m.Subjects {
			got, want := counts[[2]int{st, subject}], required[subject]
			if got != want {
				addDefect(Defect{
					Invariant: InvariantSubjectCount, StreamID: stream.ID, SubjectID: m.Subjects[subject].ID,
					Message: fmt.Sprintf("stream %q has %d lessons of %q, want %d", stream.ID, got, m.Subjects[subject].ID, want),
				})
			}
			for d := range grid.Days {
				if n := dayCounts[[3]int{st, subject, d}]; n > 1 {
					repeat := weights.SameDayRepeat * float64(n*(n-1)/2)
					quality.SameDayRepeat += repeat
					share += repeat
				}
			}
		}
		for d := range grid.Days {
			for p := 0; p+1 < stream.PeriodsPerDay; p++ {
				a, okA := view.cells[cellKey{st, d, p}]
				b, okB := view.cells[cellKey{st, d, p + 1}]
				if okA && okB && m.Subjects[a].Difficult && m.Subjects[b].Difficult {
					quality.DifficultAdjacency += weights.DifficultAdjacency
					share += weights.DifficultAdjacency
				}
			}
		}
		balance := weights.Balance * variance(streamDays[st])
		quality.Balance += balance
		report.Streams[stream.ID] += share + balance
	}

	if len(quality.RulePenalties) == 0 {
		quality.RulePenalties = nil
	}
	quality.sum()
	report.Quality = quality
	return report
}

func qualifiedFor(t Teacher, subject int) bool {
	for _, s := range t.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

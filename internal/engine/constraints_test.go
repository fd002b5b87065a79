package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubView struct {
	daily       map[[2]int]int
	streamDaily map[[3]int]int
	cells       map[cellKey]int
	tutors      map[cellKey]int
}

func (v stubView) TeacherLessonsOn(teacher, day int) int { return v.daily[[2]int{teacher, day}] }

func (v stubView) TeacherLessonsInStreamOn(teacher, stream, day int) int {
	return v.streamDaily[[3]int{teacher, stream, day}]
}

func (v stubView) SubjectAt(stream int, slot Slot) (int, bool) {
	s, ok := v.cells[cellKey{stream, slot.Day, slot.Period}]
	return s, ok
}

func (v stubView) TeacherAt(stream int, slot Slot) (int, bool) {
	t, ok := v.tutors[cellKey{stream, slot.Day, slot.Period}]
	return t, ok
}

func compileFixture(t *testing.T, records ...ConstraintRecord) (*Model, *RuleSet) {
	t.Helper()
	m, err := BuildModel(threeSubjectInput(), primaryGrid(), 7)
	require.NoError(t, err)
	rules, err := Compile(records, m, primaryGrid())
	require.NoError(t, err)
	return m, rules
}

func TestCompileDefaultLevelsAndOrder(t *testing.T) {
	_, rules := compileFixture(t,
		ConstraintRecord{ID: "a", Rule: RuleSpec{Category: "subject-block", Subject: "math", NotAdjacentTo: "sci"}},
		ConstraintRecord{ID: "b", Rule: RuleSpec{Category: "teacher-unavailable", Teacher: "t-math", Day: "mon"}},
		ConstraintRecord{ID: "c", Rule: RuleSpec{Category: "Preferred-Period", Subject: "eng", PeriodTo: 3}, Level: "HARD"},
		ConstraintRecord{ID: "d", Rule: RuleSpec{Category: "max-daily-lessons", Teacher: "t-eng", Max: intPtr(2)}, Level: LevelSoft, Weight: 3},
	)

	require.Len(t, rules.Hard, 2)
	require.Len(t, rules.Soft, 2)
	assert.Equal(t, "b", rules.Hard[0].RecordID)
	assert.Equal(t, "c", rules.Hard[1].RecordID)
	assert.Equal(t, 0, rules.Hard[1].PeriodFrom)
	assert.Equal(t, 2, rules.Hard[1].PeriodTo)
	assert.Equal(t, "a", rules.Soft[0].RecordID)
	assert.Equal(t, 1.0, rules.Soft[0].Weight)
	assert.Equal(t, 3.0, rules.Soft[1].Weight)
}

func TestCompileUnsupportedConstraints(t *testing.T) {
	cases := []struct {
		name   string
		record ConstraintRecord
	}{
		{"unknown category", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "no-mondays"}}},
		{"invalid level", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "teacher-unavailable", Teacher: "t-math"}, Level: "maybe"}},
		{"unknown teacher", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "teacher-unavailable", Teacher: "ghost"}}},
		{"missing teacher", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "teacher-unavailable", Day: "Monday"}}},
		{"unknown day", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "teacher-unavailable", Teacher: "t-math", Day: "Caturday"}}},
		{"period out of range", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "teacher-unavailable", Teacher: "t-math", Period: 7}}},
		{"period and range", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "preferred-period", Subject: "math", Period: 1, PeriodTo: 2}}},
		{"inverted range", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "preferred-period", Subject: "math", PeriodFrom: 4, PeriodTo: 2}}},
		{"missing range", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "preferred-period", Subject: "math"}}},
		{"missing max", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "max-daily-lessons", Teacher: "t-math"}}},
		{"unknown block subject", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "subject-block", Subject: "math", NotAdjacentTo: "latin"}}},
		{"unknown stream scope", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "preferred-period", Subject: "math", Period: 1}, Scope: "stream:9z"}},
		{"unknown teacher scope", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "preferred-period", Subject: "math", Period: 1}, Scope: "teacher:ghost"}},
		{"conflicting teacher scope", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "teacher-unavailable", Teacher: "t-math"}, Scope: "teacher:t-eng"}},
		{"malformed scope", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "teacher-unavailable", Teacher: "t-math"}, Scope: "room:12"}},
		{"negative weight", ConstraintRecord{ID: "x", Rule: RuleSpec{Category: "preferred-period", Subject: "math", Period: 1}, Weight: -1}},
	}

	m, err := BuildModel(threeSubjectInput(), primaryGrid(), 7)
	require.NoError(t, err)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile([]ConstraintRecord{tc.record}, m, primaryGrid())
			require.Error(t, err)
			var se *SchedulingError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, KindUnsupportedConstraint, se.Kind)
			assert.Equal(t, "x", se.RecordID)
			assert.Contains(t, se.Message, `constraint "x"`)
		})
	}
}

func TestCompileNamesRecordsWithoutID(t *testing.T) {
	m, err := BuildModel(threeSubjectInput(), primaryGrid(), 7)
	require.NoError(t, err)

	_, err = Compile([]ConstraintRecord{
		{ID: "ok", Rule: RuleSpec{Category: "preferred-period", Subject: "math", Period: 2}},
		{Rule: RuleSpec{Category: "bogus"}},
	}, m, primaryGrid())
	var se *SchedulingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "#2", se.RecordID)
}

func TestRulePredicates(t *testing.T) {
	m, rules := compileFixture(t,
		ConstraintRecord{ID: "away", Rule: RuleSpec{Category: "teacher-unavailable", Day: "Tuesday", PeriodFrom: 2, PeriodTo: 3}, Scope: "teacher:t-math"},
		ConstraintRecord{ID: "daily", Rule: RuleSpec{Category: "max-daily-lessons", Max: intPtr(1)}},
		ConstraintRecord{ID: "block", Rule: RuleSpec{Category: "subject-block", Subject: "math", NotAdjacentTo: "sci"}, Level: LevelHard},
		ConstraintRecord{ID: "early", Rule: RuleSpec{Category: "preferred-period", Subject: "eng", PeriodTo: 2}, Scope: "stream:7a"},
	)
	away, daily, block, early := rules.Hard[0], rules.Hard[1], rules.Hard[2], rules.Soft[0]
	math, _ := m.SubjectIndex("math")
	sci, _ := m.SubjectIndex("sci")
	eng, _ := m.SubjectIndex("eng")
	tMath, _ := m.TeacherIndex("t-math")
	tEng, _ := m.TeacherIndex("t-eng")
	empty := stubView{}

	assert.True(t, away.Violated(Candidate{Teacher: tMath, Subject: math, Slot: Slot{Day: 1, Period: 1}}, empty))
	assert.True(t, away.Violated(Candidate{Teacher: tMath, Subject: math, Slot: Slot{Day: 1, Period: 2}}, empty))
	assert.False(t, away.Violated(Candidate{Teacher: tMath, Subject: math, Slot: Slot{Day: 1, Period: 3}}, empty))
	assert.False(t, away.Violated(Candidate{Teacher: tMath, Subject: math, Slot: Slot{Day: 0, Period: 1}}, empty))
	assert.False(t, away.Violated(Candidate{Teacher: tEng, Subject: eng, Slot: Slot{Day: 1, Period: 1}}, empty))
	assert.True(t, away.Blocks(tMath, Slot{Day: 1, Period: 2}))

	busy := stubView{daily: map[[2]int]int{{tEng, 3}: 1}}
	assert.True(t, daily.Violated(Candidate{Teacher: tEng, Subject: eng, Slot: Slot{Day: 3}}, busy))
	assert.False(t, daily.Violated(Candidate{Teacher: tEng, Subject: eng, Slot: Slot{Day: 2}}, busy))

	neighbours := stubView{cells: map[cellKey]int{{0, 2, 3}: sci}}
	assert.True(t, block.Violated(Candidate{Subject: math, Slot: Slot{Day: 2, Period: 2}}, neighbours))
	assert.True(t, block.Violated(Candidate{Subject: math, Slot: Slot{Day: 2, Period: 4}}, neighbours))
	assert.False(t, block.Violated(Candidate{Subject: math, Slot: Slot{Day: 2, Period: 5}}, neighbours))
	assert.False(t, block.Violated(Candidate{Subject: eng, Slot: Slot{Day: 2, Period: 2}}, neighbours))
	assert.False(t, block.Violated(Candidate{Stream: 1, Subject: math, Slot: Slot{Day: 2, Period: 2}}, neighbours))

	assert.False(t, early.Violated(Candidate{Subject: eng, Slot: Slot{Period: 1}}, empty))
	assert.True(t, early.Violated(Candidate{Subject: eng, Slot: Slot{Period: 2}}, empty))
	assert.False(t, early.Violated(Candidate{Stream: 1, Subject: eng, Slot: Slot{Period: 4}}, empty))
}

func TestTeacherScopeBindsEveryCategory(t *testing.T) {
	m, rules := compileFixture(t,
		ConstraintRecord{ID: "away", Rule: RuleSpec{Category: "teacher-unavailable", Day: "Monday"}, Scope: "teacher:t-math"},
		ConstraintRecord{ID: "daily", Rule: RuleSpec{Category: "max-daily-lessons", Max: intPtr(1)}, Scope: "teacher:t-eng"},
		ConstraintRecord{ID: "block", Rule: RuleSpec{Category: "subject-block", Subject: "math", NotAdjacentTo: "sci"}, Scope: "teacher:t-sci", Level: LevelHard},
		ConstraintRecord{ID: "last", Rule: RuleSpec{Category: "preferred-period", Subject: "math", Period: 6}, Scope: "teacher:t-math", Level: LevelHard},
	)
	tMath, _ := m.TeacherIndex("t-math")
	tEng, _ := m.TeacherIndex("t-eng")
	tSci, _ := m.TeacherIndex("t-sci")
	math, _ := m.SubjectIndex("math")
	sci, _ := m.SubjectIndex("sci")
	require.Len(t, rules.Hard, 4)
	away, daily, block, last := rules.Hard[0], rules.Hard[1], rules.Hard[2], rules.Hard[3]
	assert.Equal(t, tMath, away.Teacher)
	assert.Equal(t, tEng, daily.Teacher)
	assert.Equal(t, tSci, block.Teacher)
	assert.Equal(t, tMath, last.Teacher)

	empty := stubView{}
	assert.True(t, last.Violated(Candidate{Teacher: tMath, Subject: math, Slot: Slot{Period: 0}}, empty))
	assert.False(t, last.Violated(Candidate{Teacher: tMath, Subject: math, Slot: Slot{Period: 5}}, empty))
	assert.False(t, last.Violated(Candidate{Teacher: tEng, Subject: math, Slot: Slot{Period: 0}}, empty))

	// a pair counts when either lesson belongs to the scoped teacher
	sciBySci := stubView{cells: map[cellKey]int{{0, 1, 2}: sci}, tutors: map[cellKey]int{{0, 1, 2}: tSci}}
	sciByEng := stubView{cells: map[cellKey]int{{0, 1, 2}: sci}, tutors: map[cellKey]int{{0, 1, 2}: tEng}}
	mathByMath := stubView{cells: map[cellKey]int{{0, 1, 2}: math}, tutors: map[cellKey]int{{0, 1, 2}: tMath}}
	assert.True(t, block.Violated(Candidate{Teacher: tMath, Subject: math, Slot: Slot{Day: 1, Period: 1}}, sciBySci))
	assert.False(t, block.Violated(Candidate{Teacher: tMath, Subject: math, Slot: Slot{Day: 1, Period: 1}}, sciByEng))
	assert.True(t, block.Violated(Candidate{Teacher: tSci, Subject: sci, Slot: Slot{Day: 1, Period: 3}}, mathByMath))
	assert.False(t, block.Violated(Candidate{Teacher: tEng, Subject: sci, Slot: Slot{Day: 1, Period: 3}}, mathByMath))
}

func TestBreachesCountEachPairOnce(t *testing.T) {
	m, rules := compileFixture(t,
		ConstraintRecord{ID: "block", Rule: RuleSpec{Category: "subject-block", Subject: "math", NotAdjacentTo: "sci"}},
	)
	math, _ := m.SubjectIndex("math")
	sci, _ := m.SubjectIndex("sci")
	block := rules.Soft[0]

	sandwich := stubView{cells: map[cellKey]int{{0, 0, 0}: sci, {0, 0, 2}: sci}}
	assert.Equal(t, 2, block.Breaches(Candidate{Subject: math, Slot: Slot{Period: 1}}, sandwich))
	assert.Equal(t, 0, block.Breaches(Candidate{Subject: math, Slot: Slot{Period: 4}}, sandwich))
}

func TestStreamScopedDailyCapCountsOnlyThatStream(t *testing.T) {
	m, rules := compileFixture(t,
		ConstraintRecord{ID: "daily", Rule: RuleSpec{Category: "max-daily-lessons", Max: intPtr(1)}, Scope: "stream:7a"},
	)
	tEng, _ := m.TeacherIndex("t-eng")
	eng, _ := m.SubjectIndex("eng")
	daily := rules.Hard[0]

	elsewhere := stubView{daily: map[[2]int]int{{tEng, 0}: 3}}
	assert.False(t, daily.Violated(Candidate{Teacher: tEng, Subject: eng, Slot: Slot{Day: 0}}, elsewhere))

	here := stubView{daily: map[[2]int]int{{tEng, 0}: 1}, streamDaily: map[[3]int]int{{tEng, 0, 0}: 1}}
	assert.True(t, daily.Violated(Candidate{Teacher: tEng, Subject: eng, Slot: Slot{Day: 0}}, here))
}

func TestCategoriesAreSorted(t *testing.T) {
	assert.Equal(t, []Category{
		CategoryMaxDailyLessons,
		CategoryPreferredPeriod,
		CategorySubjectBlock,
		CategoryTeacherUnavailable,
	}, Categories())
}

package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Category names a closed family of constraint predicates.
type Category string

const (
	CategoryTeacherUnavailable Category = "teacher-unavailable"
	CategoryMaxDailyLessons    Category = "max-daily-lessons"
	CategorySubjectBlock       Category = "subject-block"
	CategoryPreferredPeriod    Category = "preferred-period"
)

const anyIndex = -1

// Candidate is a prospective assignment expressed in model indices.
type Candidate struct {
	Stream  int
	Subject int
	Teacher int
	Slot    Slot
}

// ScheduleView is the read-only view of a partial schedule a rule may consult.
type ScheduleView interface {
	// TeacherLessonsOn returns the lessons already assigned to teacher on day.
	TeacherLessonsOn(teacher, day int) int
	// TeacherLessonsInStreamOn counts only the teacher's lessons in stream on day.
	TeacherLessonsInStreamOn(teacher, stream, day int) int
	// SubjectAt returns the subject occupying a stream's slot, if any.
	SubjectAt(stream int, slot Slot) (int, bool)
	// TeacherAt returns the teacher occupying a stream's slot, if any.
	TeacherAt(stream int, slot Slot) (int, bool)
}

// Rule is a compiled constraint. Index fields are anyIndex when the rule is not
// restricted along that axis; periods are zero-based and inclusive.
type Rule struct {
	RecordID    string
	Category    Category
	Level       Level
	Weight      float64
	StreamScope int
	Teacher     int
	Subject     int
	Other       int
	Day         int
	PeriodFrom  int
	PeriodTo    int
	Max         int

	breaches func(r *Rule, c Candidate, view ScheduleView) int
}

// Violated reports whether placing c on top of view breaks the rule.
func (r *Rule) Violated(c Candidate, view ScheduleView) bool {
	return r.Breaches(c, view) > 0
}

// Breaches counts the violations placing c on top of view adds. Summed over
// every placement the total does not depend on placement order.
func (r *Rule) Breaches(c Candidate, view ScheduleView) int {
	if r.StreamScope != anyIndex && r.StreamScope != c.Stream {
		return 0
	}
	// subject-block pairs involve a neighbour's teacher as well
	if r.Teacher != anyIndex && r.Category != CategorySubjectBlock && c.Teacher != r.Teacher {
		return 0
	}
	return r.breaches(r, c, view)
}

// Blocks reports whether the rule forbids teacher from slot regardless of the
// partial schedule. Only unscoped teacher-unavailable rules qualify.
func (r *Rule) Blocks(teacher int, slot Slot) bool {
	if r.Category != CategoryTeacherUnavailable || r.StreamScope != anyIndex {
		return false
	}
	return r.Teacher == teacher && r.coversSlot(slot)
}

func (r *Rule) coversSlot(slot Slot) bool {
	if r.Day != anyIndex && r.Day != slot.Day {
		return false
	}
	return slot.Period >= r.PeriodFrom && slot.Period <= r.PeriodTo
}

func (r *Rule) String() string {
	return fmt.Sprintf("%s(%s, %s)", r.Category, r.RecordID, r.Level)
}

// RuleSet holds the compiled rules in record order.
type RuleSet struct {
	Hard []*Rule
	Soft []*Rule
}

type compileFunc func(r *Rule, spec RuleSpec, ctx *compileContext) error

type categorySpec struct {
	defaultLevel Level
	compile      compileFunc
}

var categories = map[Category]categorySpec{
	CategoryTeacherUnavailable: {defaultLevel: LevelHard, compile: compileTeacherUnavailable},
	CategoryMaxDailyLessons:    {defaultLevel: LevelHard, compile: compileMaxDailyLessons},
	CategorySubjectBlock:       {defaultLevel: LevelSoft, compile: compileSubjectBlock},
	CategoryPreferredPeriod:    {defaultLevel: LevelSoft, compile: compilePreferredPeriod},
}

// Categories lists the recognised rule categories in name order.
func Categories() []Category {
	names := make([]Category, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

type compileContext struct {
	model *Model
	grid  Grid
}

// Compile normalises constraint records into hard and soft rules. Any record it
// cannot express fails with an UnsupportedConstraint error naming the record.
func Compile(records []ConstraintRecord, m *Model, grid Grid) (*RuleSet, error) {
	ctx := &compileContext{model: m, grid: grid}
	set := &RuleSet{}
	for i, rec := range records {
		recordID := rec.ID
		if recordID == "" {
			recordID = fmt.Sprintf("#%d", i+1)
		}
		rule, err := ctx.compileRecord(recordID, rec)
		if err != nil {
			return nil, err
		}
		if rule.Level == LevelHard {
			set.Hard = append(set.Hard, rule)
		} else {
			set.Soft = append(set.Soft, rule)
		}
	}
	return set, nil
}

func (ctx *compileContext) compileRecord(recordID string, rec ConstraintRecord) (*Rule, error) {
	category := Category(strings.ToLower(strings.TrimSpace(rec.Rule.Category)))
	spec, ok := categories[category]
	if !ok {
		return nil, unsupportedf(recordID, "unrecognized rule category %q", rec.Rule.Category)
	}

	level := Level(strings.ToLower(strings.TrimSpace(string(rec.Level))))
	switch level {
	case "":
		level = spec.defaultLevel
	case LevelHard, LevelSoft:
	default:
		return nil, unsupportedf(recordID, "invalid level %q", rec.Level)
	}

	weight := rec.Weight
	if weight < 0 {
		return nil, unsupportedf(recordID, "negative weight %v", weight)
	}
	if weight == 0 {
		weight = 1
	}

	rule := &Rule{
		RecordID:    recordID,
		Category:    category,
		Level:       level,
		Weight:      weight,
		StreamScope: anyIndex,
		Teacher:     anyIndex,
		Subject:     anyIndex,
		Other:       anyIndex,
		Day:         anyIndex,
		PeriodFrom:  0,
		PeriodTo:    ctx.grid.PeriodsPerDay - 1,
	}

	params := rec.Rule
	if err := ctx.applyScope(rule, rec.Scope, &params); err != nil {
		return nil, err
	}
	if err := spec.compile(rule, params, ctx); err != nil {
		return nil, err
	}
	return rule, nil
}

func (ctx *compileContext) applyScope(rule *Rule, scope string, params *RuleSpec) error {
	scope = strings.TrimSpace(scope)
	if scope == "" || strings.EqualFold(scope, "global") {
		return nil
	}
	kind, id, found := strings.Cut(scope, ":")
	if !found || id == "" {
		return unsupportedf(rule.RecordID, "malformed scope %q", scope)
	}
	switch strings.ToLower(kind) {
	case "teacher":
		if params.Teacher != "" && params.Teacher != id {
			return unsupportedf(rule.RecordID, "scope %q conflicts with teacher %q", scope, params.Teacher)
		}
		params.Teacher = id
		if err := ctx.teacher(rule, id, true); err != nil {
			return err
		}
	case "stream":
		idx, ok := ctx.model.StreamIndex(id)
		if !ok {
			return unsupportedf(rule.RecordID, "scope references unknown stream %q", id)
		}
		rule.StreamScope = idx
	default:
		return unsupportedf(rule.RecordID, "unknown scope kind %q", kind)
	}
	return nil
}

func (ctx *compileContext) teacher(rule *Rule, id string, required bool) error {
	if id == "" {
		if required {
			return unsupportedf(rule.RecordID, "%s requires a teacher", rule.Category)
		}
		return nil
	}
	idx, ok := ctx.model.TeacherIndex(id)
	if !ok {
		return unsupportedf(rule.RecordID, "unknown teacher %q", id)
	}
	rule.Teacher = idx
	return nil
}

func (ctx *compileContext) subject(rule *Rule, id string) (int, error) {
	if id == "" {
		return anyIndex, unsupportedf(rule.RecordID, "%s requires a subject", rule.Category)
	}
	idx, ok := ctx.model.SubjectIndex(id)
	if !ok {
		return anyIndex, unsupportedf(rule.RecordID, "unknown subject %q", id)
	}
	return idx, nil
}

// periods resolves Period or PeriodFrom..PeriodTo (1-based) into the rule's
// zero-based range. With no period given the whole day is covered.
func (ctx *compileContext) periods(rule *Rule, spec RuleSpec, required bool) error {
	n := ctx.grid.PeriodsPerDay
	from, to := spec.PeriodFrom, spec.PeriodTo
	if spec.Period != 0 {
		if from != 0 || to != 0 {
			return unsupportedf(rule.RecordID, "period and periodFrom/periodTo are mutually exclusive")
		}
		from, to = spec.Period, spec.Period
	}
	if from == 0 && to == 0 {
		if required {
			return unsupportedf(rule.RecordID, "%s requires a period range", rule.Category)
		}
		return nil
	}
	if from == 0 {
		from = 1
	}
	if to == 0 {
		to = n
	}
	if from < 1 || to > n || from > to {
		return unsupportedf(rule.RecordID, "period range %d..%d outside 1..%d", from, to, n)
	}
	rule.PeriodFrom, rule.PeriodTo = from-1, to-1
	return nil
}

func (ctx *compileContext) day(rule *Rule, name string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	idx := ctx.grid.DayIndex(name)
	if idx < 0 {
		return unsupportedf(rule.RecordID, "unknown day %q", name)
	}
	rule.Day = idx
	return nil
}

func compileTeacherUnavailable(rule *Rule, spec RuleSpec, ctx *compileContext) error {
	if err := ctx.teacher(rule, spec.Teacher, true); err != nil {
		return err
	}
	if err := ctx.day(rule, spec.Day); err != nil {
		return err
	}
	if err := ctx.periods(rule, spec, false); err != nil {
		return err
	}
	rule.breaches = func(r *Rule, c Candidate, _ ScheduleView) int {
		return boolCount(r.coversSlot(c.Slot))
	}
	return nil
}

func compileMaxDailyLessons(rule *Rule, spec RuleSpec, ctx *compileContext) error {
	if err := ctx.teacher(rule, spec.Teacher, false); err != nil {
		return err
	}
	if spec.Max == nil {
		return unsupportedf(rule.RecordID, "%s requires max", rule.Category)
	}
	if *spec.Max < 0 {
		return unsupportedf(rule.RecordID, "max must not be negative")
	}
	rule.Max = *spec.Max
	rule.breaches = func(r *Rule, c Candidate, view ScheduleView) int {
		// a stream-scoped cap counts only that stream's lessons
		given := view.TeacherLessonsOn(c.Teacher, c.Slot.Day)
		if r.StreamScope != anyIndex {
			given = view.TeacherLessonsInStreamOn(c.Teacher, r.StreamScope, c.Slot.Day)
		}
		return boolCount(given+1 > r.Max)
	}
	return nil
}

func compileSubjectBlock(rule *Rule, spec RuleSpec, ctx *compileContext) error {
	subject, err := ctx.subject(rule, spec.Subject)
	if err != nil {
		return err
	}
	other, err := ctx.subject(rule, spec.NotAdjacentTo)
	if err != nil {
		return err
	}
	rule.Subject, rule.Other = subject, other
	rule.breaches = func(r *Rule, c Candidate, view ScheduleView) int {
		var neighbour int
		switch c.Subject {
		case r.Subject:
			neighbour = r.Other
		case r.Other:
			neighbour = r.Subject
		default:
			return 0
		}
		pairs := 0
		for _, delta := range [2]int{-1, 1} {
			adjacent := Slot{Day: c.Slot.Day, Period: c.Slot.Period + delta}
			if adjacent.Period < 0 {
				continue
			}
			s, ok := view.SubjectAt(c.Stream, adjacent)
			if !ok || s != neighbour {
				continue
			}
			// a teacher-scoped block covers pairs where either lesson is theirs
			if r.Teacher != anyIndex && c.Teacher != r.Teacher {
				if t, ok := view.TeacherAt(c.Stream, adjacent); !ok || t != r.Teacher {
					continue
				}
			}
			pairs++
		}
		return pairs
	}
	return nil
}

func compilePreferredPeriod(rule *Rule, spec RuleSpec, ctx *compileContext) error {
	subject, err := ctx.subject(rule, spec.Subject)
	if err != nil {
		return err
	}
	rule.Subject = subject
	if err := ctx.periods(rule, spec, true); err != nil {
		return err
	}
	rule.breaches = func(r *Rule, c Candidate, _ ScheduleView) int {
		if c.Subject != r.Subject {
			return 0
		}
		return boolCount(c.Slot.Period < r.PeriodFrom || c.Slot.Period > r.PeriodTo)
	}
	return nil
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"
)

var (
	errStepBudget  = errors.New("step budget exhausted")
	errTimeBudget  = errors.New("time budget exhausted")
	errImproveDone = errors.New("improvement budget exhausted")
)

const penaltyEpsilon = 1e-9

type solveParams struct {
	maxSteps         int
	improvementSteps int
	deadline         time.Time
	seed             int64
	weights          Weights
}

type placement struct {
	Candidate
	index      int
	penalty    float64
	slotRank   int
	teacherPos int
}

// group is one (stream, subject) requirement; its instances are placed in
// increasing slot order.
type group struct {
	stream   int
	subject  int
	required int
	placed   int
	last     int
	teachers []int
}

type groupStats struct {
	distinct int
	options  int
	dirty    bool
}

type frame struct {
	group    int
	cands    []placement
	next     int
	prevLast int
	placed   bool
}

type solution struct {
	lessons []Candidate
	penalty float64
	total   float64
}

// searcher owns the mutable state of one search: the teacher-busy matrix, the
// per-stream cells and the decision stack. It is never shared between goroutines.
type searcher struct {
	ctx   context.Context
	m     *Model
	grid  Grid
	p     solveParams
	hard  ruleIndex
	soft  ruleIndex
	slots int

	streams       []int
	groups        []group
	stats         []groupStats
	failures      []int
	streamGroups  map[int][]int
	teacherGroups map[int][]int
	slotRank      []int

	busy        [][]bool
	weekly      []int
	daily       [][]int
	cells       map[int][]int
	tutors      map[int][]int
	groupDay    [][]int
	streamDay   map[int][]int
	stack       []frame
	placed      int
	required    int
	penalty     float64
	offset      float64
	steps       int
	backtracks  int
	solutions   int
	firstSolved int
	best        *solution
	deepest     PartialScore
}

type ruleIndex struct {
	byTeacher map[int][]*Rule
	bySubject map[int][]*Rule
	global    []*Rule
}

func newRuleIndex(rules []*Rule) ruleIndex {
	idx := ruleIndex{byTeacher: map[int][]*Rule{}, bySubject: map[int][]*Rule{}}
	for _, r := range rules {
		switch {
		case r.Teacher != anyIndex && r.Category != CategorySubjectBlock:
			idx.byTeacher[r.Teacher] = append(idx.byTeacher[r.Teacher], r)
		case r.Subject != anyIndex:
			idx.bySubject[r.Subject] = append(idx.bySubject[r.Subject], r)
			if r.Other != anyIndex && r.Other != r.Subject {
				idx.bySubject[r.Other] = append(idx.bySubject[r.Other], r)
			}
		default:
			idx.global = append(idx.global, r)
		}
	}
	return idx
}

func (idx ruleIndex) each(c Candidate, fn func(r *Rule) bool) {
	for _, r := range idx.byTeacher[c.Teacher] {
		if !fn(r) {
			return
		}
	}
	for _, r := range idx.bySubject[c.Subject] {
		if !fn(r) {
			return
		}
	}
	for _, r := range idx.global {
		if !fn(r) {
			return
		}
	}
}

func newSearcher(ctx context.Context, m *Model, rules *RuleSet, grid Grid, streams []int, p solveParams) *searcher {
	s := &searcher{
		ctx:           ctx,
		m:             m,
		grid:          grid,
		p:             p,
		hard:          newRuleIndex(rules.Hard),
		soft:          newRuleIndex(rules.Soft),
		slots:         grid.Len(),
		streams:       streams,
		streamGroups:  map[int][]int{},
		teacherGroups: map[int][]int{},
		busy:          make([][]bool, len(m.Teachers)),
		weekly:        make([]int, len(m.Teachers)),
		daily:         make([][]int, len(m.Teachers)),
		cells:         map[int][]int{},
		tutors:        map[int][]int{},
		streamDay:     map[int][]int{},
	}
	for t := range m.Teachers {
		s.busy[t] = make([]bool, s.slots)
		s.daily[t] = make([]int, len(grid.Days))
	}

	var rng *rand.Rand
	if p.seed != 0 && len(streams) > 0 {
		rng = rand.New(rand.NewSource(p.seed ^ int64(streams[0]+1)*0x9E3779B9))
	}
	s.slotRank = make([]int, s.slots)
	for i := range s.slotRank {
		s.slotRank[i] = i
	}
	if rng != nil {
		for pos, idx := range rng.Perm(s.slots) {
			s.slotRank[idx] = pos
		}
	}

	for _, st := range streams {
		s.cells[st] = make([]int, s.slots)
		s.tutors[st] = make([]int, s.slots)
		s.streamDay[st] = make([]int, len(grid.Days))
		for _, req := range m.Streams[st].Requirements {
			teachers := append([]int(nil), m.Qualified(req.Subject)...)
			if rng != nil {
				rng.Shuffle(len(teachers), func(i, j int) { teachers[i], teachers[j] = teachers[j], teachers[i] })
			}
			gi := len(s.groups)
			s.groups = append(s.groups, group{
				stream:   st,
				subject:  req.Subject,
				required: req.WeeklyLessons,
				last:     -1,
				teachers: teachers,
			})
			s.streamGroups[st] = append(s.streamGroups[st], gi)
			for _, t := range teachers {
				s.teacherGroups[t] = append(s.teacherGroups[t], gi)
			}
			s.required += req.WeeklyLessons
		}
	}
	s.offset = balanceOffset(m, streams, len(grid.Days), p.weights.Balance)
	s.stats = make([]groupStats, len(s.groups))
	for i := range s.stats {
		s.stats[i].dirty = true
	}
	s.failures = make([]int, len(s.groups))
	s.groupDay = make([][]int, len(s.groups))
	for i := range s.groupDay {
		s.groupDay[i] = make([]int, len(grid.Days))
	}
	s.deepest = PartialScore{Required: s.required}
	return s
}

// TeacherLessonsOn implements ScheduleView.
func (s *searcher) TeacherLessonsOn(teacher, day int) int {
	return s.daily[teacher][day]
}

// TeacherLessonsInStreamOn implements ScheduleView.
func (s *searcher) TeacherLessonsInStreamOn(teacher, stream, day int) int {
	n := 0
	for p := 0; p < s.grid.PeriodsPerDay; p++ {
		if t, ok := s.cellAt(s.tutors, stream, Slot{Day: day, Period: p}); ok && t == teacher {
			n++
		}
	}
	return n
}

// SubjectAt implements ScheduleView.
func (s *searcher) SubjectAt(stream int, slot Slot) (int, bool) {
	return s.cellAt(s.cells, stream, slot)
}

// TeacherAt implements ScheduleView.
func (s *searcher) TeacherAt(stream int, slot Slot) (int, bool) {
	return s.cellAt(s.tutors, stream, slot)
}

// cellAt decodes a one-based cell value; zero marks an empty slot.
func (s *searcher) cellAt(layer map[int][]int, stream int, slot Slot) (int, bool) {
	if slot.Period < 0 || slot.Period >= s.grid.PeriodsPerDay || slot.Day < 0 || slot.Day >= len(s.grid.Days) {
		return 0, false
	}
	cells, ok := layer[stream]
	if !ok {
		return 0, false
	}
	v := cells[s.grid.Index(slot)]
	return v - 1, v > 0
}

func (s *searcher) run() (*solution, error) {
	for {
		var (
			ok  bool
			err error
		)
		switch {
		case s.placed == s.required:
			s.record()
			if s.p.improvementSteps <= 0 {
				return s.best, nil
			}
			ok, err = s.backtrack()
		default:
			gi, found := s.selectGroup()
			if !found {
				ok, err = s.backtrack()
				break
			}
			ok, err = s.push(gi)
			if err == nil && !ok {
				ok, err = s.backtrack()
			}
		}
		if err != nil {
			if s.best != nil {
				return s.best, nil
			}
			return nil, s.budgetError(err)
		}
		if !ok {
			if s.best != nil {
				return s.best, nil
			}
			return nil, s.infeasible()
		}
	}
}

// tick is called on every push and pop of the decision stack.
func (s *searcher) tick() error {
	s.steps++
	if s.best != nil && s.steps-s.firstSolved > s.p.improvementSteps {
		return errImproveDone
	}
	if s.p.maxSteps > 0 && s.steps > s.p.maxSteps {
		return errStepBudget
	}
	if !s.p.deadline.IsZero() && time.Now().After(s.p.deadline) {
		return errTimeBudget
	}
	return s.ctx.Err()
}

func (s *searcher) push(gi int) (bool, error) {
	if err := s.tick(); err != nil {
		return false, err
	}
	g := &s.groups[gi]
	s.stack = append(s.stack, frame{group: gi, cands: s.candidates(gi), prevLast: g.last})
	return s.advance()
}

// advance tries the next untried value of the top frame, popping it when exhausted.
func (s *searcher) advance() (bool, error) {
	top := &s.stack[len(s.stack)-1]
	if top.placed {
		s.unplace(top)
	}
	for top.next < len(top.cands) {
		pl := top.cands[top.next]
		top.next++
		if s.best != nil && s.penalty+pl.penalty+s.offset >= s.best.total-penaltyEpsilon {
			break
		}
		s.place(top, pl)
		return true, nil
	}
	s.failures[top.group]++
	s.stack = s.stack[:len(s.stack)-1]
	return false, s.tick()
}

func (s *searcher) backtrack() (bool, error) {
	s.backtracks++
	for len(s.stack) > 0 {
		ok, err := s.advance()
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (s *searcher) place(f *frame, pl placement) {
	g := &s.groups[f.group]
	t, day := pl.Teacher, pl.Slot.Day
	s.busy[t][pl.index] = true
	s.weekly[t]++
	s.daily[t][day]++
	s.cells[g.stream][pl.index] = g.subject + 1
	s.tutors[g.stream][pl.index] = t + 1
	s.groupDay[f.group][day]++
	s.streamDay[g.stream][day]++
	g.placed++
	g.last = pl.index
	s.placed++
	s.penalty += pl.penalty
	f.placed = true
	s.touch(g.stream, t)

	if s.placed > s.deepest.Placed {
		s.deepest.Placed = s.placed
		s.deepest.Penalty = s.penalty
		s.deepest.Steps = s.steps
	}
}

func (s *searcher) unplace(f *frame) {
	pl := f.cands[f.next-1]
	g := &s.groups[f.group]
	t, day := pl.Teacher, pl.Slot.Day
	s.busy[t][pl.index] = false
	s.weekly[t]--
	s.daily[t][day]--
	s.cells[g.stream][pl.index] = 0
	s.tutors[g.stream][pl.index] = 0
	s.groupDay[f.group][day]--
	s.streamDay[g.stream][day]--
	g.placed--
	g.last = f.prevLast
	s.placed--
	s.penalty -= pl.penalty
	f.placed = false
	s.touch(g.stream, t)
}

func (s *searcher) touch(stream, teacher int) {
	for _, gi := range s.streamGroups[stream] {
		s.stats[gi].dirty = true
	}
	for _, gi := range s.teacherGroups[teacher] {
		s.stats[gi].dirty = true
	}
}

// selectGroup picks the unfinished group with the least slack between legal
// slots and remaining instances. It reports false when some group can no
// longer be completed.
func (s *searcher) selectGroup() (int, bool) {
	chosen := -1
	var bestSlack, bestOptions int
	for gi := range s.groups {
		g := &s.groups[gi]
		remaining := g.required - g.placed
		if remaining == 0 {
			continue
		}
		st := &s.stats[gi]
		if st.dirty {
			st.distinct, st.options = s.countOptions(gi)
			st.dirty = false
		}
		if st.distinct < remaining {
			s.failures[gi]++
			return -1, false
		}
		slack := st.distinct - remaining
		if chosen < 0 || slack < bestSlack || (slack == bestSlack && st.options < bestOptions) {
			chosen, bestSlack, bestOptions = gi, slack, st.options
		}
	}
	return chosen, chosen >= 0
}

func (s *searcher) countOptions(gi int) (distinct, options int) {
	g := &s.groups[gi]
	for idx := g.last + 1; idx < s.slots; idx++ {
		slot, ok := s.openSlot(g, idx)
		if !ok {
			continue
		}
		found := false
		for _, t := range g.teachers {
			if s.legal(Candidate{Stream: g.stream, Subject: g.subject, Teacher: t, Slot: slot}, idx) {
				options++
				found = true
			}
		}
		if found {
			distinct++
		}
	}
	return distinct, options
}

func (s *searcher) candidates(gi int) []placement {
	g := &s.groups[gi]
	var out []placement
	for idx := g.last + 1; idx < s.slots; idx++ {
		slot, ok := s.openSlot(g, idx)
		if !ok {
			continue
		}
		for pos, t := range g.teachers {
			c := Candidate{Stream: g.stream, Subject: g.subject, Teacher: t, Slot: slot}
			if !s.legal(c, idx) {
				continue
			}
			out = append(out, placement{
				Candidate:  c,
				index:      idx,
				penalty:    s.cost(gi, c),
				slotRank:   s.slotRank[idx],
				teacherPos: pos,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.penalty != b.penalty {
			return a.penalty < b.penalty
		}
		if a.slotRank != b.slotRank {
			return a.slotRank < b.slotRank
		}
		return a.teacherPos < b.teacherPos
	})
	return out
}

func (s *searcher) openSlot(g *group, idx int) (Slot, bool) {
	slot := s.grid.SlotAt(idx)
	if slot.Period >= s.m.Streams[g.stream].PeriodsPerDay {
		return slot, false
	}
	return slot, s.cells[g.stream][idx] == 0
}

func (s *searcher) legal(c Candidate, idx int) bool {
	t := c.Teacher
	if s.busy[t][idx] || s.weekly[t] >= s.m.Teachers[t].MaxLessonsPerWeek {
		return false
	}
	ok := true
	s.hard.each(c, func(r *Rule) bool {
		if r.Violated(c, s) {
			ok = false
		}
		return ok
	})
	return ok
}

// cost is the additive penalty increment of placing c on the current state.
func (s *searcher) cost(gi int, c Candidate) float64 {
	var pen float64
	s.soft.each(c, func(r *Rule) bool {
		pen += r.Weight * float64(r.Breaches(c, s))
		return true
	})
	w := s.p.weights
	if w.DifficultAdjacency > 0 && s.m.Subjects[c.Subject].Difficult {
		for _, delta := range [2]int{-1, 1} {
			subject, ok := s.SubjectAt(c.Stream, Slot{Day: c.Slot.Day, Period: c.Slot.Period + delta})
			if ok && s.m.Subjects[subject].Difficult {
				pen += w.DifficultAdjacency
			}
		}
	}
	pen += w.SameDayRepeat * float64(s.groupDay[gi][c.Slot.Day])
	pen += w.Balance * 2 * float64(s.streamDay[c.Stream][c.Slot.Day]) / float64(len(s.grid.Days))
	if s.weekly[c.Teacher] >= s.m.Teachers[c.Teacher].WorkloadTarget {
		pen += w.Workload
	}
	return pen
}

// balanceOffset is the constant part of the daily-load variance. Placing a
// lesson on a day already holding k lessons of its stream raises the variance
// by 2k/days, so variance = sum(2k/days) + mean - mean^2 for a fixed lesson count.
func balanceOffset(m *Model, streams []int, days int, weight float64) float64 {
	var offset float64
	for _, st := range streams {
		n := 0
		for _, req := range m.Streams[st].Requirements {
			n += req.WeeklyLessons
		}
		mean := float64(n) / float64(days)
		offset += weight * (mean - mean*mean)
	}
	return offset
}

func (s *searcher) record() {
	total := s.penalty + s.offset
	s.solutions++
	if s.best != nil && total >= s.best.total-penaltyEpsilon {
		return
	}
	if s.best == nil {
		s.firstSolved = s.steps
	}
	lessons := make([]Candidate, 0, s.required)
	for _, f := range s.stack {
		if f.placed {
			lessons = append(lessons, f.cands[f.next-1].Candidate)
		}
	}
	s.best = &solution{lessons: lessons, penalty: s.penalty, total: total}
}

func (s *searcher) budgetError(cause error) *SchedulingError {
	partial := s.deepest
	if partial.Steps == 0 {
		partial.Steps = s.steps
	}
	return &SchedulingError{
		Kind:    KindBudgetExceeded,
		Message: fmt.Sprintf("search stopped after %d steps with %d of %d lessons placed", s.steps, partial.Placed, partial.Required),
		Partial: &partial,
		Err:     cause,
	}
}

// infeasible names the group that caused the most dead ends.
func (s *searcher) infeasible() *SchedulingError {
	worst := -1
	for gi, n := range s.failures {
		if worst < 0 || n > s.failures[worst] {
			worst = gi
		}
	}
	if worst < 0 {
		return infeasiblef(Scope{}, "no complete assignment exists")
	}
	g := s.groups[worst]
	stream := s.m.Streams[g.stream]
	subject := s.m.Subjects[g.subject]
	scope := Scope{StreamID: stream.ID, SubjectID: subject.ID}
	for _, t := range s.m.Qualified(g.subject) {
		scope.TeacherIDs = append(scope.TeacherIDs, s.m.Teachers[t].ID)
	}
	if len(scope.TeacherIDs) == 1 {
		scope.TeacherID = scope.TeacherIDs[0]
	}
	return infeasiblef(scope,
		"no complete assignment: stream %q cannot place %d weekly lessons of %q with teachers %v",
		stream.ID, g.required, subject.ID, scope.TeacherIDs)
}

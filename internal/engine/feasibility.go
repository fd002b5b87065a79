package engine

import "math"

// diagnose runs cheap necessary-condition checks before search so that obvious
// infeasibility is reported with its bottleneck instead of after an exhaustive search.
func diagnose(m *Model, rules *RuleSet, grid Grid) error {
	for _, stream := range m.Streams {
		demand := 0
		for _, req := range stream.Requirements {
			demand += req.WeeklyLessons
		}
		if capacity := stream.PeriodsPerDay * len(grid.Days); demand > capacity {
			return infeasiblef(Scope{StreamID: stream.ID},
				"stream %q requires %d weekly lessons but has only %d slots", stream.ID, demand, capacity)
		}
	}

	capacity := make([]int, len(m.Teachers))
	for t := range m.Teachers {
		capacity[t] = teacherCapacity(m, rules, grid, t)
	}

	demand := make([]int, len(m.Subjects))
	firstStream := make([]string, len(m.Subjects))
	for _, stream := range m.Streams {
		for _, req := range stream.Requirements {
			demand[req.Subject] += req.WeeklyLessons
			if firstStream[req.Subject] == "" {
				firstStream[req.Subject] = stream.ID
			}
		}
	}
	for subject, need := range demand {
		if need == 0 {
			continue
		}
		supply := 0
		scope := Scope{StreamID: firstStream[subject], SubjectID: m.Subjects[subject].ID}
		for _, t := range m.Qualified(subject) {
			supply += capacity[t]
			scope.TeacherIDs = append(scope.TeacherIDs, m.Teachers[t].ID)
		}
		if need > supply {
			if len(scope.TeacherIDs) == 1 {
				scope.TeacherID = scope.TeacherIDs[0]
			}
			return infeasiblef(scope,
				"subject %q needs %d weekly lessons but qualified teachers %v can give at most %d",
				m.Subjects[subject].ID, need, scope.TeacherIDs, supply)
		}
	}

	// Lessons only one teacher can give must fit into that teacher's week.
	sole := make([]int, len(m.Teachers))
	for subject, need := range demand {
		if q := m.Qualified(subject); need > 0 && len(q) == 1 {
			sole[q[0]] += need
		}
	}
	for t, need := range sole {
		if need > capacity[t] {
			teacher := m.Teachers[t]
			return infeasiblef(Scope{TeacherID: teacher.ID, TeacherIDs: []string{teacher.ID}},
				"teacher %q is the only qualified teacher for %d weekly lessons but can give at most %d",
				teacher.ID, need, capacity[t])
		}
	}
	return nil
}

// teacherCapacity bounds the lessons a teacher can give in a week from the
// weekly cap, unscoped daily caps and unscoped unavailability.
func teacherCapacity(m *Model, rules *RuleSet, grid Grid, t int) int {
	dailyMax := math.MaxInt
	for _, r := range rules.Hard {
		if r.Category != CategoryMaxDailyLessons || r.StreamScope != anyIndex {
			continue
		}
		if r.Teacher == anyIndex || r.Teacher == t {
			dailyMax = min(dailyMax, r.Max)
		}
	}
	total := 0
	for d := range grid.Days {
		free := 0
		for p := 0; p < grid.PeriodsPerDay; p++ {
			slot := Slot{Day: d, Period: p}
			blocked := false
			for _, r := range rules.Hard {
				if r.Blocks(t, slot) {
					blocked = true
					break
				}
			}
			if !blocked {
				free++
			}
		}
		total += min(free, dailyMax)
	}
	return min(total, m.Teachers[t].MaxLessonsPerWeek)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// components splits streams into groups that share no qualified teacher. Each
// group can be searched independently because their teacher-busy rows never overlap.
func components(m *Model) [][]int {
	parent := make([]int, len(m.Streams))
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	owner := make([]int, len(m.Teachers))
	for i := range owner {
		owner[i] = -1
	}
	for st, stream := range m.Streams {
		for _, req := range stream.Requirements {
			for _, t := range m.Qualified(req.Subject) {
				if owner[t] < 0 {
					owner[t] = st
					continue
				}
				union(owner[t], st)
			}
		}
	}

	byRoot := map[int][]int{}
	for st := range m.Streams {
		root := find(st)
		byRoot[root] = append(byRoot[root], st)
	}
	out := make([][]int, 0, len(byRoot))
	for _, streams := range byRoot {
		out = append(out, streams)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// SolveStats summarises the search effort of a run.
type SolveStats struct {
	Steps      int `json:"steps"`
	Backtracks int `json:"backtracks"`
	Solutions  int `json:"solutions"`
	Components int `json:"components"`
}

type componentResult struct {
	sol      *solution
	err      error
	searcher *searcher
}

// search runs every stream component and merges the best solutions. The
// outcome is identical whether components run serially or in parallel.
func search(ctx context.Context, m *Model, rules *RuleSet, grid Grid, p solveParams, parallel bool, log *zap.Logger) ([]Candidate, SolveStats, error) {
	if err := diagnose(m, rules, grid); err != nil {
		return nil, SolveStats{}, err
	}

	parts := components(m)
	results := make([]componentResult, len(parts))
	solve := func(i int) {
		s := newSearcher(ctx, m, rules, grid, parts[i], p)
		sol, err := s.run()
		results[i] = componentResult{sol: sol, err: err, searcher: s}
		log.Debug("component searched",
			zap.Int("component", i),
			zap.Int("streams", len(parts[i])),
			zap.Int("steps", s.steps),
			zap.Int("backtracks", s.backtracks),
			zap.Bool("solved", sol != nil),
		)
	}

	if parallel && len(parts) > 1 {
		var wg sync.WaitGroup
		for i := range parts {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				solve(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range parts {
			solve(i)
		}
	}

	stats := SolveStats{Components: len(parts)}
	var (
		lessons []Candidate
		failed  *SchedulingError
		partial = PartialScore{}
	)
	for _, res := range results {
		s := res.searcher
		stats.Steps += s.steps
		stats.Backtracks += s.backtracks
		stats.Solutions += s.solutions
		partial.Required += s.required
		partial.Steps += s.steps
		if res.err != nil {
			if failed == nil {
				failed = asSchedulingError(res.err)
			}
			partial.Placed += s.deepest.Placed
			partial.Penalty += s.deepest.Penalty
			continue
		}
		partial.Placed += s.required
		partial.Penalty += res.sol.total
		lessons = append(lessons, res.sol.lessons...)
	}
	if failed != nil {
		if failed.Kind == KindBudgetExceeded {
			failed.Partial = &partial
			failed.Message = fmt.Sprintf("search budget exhausted after %d steps with %d of %d lessons placed",
				partial.Steps, partial.Placed, partial.Required)
		}
		return nil, stats, failed
	}
	return lessons, stats, nil
}

func asSchedulingError(err error) *SchedulingError {
	var se *SchedulingError
	if errors.As(err, &se) {
		return se
	}
	return &SchedulingError{Kind: KindBudgetExceeded, Message: err.Error(), Err: err}
}
